package attachments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/v1/processor/attachments/12":
			w.Write([]byte(`{"success": true, "data": {"id": 12, "filename": "scan.pdf", "fileUrl": "https://files/x.pdf", "status": "pending"}}`))
		case "/api/v1/processor/attachments/13":
			w.Write([]byte(`{"success": true, "data": {"fileUrl": "https://files/y.pdf"}}`))
		case "/api/v1/processor/attachments/14":
			w.Write([]byte(`{"success": false, "error": "locked"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL+"/", time.Second)

	a, err := c.Get(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, models.Attachment{ID: 12, Filename: "scan.pdf", FileURL: "https://files/x.pdf", Status: "pending"}, a)

	a, err = c.Get(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, "attachment_13.pdf", a.Filename)
	assert.Equal(t, int64(13), a.ID)

	_, err = c.Get(context.Background(), 14)
	assert.True(t, errors.Is(err, errdefs.ErrGateway))
	assert.Contains(t, err.Error(), "locked")

	_, err = c.Get(context.Background(), 99)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	assert.Equal(t, errdefs.KindGateway, errdefs.Classify(err))
}

func TestUpdateStatus(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/processor/attachments/5", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, time.Second).UpdateStatus(context.Background(), 5, models.StatusProcessing))
	assert.Equal(t, map[string]string{"status": "processing"}, got)
}

func TestUpdateStatusServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).UpdateStatus(context.Background(), 5, models.StatusFailed)
	require.Error(t, err)
	assert.False(t, errdefs.IsFatal(err))
	assert.Contains(t, err.Error(), "status 500")
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	data, err := c.Download(context.Background(), srv.URL+"/files/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	_, err = c.Download(context.Background(), " ")
	assert.True(t, errors.Is(err, errdefs.ErrValidation))
}

func TestTransportFailureIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Get(context.Background(), 1)
	assert.True(t, errors.Is(err, errdefs.ErrGateway))
}
