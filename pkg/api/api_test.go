package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-split/pkg/metrics"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/pipeline"
	"invoice-split/pkg/services/queue"
	"invoice-split/pkg/services/records"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProc struct{}

func (fakeProc) ProcessAttachment(_ context.Context, id int64) (pipeline.Result, error) {
	if id == 13 {
		return pipeline.Result{AttachmentID: id, Status: models.StatusFailed, Error: "corrupt"}, errors.New("corrupt")
	}
	return pipeline.Result{
		AttachmentID: id,
		Status:       models.StatusSuccess,
		Groups:       []pipeline.GroupOutput{{Pages: []int{0, 1}, InvoiceNumber: "A"}},
	}, nil
}

type fakeLister struct {
	got records.ListFilter
	err error
}

func (f *fakeLister) List(_ context.Context, filter records.ListFilter) ([]models.Invoice, error) {
	f.got = filter
	if f.err != nil {
		return nil, f.err
	}
	return []models.Invoice{{AttachmentID: filter.AttachmentID, InvoiceNumber: models.String("A")}}, nil
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newRouter(l InvoiceLister) *gin.Engine {
	return NewRouter(&Handler{Processor: fakeProc{}, Invoices: l, Metrics: metrics.New(), Concurrency: 2, Logger: zerolog.Nop()})
}

func TestProcessAttachment(t *testing.T) {
	r := newRouter(nil)

	w := serve(r, http.MethodPost, "/attachments/7/process", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(7), res.AttachmentID)
	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.Equal(t, []int{0, 1}, res.Groups[0].Pages)

	w = serve(r, http.MethodPost, "/attachments/13/process", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"failed"`)

	w = serve(r, http.MethodPost, "/attachments/abc/process", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessBatch(t *testing.T) {
	r := newRouter(nil)

	w := serve(r, http.MethodPost, "/attachments/batch", `{"attachment_ids": [1, 13, 2]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var s queue.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 2, s.ProcessedCount)
	assert.Equal(t, 1, s.FailedCount)
	assert.Equal(t, int64(13), s.Failed[0].AttachmentID)

	w = serve(r, http.MethodPost, "/attachments/batch", `{"attachment_ids": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(r, http.MethodPost, "/attachments/batch", `{"attachment_ids": [0]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetInvoices(t *testing.T) {
	l := &fakeLister{}
	r := newRouter(l)

	w := serve(r, http.MethodGet, "/invoices?attachment_id=9&invoice_number=A&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, records.ListFilter{AttachmentID: 9, InvoiceNumber: "A", Limit: 5}, l.got)
	var invoices []models.Invoice
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &invoices))
	require.Len(t, invoices, 1)
	assert.Equal(t, int64(9), invoices[0].AttachmentID)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/invoices?limit=x", "").Code)

	l.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/invoices", "").Code)
}

func TestGetInvoicesWithoutDB(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, serve(newRouter(nil), http.MethodGet, "/invoices", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(nil)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)

	serve(r, http.MethodPost, "/attachments/1/process", "")
	w := serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
