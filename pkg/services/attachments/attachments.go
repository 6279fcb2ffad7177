// Package attachments talks to the attachment metadata API: metadata lookup,
// status updates and source document download.
package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// Largest source document accepted by Download.
const maxDownloadBytes = 256 << 20

// Client is the HTTP attachment gateway.
type Client struct {
	baseURL string
	hc      *http.Client
	dl      *http.Client
}

// NewClient returns a gateway rooted at baseURL (the API_URL). Metadata calls
// use timeout; downloads get a fixed 60s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		dl:      &http.Client{Timeout: 60 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) url(id int64) string {
	return c.baseURL + "/api/v1/processor/attachments/" + strconv.FormatInt(id, 10)
}

// Get fetches the metadata of attachment id.
func (c *Client) Get(ctx context.Context, id int64) (models.Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(id), nil)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("attachment %d: %v: %w", id, err, errdefs.ErrGateway)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(c.hc, req)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("attachment %d: %w", id, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.Attachment{}, fmt.Errorf("attachment %d: decode: %v: %w", id, err, errdefs.ErrGateway)
	}
	if !env.Success {
		return models.Attachment{}, fmt.Errorf("attachment %d: api returned success=false %s: %w", id, env.Error, errdefs.ErrGateway)
	}
	var a models.Attachment
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return models.Attachment{}, fmt.Errorf("attachment %d: empty data: %w", id, errdefs.ErrGateway)
	}
	if err := json.Unmarshal(env.Data, &a); err != nil {
		return models.Attachment{}, fmt.Errorf("attachment %d: decode data: %v: %w", id, err, errdefs.ErrGateway)
	}
	if a.ID == 0 {
		a.ID = id
	}
	if strings.TrimSpace(a.Filename) == "" {
		a.Filename = fmt.Sprintf("attachment_%d.pdf", id)
	}
	return a, nil
}

// UpdateStatus reports the lifecycle status of attachment id.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status models.AttachmentStatus) error {
	payload, err := json.Marshal(map[string]string{"status": string(status)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.url(id), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("update status %d: %v: %w", id, err, errdefs.ErrGateway)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(c.hc, req); err != nil {
		return fmt.Errorf("update status %d to %s: %w", id, status, err)
	}
	return nil
}

// Download reads the source document at fileURL into memory.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	if strings.TrimSpace(fileURL) == "" {
		return nil, fmt.Errorf("download: empty file url: %w", errdefs.ErrValidation)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %v: %w", err, errdefs.ErrValidation)
	}
	body, err := c.do(c.dl, req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	return body, nil
}

func (c *Client) do(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Redacted(), err, errdefs.ErrGateway)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %v: %w", req.Method, req.URL.Redacted(), err, errdefs.ErrGateway)
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("%s %s: body exceeds %d bytes: %w", req.Method, req.URL.Redacted(), maxDownloadBytes, errdefs.ErrGateway)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), errdefs.ErrNotFound)
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("%s %s: status %d: %s: %w", req.Method, req.URL.Redacted(), resp.StatusCode, snippet(body), errdefs.ErrGateway)
	}
	return body, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
