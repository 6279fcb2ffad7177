package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoice-split/pkg/errdefs"
)

// Statuses on which the batch endpoint is treated as unavailable.
var batchUnavailable = map[int]bool{
	http.StatusNotFound:           true,
	http.StatusMethodNotAllowed:   true,
	http.StatusNotImplemented:     true,
	http.StatusServiceUnavailable: true,
}

// APIStore creates records through the processor API.
type APIStore struct {
	baseURL string
	hc      *http.Client
	log     zerolog.Logger
}

// NewAPIStore returns a store posting to baseURL (the API_URL).
func NewAPIStore(baseURL string, timeout time.Duration, log zerolog.Logger) *APIStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Batches may be large; give them twice the single-call timeout.
		hc:  &http.Client{Timeout: 2 * timeout},
		log: log,
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d: %s", e.status, e.body) }

// CreateBatch posts all entries in one call, falling back to one call per
// entry when the batch endpoint is unavailable.
func (s *APIStore) CreateBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	items := make([]payload, len(entries))
	for i, e := range entries {
		items[i] = toPayload(e)
	}
	err := s.post(ctx, "/api/v1/processor/invoices/batch", map[string]any{"invoices": items})
	if err == nil {
		s.log.Info().Int("count", len(entries)).Msg("created invoice records in batch")
		return nil
	}
	var se *statusError
	if errors.As(err, &se) && !batchUnavailable[se.status] {
		return fmt.Errorf("create invoice batch: %v: %w", err, errdefs.ErrGateway)
	}

	s.log.Warn().Err(err).Int("count", len(entries)).Msg("batch endpoint unavailable, creating records individually")
	var errs []error
	for i, p := range items {
		if err := s.post(ctx, "/api/v1/processor/invoices", p); err != nil {
			s.log.Warn().Err(err).Int("position", i+1).Msg("failed to create invoice record")
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("create invoice records: %v: %w", err, errdefs.ErrGateway)
	}
	return nil
}

func (s *APIStore) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
