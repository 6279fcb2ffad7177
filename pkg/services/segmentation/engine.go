package segmentation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"invoice-split/pkg/config"
	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/metrics"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/classifier"
)

// Options tunes an Engine.
type Options struct {
	// MaxWindow caps how many pages one invoice may span (1..10, default 10).
	MaxWindow int
	// Document is passed to the classifier with every window.
	Document string
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Engine runs the window search over one document. It keeps no mutable
// state between windows.
type Engine struct {
	classifier classifier.Classifier
	maxWindow  int
	document   string
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// EmitFunc receives each group as soon as its window is accepted, in page
// order. Returning an error stops segmentation.
type EmitFunc func(g models.InvoiceGroup, d Decision) error

// NewEngine creates an engine that consults c for every candidate window.
func NewEngine(c classifier.Classifier, opts Options) *Engine {
	mw := opts.MaxWindow
	if mw <= 0 || mw > config.MaxWindowCap {
		mw = config.MaxWindowCap
	}
	return &Engine{
		classifier: c,
		maxWindow:  mw,
		document:   opts.Document,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Segment partitions pages into contiguous groups and hands each to emit.
// Pages must be ordered with pages[k].Index == k.
func (e *Engine) Segment(ctx context.Context, pages []models.Page, emit EmitFunc) error {
	for k, p := range pages {
		if p.Index != k {
			return fmt.Errorf("page at position %d has index %d: %w", k, p.Index, errdefs.ErrInvariant)
		}
	}

	n := len(pages)
	for i := 0; i < n; {
		d := e.decideAt(ctx, pages, i)
		g := models.InvoiceGroup{
			PageIndices: pageRange(i, d.Size),
			Record:      d.Result.Record.Clone(),
			Boundary:    d.Result.Boundary,
		}
		e.metrics.RecordGroup(string(d.Reason))
		e.log.Info().
			Ints("pages", g.PageIndices).
			Str("reason", string(d.Reason)).
			Str("invoice_number", g.Record.Number()).
			Float64("confidence", g.Boundary.Confidence).
			Msg("invoice window accepted")

		if err := emit(g, d); err != nil {
			return err
		}
		i += d.Size
	}
	return nil
}

// SegmentAll collects the groups Segment would emit.
func (e *Engine) SegmentAll(ctx context.Context, pages []models.Page) ([]models.InvoiceGroup, error) {
	var groups []models.InvoiceGroup
	err := e.Segment(ctx, pages, func(g models.InvoiceGroup, _ Decision) error {
		groups = append(groups, g)
		return nil
	})
	return groups, err
}

// decideAt grows the window at cursor i smallest-first until the tracker
// accepts one or the size limit is reached.
func (e *Engine) decideAt(ctx context.Context, pages []models.Page, i int) Decision {
	limit := min(e.maxWindow, len(pages)-i)
	var t Tracker
	for size := 1; size <= limit; size++ {
		res := e.classify(ctx, pages, i, size)
		if d, ok := t.Observe(size, res); ok {
			return d
		}
	}
	return t.Finish()
}

// classify issues one classifier call. Any failure is replaced by the neutral
// result so the search always terminates.
func (e *Engine) classify(ctx context.Context, pages []models.Page, i, size int) models.WindowResult {
	w := models.Window{
		Document:    e.document,
		Pages:       pages[i : i+size],
		PageNumbers: make([]int, size),
		TotalPages:  len(pages),
	}
	for k := range w.PageNumbers {
		w.PageNumbers[k] = i + k + 1
	}

	e.log.Debug().Int("first_page", i+1).Int("last_page", i+size).Msg("analyzing window")
	start := time.Now()
	res, err := e.classifier.Classify(ctx, w)
	if err != nil {
		e.metrics.RecordOracleCall(true, time.Since(start))
		e.log.Warn().Err(err).
			Int("first_page", i+1).
			Int("last_page", i+size).
			Msg("classifier failed, using neutral result")
		return models.NeutralResult(err)
	}
	e.metrics.RecordOracleCall(false, time.Since(start))
	return res
}

func pageRange(start, size int) []int {
	out := make([]int, size)
	for k := range out {
		out[k] = start + k
	}
	return out
}
