// Package pipeline runs one attachment from download to stored artifacts and
// reports its lifecycle status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/logger"
	"invoice-split/pkg/metrics"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/artifacts"
	"invoice-split/pkg/services/classifier"
	"invoice-split/pkg/services/consolidation"
	"invoice-split/pkg/services/integrity"
	"invoice-split/pkg/services/records"
	"invoice-split/pkg/services/render"
	"invoice-split/pkg/services/segmentation"
	"invoice-split/pkg/services/storage"
)

// AttachmentGateway is the metadata API the pipeline reads from and reports to.
type AttachmentGateway interface {
	Get(ctx context.Context, id int64) (models.Attachment, error)
	UpdateStatus(ctx context.Context, id int64, status models.AttachmentStatus) error
	Download(ctx context.Context, fileURL string) ([]byte, error)
}

// Deps are the collaborators of a Service. Storage and Records may be nil,
// in which case uploads or record creation are skipped.
type Deps struct {
	Attachments AttachmentGateway
	Rasterizer  render.Rasterizer
	Classifier  classifier.Classifier
	Storage     storage.Store
	Records     records.Store
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Options tunes a Service.
type Options struct {
	OutputDir string
	MaxWindow int
	// StatusTimeout bounds the terminal status report, which runs even when
	// the run's context is already cancelled.
	StatusTimeout time.Duration
}

// Service processes attachments. It holds no per-run state and may run
// several attachments concurrently.
type Service struct {
	deps Deps
	opts Options
	log  zerolog.Logger
}

// New returns a Service.
func New(deps Deps, opts Options) *Service {
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 30 * time.Second
	}
	return &Service{deps: deps, opts: opts, log: logger.Component(deps.Logger, "pipeline")}
}

// GroupOutput describes one final invoice group of a run.
type GroupOutput struct {
	Pages         []int   `json:"pages"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	Confidence    float64 `json:"confidence"`
	PDFPath       string  `json:"pdf_path"`
	JSONPath      string  `json:"json_path"`
	PDFKey        string  `json:"s3_pdf_key,omitempty"`
	JSONKey       string  `json:"s3_json_key,omitempty"`
}

// Result is the outcome of one attempt.
type Result struct {
	AttachmentID int64                   `json:"attachment_id"`
	RunID        string                  `json:"run_id"`
	Status       models.AttachmentStatus `json:"status"`
	Groups       []GroupOutput           `json:"groups"`
	OutputFiles  []string                `json:"output_files"`
	Warnings     []string                `json:"warnings,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// OK reports whether at least one artifact was produced.
func (r Result) OK() bool { return r.Status == models.StatusSuccess }

// ProcessAttachment fetches attachment id, processes its document and
// reports the terminal status. The returned error is the fatal cause of a
// failed attempt; warnings are collected in the Result.
func (s *Service) ProcessAttachment(ctx context.Context, id int64) (Result, error) {
	r := s.newRun(id)
	s.deps.Metrics.AttachmentStarted()
	r.log.Info().Msg("processing attachment")
	r.report(ctx, s, models.StatusProcessing)

	err := s.fetchAndProcess(ctx, r)
	return s.finish(ctx, r, err)
}

// ProcessDocument processes a document that is already in memory, reporting
// status for id like ProcessAttachment does.
func (s *Service) ProcessDocument(ctx context.Context, id int64, doc models.Document) (Result, error) {
	r := s.newRun(id)
	s.deps.Metrics.AttachmentStarted()
	r.log.Info().Str("document", doc.Name).Msg("processing document")
	r.report(ctx, s, models.StatusProcessing)

	err := s.process(ctx, r, doc)
	return s.finish(ctx, r, err)
}

func (s *Service) fetchAndProcess(ctx context.Context, r *run) error {
	if s.deps.Attachments == nil {
		return fmt.Errorf("no attachment gateway configured: %w", errdefs.ErrValidation)
	}
	att, err := s.deps.Attachments.Get(ctx, r.id)
	if err != nil {
		s.deps.Metrics.RecordGatewayFailure("attachments")
		return fmt.Errorf("fetch metadata: %w", err)
	}
	if att.FileURL == "" {
		return fmt.Errorf("attachment %d has no file url: %w", r.id, errdefs.ErrValidation)
	}
	r.log.Info().Str("filename", att.Filename).Msg("downloading document")
	data, err := s.deps.Attachments.Download(ctx, att.FileURL)
	if err != nil {
		s.deps.Metrics.RecordGatewayFailure("download")
		return fmt.Errorf("download %s: %w", att.Filename, err)
	}
	return s.process(ctx, r, models.Document{Name: att.Filename, Data: data})
}

func (s *Service) finish(ctx context.Context, r *run, err error) (Result, error) {
	res := r.result
	switch {
	case err != nil:
		res.Status = models.StatusFailed
		res.Error = err.Error()
		r.log.Error().Err(err).Str("kind", string(errdefs.Classify(err))).Msg("attachment failed")
	case len(res.Groups) == 0:
		res.Status = models.StatusFailed
		err = errors.New("no invoices produced")
		res.Error = err.Error()
		r.log.Error().Msg("no invoices produced")
	default:
		res.Status = models.StatusSuccess
		r.log.Info().Int("invoices", len(res.Groups)).Int("warnings", len(res.Warnings)).Msg("attachment processed")
	}
	r.report(ctx, s, res.Status)
	s.deps.Metrics.AttachmentFinished(string(res.Status))
	return res, err
}

func (s *Service) process(ctx context.Context, r *run, doc models.Document) error {
	doc, err := integrity.NewGuard(r.log).Ensure(doc)
	if err != nil {
		s.quarantine(r, doc)
		return err
	}

	pages, err := s.deps.Rasterizer.Render(ctx, doc)
	if err != nil {
		s.quarantine(r, doc)
		return err
	}
	if len(pages) != doc.PageCount {
		s.quarantine(r, doc)
		return fmt.Errorf("rendered %d pages, document has %d: %w", len(pages), doc.PageCount, errdefs.ErrRender)
	}
	r.log.Info().Int("pages", len(pages)).Msg("document rendered")

	w, err := artifacts.NewWriter(s.opts.OutputDir, r.id, doc)
	if err != nil {
		return err
	}
	cons := consolidation.New()
	engine := segmentation.NewEngine(s.deps.Classifier, segmentation.Options{
		MaxWindow: s.opts.MaxWindow,
		Document:  r.result.RunID,
		Logger:    logger.Component(r.log, "segmentation"),
		Metrics:   s.deps.Metrics,
	})

	err = engine.Segment(ctx, pages, func(g models.InvoiceGroup, d segmentation.Decision) error {
		if d.Reason == segmentation.ReasonForced {
			r.warn("pages %v: no invoice start detected, kept as a single page", g.PageIndices)
		}
		out := cons.Add(g)
		merged := cons.Group(out.Index)
		if out.Merged {
			s.deps.Metrics.RecordMerge()
			r.log.Info().
				Str("invoice_number", merged.Record.Number()).
				Ints("added", out.Added).
				Ints("pages", merged.PageIndices).
				Msg("merging duplicate invoice")
			_, err := w.Extend(out.Index, merged, out.Added)
			return err
		}
		a, err := w.Create(out.Index, merged)
		if err == nil {
			r.log.Info().Str("pdf", a.PDFName()).Ints("pages", merged.PageIndices).Msg("artifact written")
		}
		return err
	})
	if err != nil {
		return err
	}

	groups := cons.Groups()
	if err := consolidation.CheckPartition(groups, len(pages)); err != nil {
		return err
	}

	var entries []records.Entry
	for pos, g := range groups {
		a, _ := w.Artifact(pos)
		out := GroupOutput{
			Pages:         g.PageIndices,
			InvoiceNumber: g.Record.Number(),
			Confidence:    g.Boundary.Confidence,
			PDFPath:       a.PDFPath,
			JSONPath:      a.JSONPath,
		}
		uploaded := true
		if s.deps.Storage != nil {
			out.PDFKey, out.JSONKey, err = s.upload(ctx, r.id, a)
			if err != nil {
				s.deps.Metrics.RecordGatewayFailure("storage")
				r.warn("upload %s: %v", a.Stem, err)
				out.PDFKey, out.JSONKey = "", ""
				uploaded = false
			}
		}
		if uploaded {
			entries = append(entries, records.Entry{
				AttachmentID: r.id,
				Record:       g.Record,
				S3PDFKey:     out.PDFKey,
				S3JSONKey:    out.JSONKey,
			})
		}
		r.result.Groups = append(r.result.Groups, out)
		r.result.OutputFiles = append(r.result.OutputFiles, a.PDFPath, a.JSONPath)
	}

	if s.deps.Records != nil && len(entries) > 0 {
		if err := s.deps.Records.CreateBatch(ctx, entries); err != nil {
			s.deps.Metrics.RecordGatewayFailure("records")
			r.warn("create invoice records: %v", err)
		}
	}
	return nil
}

func (s *Service) upload(ctx context.Context, id int64, a artifacts.Artifact) (pdfKey, jsonKey string, err error) {
	pdf, err := os.ReadFile(a.PDFPath)
	if err != nil {
		return "", "", err
	}
	js, err := os.ReadFile(a.JSONPath)
	if err != nil {
		return "", "", err
	}
	pdfKey = storage.Key(id, a.PDFName())
	if err := s.deps.Storage.Put(ctx, pdfKey, pdf, storage.ContentTypePDF); err != nil {
		return "", "", err
	}
	jsonKey = storage.Key(id, a.JSONName())
	if err := s.deps.Storage.Put(ctx, jsonKey, js, storage.ContentTypeJSON); err != nil {
		return "", "", err
	}
	return pdfKey, jsonKey, nil
}

// quarantine copies the original bytes of an unusable document to the
// errors directory.
func (s *Service) quarantine(r *run, doc models.Document) {
	path, err := artifacts.CopyToErrors(s.opts.OutputDir, r.id, doc.Name, doc.Data)
	if err != nil {
		r.warn("copy to errors: %v", err)
		return
	}
	r.log.Warn().Str("path", path).Msg("original document copied to errors")
}

type run struct {
	id     int64
	log    zerolog.Logger
	result Result
}

func (s *Service) newRun(id int64) *run {
	runID := uuid.NewString()
	return &run{
		id:     id,
		log:    logger.ForAttachment(s.log, id, runID),
		result: Result{AttachmentID: id, RunID: runID, Status: models.StatusProcessing},
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.log.Warn().Msg(msg)
	r.result.Warnings = append(r.result.Warnings, msg)
}

// report sends status best-effort. A failure is logged and never changes
// the outcome.
func (r *run) report(ctx context.Context, s *Service, status models.AttachmentStatus) {
	if s.deps.Attachments == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StatusTimeout)
	defer cancel()
	if err := s.deps.Attachments.UpdateStatus(ctx, r.id, status); err != nil {
		s.deps.Metrics.RecordGatewayFailure("attachments")
		r.log.Warn().Err(err).Str("status", string(status)).Msg("failed to update attachment status")
		return
	}
	r.log.Debug().Str("status", string(status)).Msg("attachment status updated")
}
