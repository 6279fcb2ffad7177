// Package app wires configuration into a ready pipeline for the front-ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"invoice-split/pkg/config"
	"invoice-split/pkg/logger"
	"invoice-split/pkg/metrics"
	"invoice-split/pkg/services/attachments"
	"invoice-split/pkg/services/classifier"
	"invoice-split/pkg/services/ocr"
	"invoice-split/pkg/services/pipeline"
	"invoice-split/pkg/services/records"
	"invoice-split/pkg/services/render"
	"invoice-split/pkg/services/storage"
)

// App is everything a front-end needs for one process.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Service
	// Invoices is set only with the db records backend.
	Invoices *records.DBStore

	closers []io.Closer
}

// New validates cfg for role and builds the pipeline and its gateways.
func New(ctx context.Context, cfg *config.Config, role config.Role, service string) (*App, error) {
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	log, closer := logger.New(logger.Config{
		Service:   service,
		Level:     cfg.LogLevel,
		Pretty:    role == config.RoleCLI,
		DebugFile: cfg.DebugLog,
	})
	a := &App{Config: cfg, Logger: log, Metrics: metrics.New(), closers: []io.Closer{closer}}

	c, err := NewClassifier(cfg, logger.Component(log, "classifier"))
	if err != nil {
		a.Close()
		return nil, err
	}

	var store storage.Store
	if cfg.Storage.S3Bucket != "" {
		s3, err := storage.NewS3(ctx, cfg.Storage.S3Bucket)
		if err != nil {
			a.Close()
			return nil, err
		}
		store = s3
		log.Info().Str("bucket", cfg.Storage.S3Bucket).Msg("uploading artifacts to S3")
	} else {
		store = storage.NewLocal(cfg.Storage.LocalDir)
		log.Warn().Str("dir", cfg.Storage.LocalDir).Msg("S3_BUCKET_NAME not set, storing uploads locally")
	}

	var recs records.Store
	switch cfg.Records.Backend {
	case config.RecordsDB:
		db, err := records.OpenPostgres(cfg.Records.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Invoices = db
		a.closers = append(a.closers, db)
		recs = db
	default:
		recs = records.NewAPIStore(cfg.APIURL, cfg.HTTPTimeout, logger.Component(log, "records"))
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Attachments: attachments.NewClient(cfg.APIURL, cfg.HTTPTimeout),
		Rasterizer:  render.NewFitz(float64(cfg.Segmenter.RenderDPI)),
		Classifier:  c,
		Storage:     store,
		Records:     recs,
		Metrics:     a.Metrics,
		Logger:      log,
	}, pipeline.Options{
		OutputDir:     cfg.OutputDir,
		MaxWindow:     cfg.Segmenter.MaxWindow,
		StatusTimeout: cfg.HTTPTimeout,
	})
	return a, nil
}

// NewClassifier builds the configured classifier with its timeout and pacing.
func NewClassifier(cfg *config.Config, log zerolog.Logger) (classifier.Classifier, error) {
	var c classifier.Classifier
	switch cfg.Classifier.Backend {
	case config.ClassifierOpenAI:
		c = classifier.NewOpenAI(classifier.OpenAIOptions{
			APIKey:     cfg.Classifier.OpenAIAPIKey,
			BaseURL:    cfg.Classifier.OpenAIBaseURL,
			Model:      cfg.Classifier.Model,
			HTTPClient: &http.Client{},
			Logger:     log,
		})
	case config.ClassifierAzure:
		c = classifier.NewHeuristic(ocr.NewService(cfg.Azure.Endpoint, cfg.Azure.Key))
	case config.ClassifierTesseract:
		c = classifier.NewHeuristic(ocr.NewTesseract(cfg.Classifier.Language))
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier.Backend)
	}
	log.Info().Str("backend", cfg.Classifier.Backend).Dur("timeout", cfg.Classifier.Timeout).Int("rpm", cfg.Classifier.RPM).Msg("classifier ready")
	return classifier.WithRateLimit(classifier.WithTimeout(c, cfg.Classifier.Timeout), cfg.Classifier.RPM), nil
}

// Close releases log files and database connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}
