package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"invoice-split/pkg/api"
	"invoice-split/pkg/app"
	"invoice-split/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load environment variables and config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, config.RoleServer, "invoice-split")
	if err != nil {
		return err
	}
	defer a.Close()

	// Set up Gin router
	gin.SetMode(gin.ReleaseMode)
	h := &api.Handler{
		Processor:   a.Pipeline,
		Metrics:     a.Metrics,
		Concurrency: cfg.Concurrency,
		Logger:      a.Logger,
	}
	if a.Invoices != nil {
		h.Invoices = a.Invoices
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down, waiting for in-flight attachments")
	}
	// No deadline: requests carry attachments that must finish.
	return srv.Shutdown(context.Background())
}
