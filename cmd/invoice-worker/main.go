// Command invoice-worker processes attachment ids from an SQS queue until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"invoice-split/pkg/app"
	"invoice-split/pkg/config"
	"invoice-split/pkg/services/queue"
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
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, config.RoleWorker, "invoice-worker")
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := queue.NewSQSClient(ctx)
	if err != nil {
		return err
	}
	w := queue.NewWorker(client, a.Pipeline, queue.WorkerOptions{
		QueueURL:    cfg.Queue.URL,
		Concurrency: cfg.Concurrency,
		WaitTime:    cfg.Queue.WaitTime,
		Logger:      a.Logger,
	})
	return w.Run(ctx)
}
