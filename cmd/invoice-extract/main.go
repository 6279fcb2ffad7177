// Command invoice-extract splits the invoices of one attachment.
//
//	invoice-extract 6
//	invoice-extract 6 --output-dir ./split_invoices
//	invoice-extract --file scan.pdf 6
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"invoice-split/pkg/app"
	"invoice-split/pkg/config"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/pipeline"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: invoice-extract [flags] <attachment_id>

Splits the invoices of an attachment into one PDF and one JSON record each.

Environment:
  OPENAI_API_KEY   key for the vision classifier
  API_URL          base URL of the attachment API
  S3_BUCKET_NAME   bucket for uploads (local directory when unset)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	outputDir := flag.String("output-dir", "", "output directory for split invoices (default: output)")
	file := flag.String("file", "", "process a local PDF instead of downloading the attachment")
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	id, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "invalid attachment id %q\n", flag.Arg(0))
		os.Exit(2)
	}

	os.Exit(run(id, *outputDir, *file, *configPath))
}

func run(id int64, outputDir, file, configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, config.RoleCLI, "invoice-extract")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()
	log := a.Logger

	var res pipeline.Result
	if file != "" {
		data, rerr := os.ReadFile(file)
		if rerr != nil {
			log.Error().Err(rerr).Msg("read input file")
			return 1
		}
		res, err = a.Pipeline.ProcessDocument(ctx, id, models.Document{Name: file, Data: data})
	} else {
		res, err = a.Pipeline.ProcessAttachment(ctx, id)
	}
	if err != nil || !res.OK() {
		log.Error().Err(err).Int64("attachment_id", id).Msg("no invoices were extracted")
		return 1
	}

	for _, f := range res.OutputFiles {
		log.Info().Str("file", f).Msg("output file")
	}
	for _, w := range res.Warnings {
		log.Warn().Msg(w)
	}
	log.Info().Int64("attachment_id", id).Int("invoices", len(res.Groups)).Msg("successfully processed attachment")
	return 0
}
