package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/satindergrewal/acegen/internal/dataset"
	"github.com/satindergrewal/acegen/internal/metrics"
)

type preprocessFlags struct {
	dataset     string
	output      string
	maxDuration float64
	jsonOut     bool
	metricsFile string
}

func parsePreprocessFlags(args []string) (*preprocessFlags, error) {
	pf := &preprocessFlags{}
	fs := flag.NewFlagSet("preprocess", flag.ContinueOnError)
	fs.StringVar(&pf.dataset, "dataset", "", "Path to dataset JSON file (required)")
	fs.StringVar(&pf.output, "output", "", "Output directory for tensor files (required)")
	fs.Float64Var(&pf.maxDuration, "max-duration", 240, "Max audio duration in seconds")
	fs.BoolVar(&pf.jsonOut, "json", false, "Output JSON summary")
	fs.StringVar(&pf.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if pf.dataset == "" {
		return nil, fmt.Errorf("--dataset is required")
	}
	if pf.output == "" {
		return nil, fmt.Errorf("--output is required")
	}
	return pf, nil
}

func runPreprocess(args []string) int {
	pf, err := parsePreprocessFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, logger, client, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	d, err := dataset.Load(pf.dataset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	labeled, total := d.Counts()

	fail := func(err error) int {
		if pf.jsonOut {
			printJSON(dataset.NewErrorSummary(err, labeled, total))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", dataset.Message(err))
		}
		return 1
	}
	if labeled == 0 {
		return fail(dataset.ErrNoLabeled)
	}

	var collector *metrics.Collector
	if pf.metricsFile != "" {
		collector = metrics.NewCollector("acegen", logger)
		defer func() {
			if err := collector.WriteTextfile(pf.metricsFile); err != nil {
				logger.Warn("metrics not written", zap.Error(err))
			}
		}()
	}

	ctx, cancel := signalContext()
	defer cancel()

	healthCtx, healthCancel := ctx, context.CancelFunc(func() {})
	if cfg.HealthTimeout > 0 {
		healthCtx, healthCancel = context.WithTimeout(ctx, cfg.HealthTimeout)
	}
	_, err = client.WaitForHealthy(healthCtx)
	healthCancel()
	if err != nil {
		return fail(err)
	}

	sum, err := d.Preprocess(ctx, client, dataset.Options{
		OutputDir:   pf.output,
		MaxDuration: pf.maxDuration,
		Logger:      logger,
		Metrics:     collector,
	})
	if err != nil {
		logger.Error("preprocessing failed", zap.Error(err))
		return fail(err)
	}

	if pf.jsonOut {
		printJSON(sum)
		return 0
	}
	fmt.Printf("Done: %s\n", sum.Message)
	fmt.Printf("Output files: %d\n", sum.OutputFiles)
	if sum.Truncated > 0 {
		fmt.Printf("Truncated samples: %d (longer than %.0fs)\n", sum.Truncated, pf.maxDuration)
	}
	return 0
}
