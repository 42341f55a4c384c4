package dataset

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/acegen/internal/acestep"
	"github.com/satindergrewal/acegen/internal/audio"
	"github.com/satindergrewal/acegen/internal/metrics"
)

// Preprocessor turns a dataset into training tensors. *acestep.Client
// satisfies it.
type Preprocessor interface {
	Preprocess(ctx context.Context, req acestep.PreprocessRequest) (acestep.PreprocessResult, error)
}

// Options controls Preprocess.
type Options struct {
	OutputDir   string
	MaxDuration float64 // seconds; longer samples are truncated by the service
	Concurrency int     // audio probes in flight, default 4

	ProbeAudio func(ctx context.Context, path string) (float64, error) // default audio.Duration
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Summary reports a finished preprocessing run.
type Summary struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	OutputFiles    int     `json:"output_files"`
	OutputDir      string  `json:"output_dir"`
	Labeled        int     `json:"labeled"`
	Total          int     `json:"total"`
	Truncated      int     `json:"truncated"`
	LabeledSeconds float64 `json:"labeled_seconds"`
}

// ErrorSummary reports a failed preprocessing run.
type ErrorSummary struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Labeled int    `json:"labeled"`
	Total   int    `json:"total"`
}

// NewErrorSummary builds the summary for err.
func NewErrorSummary(err error, labeled, total int) ErrorSummary {
	return ErrorSummary{Status: "error", Message: Message(err), Labeled: labeled, Total: total}
}

type audioStats struct {
	seconds   float64
	truncated int
}

// Preprocess sends the labeled dataset to p and summarizes the result.
func (d *Dataset) Preprocess(ctx context.Context, p Preprocessor, opts Options) (*Summary, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProbeAudio == nil {
		opts.ProbeAudio = audio.Duration
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	log := opts.Logger.With(zap.String("component", "dataset"))

	labeled, total := d.Counts()
	log.Info("dataset loaded", zap.Int("samples", total), zap.Int("labeled", labeled))
	if labeled == 0 {
		return nil, ErrNoLabeled
	}

	stats, err := d.probe(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	if stats.truncated > 0 {
		log.Warn("samples exceed max duration and will be truncated",
			zap.Int("count", stats.truncated),
			zap.Float64("max_duration", opts.MaxDuration),
		)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	log.Info("preprocessing", zap.String("output_dir", opts.OutputDir))

	res, err := p.Preprocess(ctx, acestep.PreprocessRequest{
		Dataset:     d.Raw(),
		OutputDir:   opts.OutputDir,
		MaxDuration: opts.MaxDuration,
	})
	if err != nil {
		return nil, err
	}
	opts.Metrics.RecordPreprocess(labeled, stats.truncated)
	log.Info("preprocessing done", zap.String("status", res.Status), zap.Int("output_files", len(res.OutputPaths)))

	return &Summary{
		Status:         "complete",
		Message:        res.Status,
		OutputFiles:    len(res.OutputPaths),
		OutputDir:      opts.OutputDir,
		Labeled:        labeled,
		Total:          total,
		Truncated:      stats.truncated,
		LabeledSeconds: stats.seconds,
	}, nil
}

// probe measures labeled sample audio. Samples that already carry a
// duration are not probed; unreadable files are logged and skipped.
func (d *Dataset) probe(ctx context.Context, opts Options, log *zap.Logger) (audioStats, error) {
	var (
		mu    sync.Mutex
		stats audioStats
	)
	add := func(secs float64) {
		mu.Lock()
		defer mu.Unlock()
		stats.seconds += secs
		if opts.MaxDuration > 0 && secs > opts.MaxDuration {
			stats.truncated++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, s := range d.Samples {
		if !s.Labeled {
			continue
		}
		if s.Duration > 0 {
			add(s.Duration)
			continue
		}
		path := d.audioPath(s)
		if path == "" {
			continue
		}
		g.Go(func() error {
			secs, err := opts.ProbeAudio(gctx, path)
			if err != nil {
				log.Warn("cannot read sample audio", zap.String("path", path), zap.Error(err))
				return nil
			}
			add(secs)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return audioStats{}, err
	}
	return stats, nil
}
