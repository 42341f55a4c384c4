package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/acegen/internal/acestep"
	"github.com/satindergrewal/acegen/internal/duration"
)

// Result is the outcome of a successful run, in the JSON shape the CLI
// prints.
type Result struct {
	Success         bool            `json:"success"`
	AudioPaths      []string        `json:"audio_paths"`
	ElapsedSeconds  float64         `json:"elapsed_seconds"`
	OutputDir       string          `json:"output_dir"`
	ResolvedSeconds float64         `json:"resolved_duration_seconds"`
	DurationSource  duration.Source `json:"duration_source"`
	LMInitialized   bool            `json:"lm_initialized"`
}

// Run generates music for p and blocks until the audio is on local disk.
func (s *Session) Run(ctx context.Context, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = acestep.WithRequestID(ctx, runID)
	log := s.logger.With(zap.String("run_id", runID), zap.String("task_type", p.TaskType))

	s.cfg.Progress.Report(0.01, "Initializing ACE-Step...")
	s.cfg.Progress.Report(0.10, "Models initialized")

	outDir, err := filepath.Abs(p.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	if err := s.checkAudio(ctx, log, "reference_audio", p.ReferenceAudio); err != nil {
		return nil, err
	}
	if err := s.checkAudio(ctx, log, "src_audio", p.SrcAudio); err != nil {
		return nil, err
	}

	durReq := duration.Request{
		Prompt:            p.Prompt,
		Lyrics:            p.effectiveLyrics(),
		Instrumental:      p.Instrumental,
		UserSeconds:       p.Duration,
		HasReferenceAudio: p.ReferenceAudio != "",
		HasSourceAudio:    p.SrcAudio != "",
		LMAvailable:       s.lmInitialized,
	}
	res := duration.Resolve(durReq)
	if res.Source == duration.SourceHeuristic {
		log.Info("auto duration fallback: using heuristic (LM unavailable)", zap.Float64("seconds", res.Seconds))
	} else {
		log.Debug("duration resolved", zap.String("source", string(res.Source)), zap.Float64("seconds", res.Seconds))
	}

	s.cfg.Progress.Report(0.12, "Starting generation...")
	start := time.Now()
	out, err := s.submit(ctx, p.request(res.PipelineSeconds()), outDir)
	elapsed := time.Since(start)
	if err != nil {
		s.cfg.Metrics.RecordGeneration(p.TaskType, string(res.Source), false, elapsed, res.Seconds)
		return nil, err
	}

	final := duration.Finalize(res, durReq, out.CotDuration)
	if final.Source != res.Source {
		log.Info("duration settled after generation",
			zap.String("source", string(final.Source)),
			zap.Float64("seconds", final.Seconds),
		)
	}

	s.cfg.Progress.Report(1.0, "Generation complete")
	s.cfg.Metrics.RecordGeneration(p.TaskType, string(final.Source), true, elapsed, final.Seconds)
	log.Info("generation complete",
		zap.Int("files", len(out.AudioPaths)),
		zap.Duration("elapsed", elapsed),
	)

	return &Result{
		Success:         true,
		AudioPaths:      out.AudioPaths,
		ElapsedSeconds:  elapsed.Seconds(),
		OutputDir:       outDir,
		ResolvedSeconds: final.Seconds,
		DurationSource:  final.Source,
		LMInitialized:   s.lmInitialized,
	}, nil
}

func (s *Session) submit(ctx context.Context, req acestep.GenerateRequest, outDir string) (*acestep.TaskOutput, error) {
	taskID, err := s.pipeline.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	s.logger.Debug("task submitted", zap.String("task_id", taskID))

	out, err := s.pipeline.PollUntilDone(ctx, taskID, acestep.PollOptions{
		Interval:    s.cfg.PollInterval,
		DownloadDir: outDir,
		OnProgress:  s.cfg.Progress.Func(),
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return out, nil
}

// checkAudio makes sure an input audio file exists before it is sent.
// A file that exists but cannot be probed is left for the service to judge.
func (s *Session) checkAudio(ctx context.Context, log *zap.Logger, field, path string) error {
	if path == "" {
		return nil
	}
	secs, err := s.cfg.ProbeAudio(ctx, path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", field, path, err)
	}
	if err != nil {
		log.Warn("cannot probe input audio", zap.String("field", field), zap.String("path", path), zap.Error(err))
		return nil
	}
	log.Debug("input audio", zap.String("field", field), zap.String("path", path), zap.Float64("seconds", secs))
	return nil
}
