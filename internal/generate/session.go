// Package generate drives one text-to-music run against the ACE-Step
// service: session setup, duration resolution, submission and collection.
package generate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/acegen/internal/acestep"
	"github.com/satindergrewal/acegen/internal/audio"
	"github.com/satindergrewal/acegen/internal/config"
	"github.com/satindergrewal/acegen/internal/lora"
	"github.com/satindergrewal/acegen/internal/metrics"
	"github.com/satindergrewal/acegen/internal/progress"
)

// Pipeline is the part of the ACE-Step service a session needs.
// *acestep.Client satisfies it.
type Pipeline interface {
	WaitForHealthy(ctx context.Context) (acestep.HealthStatus, error)
	InitLM(ctx context.Context, in acestep.LMInit) (acestep.LMInitResult, error)
	LoadLoRA(ctx context.Context, path string) (string, error)
	SetLoRAScale(ctx context.Context, scale float64) (string, error)
	Generate(ctx context.Context, req acestep.GenerateRequest) (string, error)
	PollUntilDone(ctx context.Context, taskID string, opts acestep.PollOptions) (*acestep.TaskOutput, error)
}

// SessionConfig controls session setup and the runs made with it.
type SessionConfig struct {
	LMPolicy       config.LMPolicy
	LMInit         acestep.LMInit
	LoRAConfigPath string

	HealthTimeout time.Duration // 0 waits as long as ctx allows
	PollInterval  time.Duration

	Progress *progress.Reporter // optional
	Metrics  *metrics.Collector // optional

	// ProbeAudio returns the length of a local audio file. Defaults to
	// audio.Duration.
	ProbeAudio func(ctx context.Context, path string) (float64, error)
}

// Session is a ready connection to the service. It is set up once by
// NewSession and is read-only afterwards, so runs may share it.
type Session struct {
	pipeline Pipeline
	cfg      SessionConfig
	logger   *zap.Logger

	lmInitialized bool
	lora          *lora.Selection // nil when no adapter was loaded
}

// NewSession waits for the service, applies the LM init policy and loads
// the configured LoRA adapter. LM and LoRA failures are logged and the
// session continues without them; only an unreachable service is an error.
func NewSession(ctx context.Context, p Pipeline, cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeAudio == nil {
		cfg.ProbeAudio = audio.Duration
	}
	s := &Session{
		pipeline: p,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "generate")),
	}

	waitCtx := ctx
	if cfg.HealthTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.HealthTimeout)
		defer cancel()
	}
	hs, err := p.WaitForHealthy(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("pipeline unavailable: %w", err)
	}

	s.lmInitialized = s.initLM(ctx, hs)
	s.lora = s.loadLoRA(ctx)
	return s, nil
}

func (s *Session) initLM(ctx context.Context, hs acestep.HealthStatus) bool {
	switch s.cfg.LMPolicy {
	case config.LMSkip:
		s.logger.Info("LM initialization disabled")
		return false
	case config.LMForce:
		res, err := s.pipeline.InitLM(ctx, s.cfg.LMInit)
		if err != nil {
			s.logger.Warn("LM initialization failed, continuing without LM", zap.Error(err))
			return false
		}
		if !res.Initialized {
			s.logger.Warn("LM not initialized, continuing without LM", zap.String("message", res.Message))
			return false
		}
		s.logger.Info("LM initialized",
			zap.String("backend", s.cfg.LMInit.Backend),
			zap.String("message", res.Message),
		)
		return true
	default:
		return hs.LLMInitialized
	}
}

func (s *Session) loadLoRA(ctx context.Context) *lora.Selection {
	sel, err := lora.Load(s.cfg.LoRAConfigPath)
	if err != nil {
		s.logger.Warn("LoRA config unusable", zap.String("path", s.cfg.LoRAConfigPath), zap.Error(err))
		return nil
	}
	if sel == nil {
		return nil
	}

	log := s.logger.With(zap.String("lora", sel.Name), zap.String("lora_path", sel.Path))
	msg, err := s.pipeline.LoadLoRA(ctx, sel.Path)
	if err != nil {
		log.Warn("LoRA load failed", zap.Error(err))
		return nil
	}
	log.Info("LoRA loaded", zap.String("message", msg))

	if sel.ScaleErr != nil {
		log.Warn("LoRA scale set failed", zap.Error(sel.ScaleErr))
	}
	if sel.HasScale {
		if msg, err := s.pipeline.SetLoRAScale(ctx, sel.Scale); err != nil {
			log.Warn("LoRA scale failed", zap.Float64("scale", sel.Scale), zap.Error(err))
		} else {
			log.Info("LoRA scale set", zap.Float64("scale", sel.Scale), zap.String("message", msg))
		}
	}
	return sel
}

// LMInitialized reports whether the service's LM stage is usable.
func (s *Session) LMInitialized() bool { return s.lmInitialized }

// LoRA returns the loaded adapter, or nil.
func (s *Session) LoRA() *lora.Selection { return s.lora }
