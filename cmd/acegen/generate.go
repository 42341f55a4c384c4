package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/satindergrewal/acegen/internal/acestep"
	"github.com/satindergrewal/acegen/internal/generate"
	"github.com/satindergrewal/acegen/internal/metrics"
	"github.com/satindergrewal/acegen/internal/progress"
)

type generateFlags struct {
	params      generate.Params
	jsonOut     bool
	metricsFile string
}

// parseGenerateFlags parses the generate command line. envFlags holds
// default flags in shell syntax; they are parsed first so the command line
// overrides them.
func parseGenerateFlags(args []string, envFlags, outputDir string) (*generateFlags, error) {
	gf := &generateFlags{params: generate.DefaultParams()}
	p := &gf.params
	p.OutputDir = outputDir

	var noCotMetas, noCotCaption, noCotLanguage bool

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)

	// Basic
	fs.StringVar(&p.Prompt, "prompt", "", "Music description (required)")
	fs.StringVar(&p.Lyrics, "lyrics", "", "Lyrics")
	fs.BoolVar(&p.Instrumental, "instrumental", false, "Generate instrumental music")
	fs.Float64Var(&p.Duration, "duration", 0, "Duration in seconds (0 for auto)")
	fs.IntVar(&p.BPM, "bpm", 0, "BPM (0 for auto)")
	fs.StringVar(&p.KeyScale, "key-scale", "", "Key scale (e.g. 'C Major')")
	fs.StringVar(&p.TimeSignature, "time-signature", "", "Time signature (2, 3, 4, or 6)")
	fs.StringVar(&p.VocalLanguage, "vocal-language", p.VocalLanguage, "Vocal language code")

	// Sampling
	fs.IntVar(&p.InferSteps, "infer-steps", p.InferSteps, "Inference steps")
	fs.Float64Var(&p.GuidanceScale, "guidance-scale", p.GuidanceScale, "Guidance scale")
	fs.IntVar(&p.BatchSize, "batch-size", p.BatchSize, "Batch size")
	fs.IntVar(&p.Seed, "seed", p.Seed, "Random seed (-1 for random)")
	fs.StringVar(&p.AudioFormat, "audio-format", p.AudioFormat, "Audio format: mp3, flac or wav")
	fs.Float64Var(&p.Shift, "shift", p.Shift, "Timestep shift factor")

	// Task
	fs.StringVar(&p.TaskType, "task-type", p.TaskType, "Task type: text2music, cover, repaint, lego, extract or complete")
	fs.StringVar(&p.ReferenceAudio, "reference-audio", "", "Reference audio path for style transfer")
	fs.StringVar(&p.SrcAudio, "src-audio", "", "Source audio path for audio-to-audio")
	fs.StringVar(&p.AudioCodes, "audio-codes", "", "Audio semantic codes")
	fs.Float64Var(&p.RepaintingStart, "repainting-start", p.RepaintingStart, "Repainting start time (seconds)")
	fs.Float64Var(&p.RepaintingEnd, "repainting-end", p.RepaintingEnd, "Repainting end time (seconds)")
	fs.Float64Var(&p.AudioCoverStrength, "audio-cover-strength", p.AudioCoverStrength, "Reference audio strength (0-1)")
	fs.StringVar(&p.Instruction, "instruction", "", "Task instruction prompt")

	// LM / chain of thought
	fs.BoolVar(&p.Thinking, "thinking", false, "Enable chain-of-thought reasoning")
	fs.Float64Var(&p.LMTemperature, "lm-temperature", p.LMTemperature, "LM temperature")
	fs.Float64Var(&p.LMCFGScale, "lm-cfg-scale", p.LMCFGScale, "LM guidance scale")
	fs.IntVar(&p.LMTopK, "lm-top-k", p.LMTopK, "LM top-k sampling")
	fs.Float64Var(&p.LMTopP, "lm-top-p", p.LMTopP, "LM top-p sampling")
	fs.StringVar(&p.LMNegativePrompt, "lm-negative-prompt", "", "LM negative prompt")
	fs.BoolVar(&noCotMetas, "no-cot-metas", false, "Disable CoT for metadata")
	fs.BoolVar(&noCotCaption, "no-cot-caption", false, "Disable CoT for caption")
	fs.BoolVar(&noCotLanguage, "no-cot-language", false, "Disable CoT for language")

	// Advanced
	fs.BoolVar(&p.UseADG, "use-adg", false, "Use adaptive dual guidance")
	fs.Float64Var(&p.CFGIntervalStart, "cfg-interval-start", p.CFGIntervalStart, "CFG interval start")
	fs.Float64Var(&p.CFGIntervalEnd, "cfg-interval-end", p.CFGIntervalEnd, "CFG interval end")

	// Output
	fs.StringVar(&p.OutputDir, "output-dir", p.OutputDir, "Output directory")
	fs.BoolVar(&gf.jsonOut, "json", false, "Output as JSON")
	fs.StringVar(&gf.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")

	defaults, err := shlex.Split(envFlags)
	if err != nil {
		return nil, fmt.Errorf("ACEGEN_GENERATE_FLAGS: %w", err)
	}
	if err := fs.Parse(append(defaults, args...)); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	p.UseCotMetas = !noCotMetas
	p.UseCotCaption = !noCotCaption
	p.UseCotLanguage = !noCotLanguage
	return gf, nil
}

func runGenerate(args []string) int {
	cfg, logger, client, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	gf, err := parseGenerateFlags(args, os.Getenv("ACEGEN_GENERATE_FLAGS"), cfg.OutputDir)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fail := func(err error) int {
		if gf.jsonOut {
			printJSON(map[string]any{"success": false, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	// Reject bad input before waiting on the service.
	if err := gf.params.Validate(); err != nil {
		return fail(err)
	}

	var collector *metrics.Collector
	if gf.metricsFile != "" {
		collector = metrics.NewCollector("acegen", logger)
		defer func() {
			if err := collector.WriteTextfile(gf.metricsFile); err != nil {
				logger.Warn("metrics not written", zap.Error(err))
			}
		}()
	}

	ctx, cancel := signalContext()
	defer cancel()

	session, err := generate.NewSession(ctx, client, generate.SessionConfig{
		LMPolicy: cfg.LLMPolicy(),
		LMInit: acestep.LMInit{
			ModelPath:    cfg.LMModelPath,
			Backend:      cfg.Backend(),
			Device:       cfg.LMDevice,
			OffloadToCPU: cfg.LMOffloadToCPU,
		},
		LoRAConfigPath: cfg.LoRAConfigPath,
		HealthTimeout:  cfg.HealthTimeout,
		PollInterval:   cfg.PollInterval,
		Progress:       progress.NewReporter(os.Stderr),
		Metrics:        collector,
	}, logger)
	if err != nil {
		return fail(err)
	}

	res, err := session.Run(ctx, gf.params)
	if err != nil {
		return fail(err)
	}

	if gf.jsonOut {
		printJSON(res)
		return 0
	}
	fmt.Printf("Generated %d audio files in %.1fs:\n", len(res.AudioPaths), res.ElapsedSeconds)
	for _, path := range res.AudioPaths {
		fmt.Printf("  %s\n", path)
	}
	return 0
}
