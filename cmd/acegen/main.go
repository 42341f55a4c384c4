// acegen drives the ACE-Step music generation service from the command line.
//
// Usage:
//
//	acegen generate --prompt "lofi hip hop" [flags]   # generate music
//	acegen preprocess --dataset d.json --output dir    # build LoRA training tensors
//	acegen version                                     # show version information
//
// Results go to stdout (one JSON line with --json); logs and progress events
// go to stderr.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/satindergrewal/acegen/internal/acestep"
	"github.com/satindergrewal/acegen/internal/config"
	"github.com/satindergrewal/acegen/internal/logging"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		os.Exit(runGenerate(os.Args[2:]))
	case "preprocess":
		os.Exit(runPreprocess(os.Args[2:]))
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger and service client shared
// by every command.
func setup() (config.Config, *zap.Logger, *acestep.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	client := acestep.NewClient(cfg.ACEStepAPIURL, acestep.Options{
		APIKey:    cfg.ACEStepAPIKey,
		SharedDir: cfg.ACEStepOutputDir,
		Timeout:   cfg.HTTPTimeout,
		Logger:    logger,
	})
	return cfg, logger, client, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// printJSON writes v to stdout as a single line.
func printJSON(v any) {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode result: %v\n", err)
	}
}

func printVersion() {
	fmt.Printf("acegen %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`acegen - ACE-Step music generation driver

Usage:
  acegen <command> [flags]

Commands:
  generate     Generate music from a prompt
  preprocess   Preprocess a labeled dataset into training tensors
  version      Show version information
  help         Show this help

Run "acegen <command> -h" for command flags.

Environment:
  ACESTEP_API_URL          ACE-Step API base URL (default http://localhost:8001)
  ACESTEP_API_KEY          Bearer token for the API
  ACESTEP_OUTPUT_DIR       Shared output volume mount point
  ACESTEP_LORA_CONFIG      LoRA auto-load config file
  ACESTEP_INIT_LLM         auto, or true/false to force or skip LM init
  ACEGEN_CONFIG            Optional YAML config file
  ACEGEN_GENERATE_FLAGS    Default flags for "generate", parsed before the command line`)
}
