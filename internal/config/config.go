package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Precedence: defaults, then the
// YAML file named by ACEGEN_CONFIG, then environment variables. Command-line
// flags are applied on top by the caller.
type Config struct {
	// ACE-Step connection
	ACEStepAPIURL    string `yaml:"api_url"`
	ACEStepAPIKey    string `yaml:"api_key"`
	ACEStepOutputDir string `yaml:"shared_output_dir"` // shared volume mount point

	// Local results
	OutputDir string `yaml:"output_dir"`

	// LoRA auto-load
	LoRAConfigPath string `yaml:"lora_config"`

	// Language model stage
	InitLLM        string `yaml:"init_llm"` // auto, or a boolean word
	LMModelPath    string `yaml:"lm_model_path"`
	LMBackend      string `yaml:"lm_backend"` // vllm, pt, mlx
	LMDevice       string `yaml:"lm_device"`
	LMOffloadToCPU bool   `yaml:"lm_offload_to_cpu"`

	// Client behavior
	PollInterval  time.Duration `yaml:"poll_interval"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// Logging
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // console, json
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ACEStepAPIURL:    "http://localhost:8001",
		ACEStepOutputDir: "/acestep-outputs",
		OutputDir:        "output",
		InitLLM:          "auto",
		LMBackend:        "vllm",
		LMOffloadToCPU:   true,
		PollInterval:     2 * time.Second,
		HTTPTimeout:      30 * time.Second,
		HealthTimeout:    5 * time.Minute,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// Load reads configuration from the optional YAML file and environment
// variables with sane defaults.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("ACEGEN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ACEStepAPIURL = envStr("ACESTEP_API_URL", cfg.ACEStepAPIURL)
	cfg.ACEStepAPIKey = envStr("ACESTEP_API_KEY", cfg.ACEStepAPIKey)
	cfg.ACEStepOutputDir = envStr("ACESTEP_OUTPUT_DIR", cfg.ACEStepOutputDir)
	cfg.OutputDir = envStr("ACEGEN_OUTPUT_DIR", cfg.OutputDir)
	cfg.LoRAConfigPath = envStr("ACESTEP_LORA_CONFIG", cfg.LoRAConfigPath)
	cfg.InitLLM = envStr("ACESTEP_INIT_LLM", cfg.InitLLM)
	cfg.LMModelPath = envStr("ACESTEP_LM_MODEL_PATH", cfg.LMModelPath)
	cfg.LMBackend = envStr("ACESTEP_LM_BACKEND", cfg.LMBackend)
	cfg.LMDevice = envStr("ACESTEP_LM_DEVICE", cfg.LMDevice)
	cfg.LMOffloadToCPU = envBool("ACESTEP_LM_OFFLOAD_TO_CPU", cfg.LMOffloadToCPU)
	cfg.PollInterval = envSeconds("ACEGEN_POLL_INTERVAL", cfg.PollInterval)
	cfg.HTTPTimeout = envSeconds("ACEGEN_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.HealthTimeout = envSeconds("ACEGEN_HEALTH_TIMEOUT", cfg.HealthTimeout)
	cfg.LogLevel = envStr("ACEGEN_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("ACEGEN_LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// LMPolicy is the outcome of the InitLLM setting.
type LMPolicy int

const (
	LMAuto  LMPolicy = iota // trust what the service reports
	LMForce                 // ask the service to initialize the LM
	LMSkip                  // treat the LM as unavailable
)

// LLMPolicy interprets InitLLM: empty or "auto" defers to the service, a
// truthy word forces init, anything else skips.
func (c Config) LLMPolicy() LMPolicy {
	v := strings.ToLower(strings.TrimSpace(c.InitLLM))
	if v == "" || v == "auto" {
		return LMAuto
	}
	if b, ok := parseBool(v); ok && b {
		return LMForce
	}
	return LMSkip
}

// Backend returns LMBackend, falling back to vllm for unknown values.
func (c Config) Backend() string {
	switch b := strings.ToLower(strings.TrimSpace(c.LMBackend)); b {
	case "vllm", "pt", "mlx":
		return b
	}
	return "vllm"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

func parseBool(v string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}
