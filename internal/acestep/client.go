package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client communicates with the ACE-Step v1.5 REST API.
type Client struct {
	apiURL      string
	apiKey      string
	sharedDir   string // shared volume mount point
	healthRetry time.Duration
	http        *http.Client
	slow        *http.Client // no client timeout; bounded by ctx only
	logger      *zap.Logger
}

// Options configures a Client. Zero values get defaults.
type Options struct {
	APIKey      string
	SharedDir   string
	Timeout     time.Duration // per HTTP request, default 30s
	HealthRetry time.Duration // delay between health probes, default 5s
	Logger      *zap.Logger
}

// NewClient creates an ACE-Step API client.
func NewClient(apiURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HealthRetry <= 0 {
		opts.HealthRetry = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiKey:      opts.APIKey,
		sharedDir:   opts.SharedDir,
		healthRetry: opts.HealthRetry,
		http:        &http.Client{Timeout: opts.Timeout},
		slow:        &http.Client{},
		logger:      opts.Logger.With(zap.String("component", "acestep")),
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx so every call made with it carries an
// X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// envelope is the common response wrapper of the API.
type envelope struct {
	Code  int             `json:"code"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// HealthStatus is the service state reported by /health.
type HealthStatus struct {
	Status         string `json:"status"`
	LLMInitialized bool   `json:"llm_initialized"`
	LoRALoaded     bool   `json:"lora_loaded"`
}

// LMInit asks the service to bring up its language-model stage.
type LMInit struct {
	ModelPath    string `json:"lm_model_path,omitempty"`
	Backend      string `json:"backend"`
	Device       string `json:"device,omitempty"`
	OffloadToCPU bool   `json:"offload_to_cpu"`
}

// LMInitResult reports the outcome of InitLM.
type LMInitResult struct {
	Message     string `json:"message"`
	Initialized bool   `json:"initialized"`
}

type messageResp struct {
	Message string `json:"message"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if id := requestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

// call sends a request and decodes the envelope's data into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	return c.callWith(ctx, c.http, method, path, body, out)
}

func (c *Client) callWith(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(errBody))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != http.StatusOK {
		return &APIError{Code: env.Code, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	return nil
}

// Health returns the current service state.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.call(ctx, http.MethodGet, "/health", nil, &hs)
	return hs, err
}

// WaitForHealthy blocks until the ACE-Step API responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context) (HealthStatus, error) {
	c.logger.Info("waiting for ACE-Step API to be ready", zap.String("url", c.apiURL))
	for {
		hs, err := c.Health(ctx)
		if err == nil {
			c.logger.Info("ACE-Step API is healthy",
				zap.String("status", hs.Status),
				zap.Bool("llm_initialized", hs.LLMInitialized),
			)
			return hs, nil
		}

		c.logger.Debug("ACE-Step not ready, retrying",
			zap.Error(err),
			zap.Duration("retry_in", c.healthRetry),
		)
		select {
		case <-ctx.Done():
			return HealthStatus{}, fmt.Errorf("ACE-Step not available: %w", ctx.Err())
		case <-time.After(c.healthRetry):
		}
	}
}

// InitLM asks the service to initialize its language model. A service that
// answers but could not load the model returns Initialized=false, not an error.
func (c *Client) InitLM(ctx context.Context, in LMInit) (LMInitResult, error) {
	var res LMInitResult
	err := c.call(ctx, http.MethodPost, "/v1/lm/init", in, &res)
	return res, err
}

// LoadLoRA loads the adapter at path and returns the service's status message.
func (c *Client) LoadLoRA(ctx context.Context, path string) (string, error) {
	var res messageResp
	err := c.call(ctx, http.MethodPost, "/v1/lora/load", map[string]string{"lora_path": path}, &res)
	return res.Message, err
}

// SetLoRAScale sets the strength of the loaded adapter.
func (c *Client) SetLoRAScale(ctx context.Context, scale float64) (string, error) {
	var res messageResp
	err := c.call(ctx, http.MethodPost, "/v1/lora/scale", map[string]float64{"scale": scale}, &res)
	return res.Message, err
}
