package acestep

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// PreprocessRequest asks the service to turn a labeled dataset into
// training tensors.
type PreprocessRequest struct {
	Dataset     json.RawMessage `json:"dataset"`
	OutputDir   string          `json:"output_dir"`
	MaxDuration float64         `json:"max_duration"`
}

// PreprocessResult is the service's answer to a preprocess request.
type PreprocessResult struct {
	OutputPaths []string `json:"output_paths"`
	Status      string   `json:"status"`
}

// Preprocess runs dataset preprocessing and blocks until the service replies.
// Encoding a dataset can take far longer than the per-request timeout, so
// only ctx bounds this call.
func (c *Client) Preprocess(ctx context.Context, req PreprocessRequest) (PreprocessResult, error) {
	var res PreprocessResult
	if err := c.callWith(ctx, c.slow, http.MethodPost, "/v1/dataset/preprocess", req, &res); err != nil {
		return PreprocessResult{}, fmt.Errorf("preprocess dataset: %w", err)
	}
	return res, nil
}
