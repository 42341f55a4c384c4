package acestep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GenerateRequest contains parameters for music generation.
type GenerateRequest struct {
	TaskType      string  `json:"task_type"`
	Caption       string  `json:"caption"`
	Lyrics        string  `json:"lyrics"`
	Instrumental  bool    `json:"instrumental"`
	Duration      float64 `json:"audio_duration"` // -1 lets the service decide
	BPM           *int    `json:"bpm,omitempty"`
	KeyScale      string  `json:"key_scale"`
	TimeSignature string  `json:"time_signature"`
	VocalLanguage string  `json:"vocal_language"`

	InferenceSteps int     `json:"inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Shift          float64 `json:"shift"`
	Seed           int     `json:"seed"`
	UseRandomSeed  bool    `json:"use_random_seed"`
	BatchSize      int     `json:"batch_size"`
	AudioFormat    string  `json:"audio_format"`

	ReferenceAudioPath string  `json:"reference_audio_path,omitempty"`
	SrcAudioPath       string  `json:"src_audio_path,omitempty"`
	AudioCodes         string  `json:"audio_code_string"`
	RepaintingStart    float64 `json:"repainting_start"`
	RepaintingEnd      float64 `json:"repainting_end"`
	AudioCoverStrength float64 `json:"audio_cover_strength"`
	Instruction        string  `json:"instruction"`

	Thinking         bool    `json:"thinking"`
	LMTemperature    float64 `json:"lm_temperature"`
	LMCFGScale       float64 `json:"lm_cfg_scale"`
	LMTopK           int     `json:"lm_top_k"`
	LMTopP           float64 `json:"lm_top_p"`
	LMNegativePrompt string  `json:"lm_negative_prompt"`
	UseCotMetas      bool    `json:"use_cot_metas"`
	UseCotCaption    bool    `json:"use_cot_caption"`
	UseCotLanguage   bool    `json:"use_cot_language"`

	UseADG           bool    `json:"use_adg"`
	CFGIntervalStart float64 `json:"cfg_interval_start"`
	CFGIntervalEnd   float64 `json:"cfg_interval_end"`
}

// TaskOutput is what a finished task produced.
type TaskOutput struct {
	AudioPaths []string

	// CotDuration is the duration the LM settled on, 0 if it reported none.
	CotDuration float64
}

// PollOptions controls PollUntilDone.
type PollOptions struct {
	Interval    time.Duration // default 2s
	DownloadDir string        // where files not on the shared volume are saved

	// OnProgress, if set, receives the service's progress while running.
	OnProgress func(progress float64, stage string)
}

type releaseData struct {
	TaskID string `json:"task_id"`
}

type taskResult struct {
	TaskID   string  `json:"task_id"`
	Status   int     `json:"status"` // 0=running, 1=success, 2=failed
	Result   string  `json:"result"` // JSON string with file info
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage"`
}

type resultItem struct {
	File   string `json:"file"`
	Status int    `json:"status"`
	Metas  struct {
		Duration flexFloat `json:"duration"`
	} `json:"metas"`
}

// flexFloat accepts a JSON number or a numeric string. Anything else
// decodes to 0 without error.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*f = flexFloat(v)
			return nil
		}
	}
	*f = 0
	return nil
}

// Generate submits a music generation task and returns the task ID.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var data releaseData
	if err := c.call(ctx, http.MethodPost, "/release_task", req, &data); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if data.TaskID == "" {
		return "", fmt.Errorf("submit task: empty task id")
	}
	return data.TaskID, nil
}

// PollUntilDone polls for task completion and returns the produced audio.
// Transport and decode errors are retried; cancellation of ctx stops polling.
func (c *Client) PollUntilDone(ctx context.Context, taskID string, opts PollOptions) (*TaskOutput, error) {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)
	body := map[string][]string{"task_id_list": {taskID}}
	log := c.logger.With(zap.String("task_id", taskID))

	for {
		r := limiter.Reserve()
		select {
		case <-ctx.Done():
			r.Cancel()
			return nil, fmt.Errorf("poll task %s: %w", taskID, ctx.Err())
		case <-time.After(r.Delay()):
		}

		var results []taskResult
		err := c.call(ctx, http.MethodPost, "/query_result", body, &results)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("poll task %s: %w", taskID, ctx.Err())
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Code < 500 {
				return nil, fmt.Errorf("poll task %s: %w", taskID, err)
			}
			log.Warn("poll error, retrying", zap.Error(err))
			continue
		}
		if len(results) == 0 {
			continue
		}

		task := results[0]
		switch task.Status {
		case 1:
			return c.collectOutput(ctx, taskID, task.Result, opts.DownloadDir)
		case 2:
			return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskFailed)
		default:
			if opts.OnProgress != nil && task.Progress > 0 {
				opts.OnProgress(task.Progress, task.Stage)
			}
		}
	}
}

// collectOutput parses the result JSON and resolves every audio file to a
// local path.
func (c *Client) collectOutput(ctx context.Context, taskID, resultJSON, downloadDir string) (*TaskOutput, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return nil, fmt.Errorf("parse result items: %w", err)
	}

	out := &TaskOutput{}
	for i, item := range items {
		if out.CotDuration <= 0 && item.Metas.Duration > 0 {
			out.CotDuration = float64(item.Metas.Duration)
		}
		if item.File == "" {
			continue
		}
		path, err := c.localAudioPath(ctx, taskID, i, item.File, downloadDir)
		if err != nil {
			return nil, err
		}
		out.AudioPaths = append(out.AudioPaths, path)
	}

	if len(out.AudioPaths) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNoAudio)
	}
	return out, nil
}

// localAudioPath maps a result file reference to a local file. The service
// returns references like "/v1/audio?path=outputs/task_xxx/0.mp3": the
// shared volume is tried first, then the file is downloaded.
func (c *Client) localAudioPath(ctx context.Context, taskID string, index int, fileRef, downloadDir string) (string, error) {
	u, err := url.Parse(fileRef)
	if err != nil {
		return c.downloadAudio(ctx, fileRef, filepath.Join(downloadDir, fmt.Sprintf("%s_%d.mp3", taskID, index)))
	}

	relPath := u.Query().Get("path")
	if relPath != "" && c.sharedDir != "" {
		localPath := filepath.Join(c.sharedDir, relPath)
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
	}
	if relPath == "" && u.Scheme == "" && filepath.IsAbs(u.Path) {
		if _, err := os.Stat(u.Path); err == nil {
			return u.Path, nil
		}
	}

	ext := filepath.Ext(relPath)
	if ext == "" {
		ext = filepath.Ext(u.Path)
	}
	if ext == "" {
		ext = ".mp3"
	}
	dest := filepath.Join(downloadDir, fmt.Sprintf("%s_%d%s", taskID, index, ext))
	return c.downloadAudio(ctx, fileRef, dest)
}

// downloadAudio fetches the audio file from the API and saves it at dest.
func (c *Client) downloadAudio(ctx context.Context, fileRef, dest string) (string, error) {
	dlURL := fileRef
	if u, err := url.Parse(fileRef); err != nil || u.Scheme == "" {
		dlURL = c.apiURL + fileRef
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if id := requestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Code: resp.StatusCode, Message: "download " + fileRef}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write audio: %w", err)
	}

	c.logger.Debug("downloaded audio", zap.String("ref", fileRef), zap.String("path", dest))
	return dest, nil
}
