package acestep

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Code: 200, Data: raw})
}

func resultJSON(t *testing.T, items any) string {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	return string(raw)
}

func TestGenerateSendsRequest(t *testing.T) {
	var (
		gotAuth, gotID string
		gotBody        map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/release_task", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeEnvelope(t, w, releaseData{TaskID: "task-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", Options{APIKey: "secret"})
	ctx := WithRequestID(context.Background(), "req-42")
	id, err := c.Generate(ctx, GenerateRequest{
		TaskType: "text2music",
		Caption:  "lofi beat",
		Duration: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, "task-1", id)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "req-42", gotID)
	assert.Equal(t, "lofi beat", gotBody["caption"])
	assert.Equal(t, float64(-1), gotBody["audio_duration"])
	assert.NotContains(t, gotBody, "bpm")
}

func TestGenerateEmptyTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, releaseData{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Options{}).Generate(context.Background(), GenerateRequest{})
	assert.Error(t, err)
}

func TestCallEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope{Code: 422, Error: "bad caption"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Options{}).Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.Code)
	assert.Equal(t, "bad caption", apiErr.Message)
}

func TestCallHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Options{}).Health(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "nope", apiErr.Message)
}

func TestPollUntilDoneSharedVolume(t *testing.T) {
	shared := t.TempDir()
	local := filepath.Join(shared, "outputs", "t1", "0.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte("mp3"), 0o644))

	var polls atomic.Int32
	var progressSeen []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query_result", r.URL.Path)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{"t1"}, body["task_id_list"])

		if polls.Add(1) == 1 {
			writeEnvelope(t, w, []taskResult{{TaskID: "t1", Status: 0, Progress: 0.4, Stage: "diffusion"}})
			return
		}
		items := resultJSON(t, []map[string]any{{
			"file":   "/v1/audio?path=outputs/t1/0.mp3",
			"status": 1,
			"metas":  map[string]any{"duration": "187.5"},
		}})
		writeEnvelope(t, w, []taskResult{{TaskID: "t1", Status: 1, Result: items}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{SharedDir: shared})
	out, err := c.PollUntilDone(context.Background(), "t1", PollOptions{
		Interval:    5 * time.Millisecond,
		DownloadDir: t.TempDir(),
		OnProgress:  func(p float64, _ string) { progressSeen = append(progressSeen, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{local}, out.AudioPaths)
	assert.InDelta(t, 187.5, out.CotDuration, 1e-9)
	assert.Equal(t, []float64{0.4}, progressSeen)
	assert.Equal(t, int32(2), polls.Load())
}

func TestPollUntilDoneDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/query_result":
			items := resultJSON(t, []map[string]any{
				{"file": "/v1/audio?path=outputs/t2/0.flac", "metas": map[string]any{"duration": 95}},
				{"file": "/v1/audio?path=outputs/t2/1.flac"},
			})
			writeEnvelope(t, w, []taskResult{{TaskID: "t2", Status: 1, Result: items}})
		case "/v1/audio":
			_, _ = w.Write([]byte("audio:" + r.URL.Query().Get("path")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewClient(srv.URL, Options{SharedDir: t.TempDir()})
	out, err := c.PollUntilDone(context.Background(), "t2", PollOptions{Interval: time.Millisecond, DownloadDir: dir})
	require.NoError(t, err)

	require.Len(t, out.AudioPaths, 2)
	assert.Equal(t, filepath.Join(dir, "t2_0.flac"), out.AudioPaths[0])
	assert.Equal(t, filepath.Join(dir, "t2_1.flac"), out.AudioPaths[1])
	assert.InDelta(t, 95.0, out.CotDuration, 1e-9)

	data, err := os.ReadFile(out.AudioPaths[1])
	require.NoError(t, err)
	assert.Equal(t, "audio:outputs/t2/1.flac", string(data))
}

func TestPollUntilDoneFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler func(t *testing.T, w http.ResponseWriter)
		wantErr error
	}{
		{
			name: "task failed",
			handler: func(t *testing.T, w http.ResponseWriter) {
				writeEnvelope(t, w, []taskResult{{TaskID: "t", Status: 2}})
			},
			wantErr: ErrTaskFailed,
		},
		{
			name: "no audio",
			handler: func(t *testing.T, w http.ResponseWriter) {
				writeEnvelope(t, w, []taskResult{{TaskID: "t", Status: 1, Result: "[]"}})
			},
			wantErr: ErrNoAudio,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.handler(t, w)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, Options{}).PollUntilDone(context.Background(), "t",
				PollOptions{Interval: time.Millisecond, DownloadDir: t.TempDir()})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPollUntilDoneRetriesServerErrors(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(t, w, []taskResult{{TaskID: "t", Status: 2}})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Options{}).PollUntilDone(context.Background(), "t",
		PollOptions{Interval: time.Millisecond})
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.Equal(t, int32(3), polls.Load())
}

func TestPollUntilDoneCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []taskResult{{TaskID: "t", Status: 0}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(srv.URL, Options{}).PollUntilDone(ctx, "t", PollOptions{Interval: 20 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitForHealthy(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probes.Add(1) < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(t, w, HealthStatus{Status: "ok", LLMInitialized: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{HealthRetry: time.Millisecond})
	hs, err := c.WaitForHealthy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", hs.Status)
	assert.True(t, hs.LLMInitialized)
}

func TestWaitForHealthyDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, Options{HealthRetry: 5 * time.Millisecond}).WaitForHealthy(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInitLMAndLoRA(t *testing.T) {
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies[r.URL.Path] = body
		switch r.URL.Path {
		case "/v1/lm/init":
			writeEnvelope(t, w, LMInitResult{Message: "loaded", Initialized: true})
		default:
			writeEnvelope(t, w, messageResp{Message: "ok " + r.URL.Path})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{})
	ctx := context.Background()

	res, err := c.InitLM(ctx, LMInit{Backend: "vllm", OffloadToCPU: true})
	require.NoError(t, err)
	assert.True(t, res.Initialized)
	assert.Equal(t, "vllm", bodies["/v1/lm/init"]["backend"])
	assert.Equal(t, true, bodies["/v1/lm/init"]["offload_to_cpu"])
	assert.NotContains(t, bodies["/v1/lm/init"], "lm_model_path")

	msg, err := c.LoadLoRA(ctx, "/loras/a")
	require.NoError(t, err)
	assert.Equal(t, "ok /v1/lora/load", msg)
	assert.Equal(t, "/loras/a", bodies["/v1/lora/load"]["lora_path"])

	_, err = c.SetLoRAScale(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, bodies["/v1/lora/scale"]["scale"])
}

func TestPreprocess(t *testing.T) {
	var got PreprocessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/dataset/preprocess", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(t, w, PreprocessResult{OutputPaths: []string{"a.pt", "b.pt"}, Status: "done"})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, Options{}).Preprocess(context.Background(), PreprocessRequest{
		Dataset:     json.RawMessage(`{"samples":[]}`),
		OutputDir:   "/tmp/out",
		MaxDuration: 240,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.pt", "b.pt"}, res.OutputPaths)
	assert.JSONEq(t, `{"samples":[]}`, string(got.Dataset))
	assert.Equal(t, "/tmp/out", got.OutputDir)
	assert.Equal(t, 240.0, got.MaxDuration)
}

func TestFlexFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`120`, 120},
		{`"187.5"`, 187.5},
		{`"abc"`, 0},
		{`null`, 0},
		{`{"x":1}`, 0},
	}
	for _, tt := range tests {
		var f flexFloat
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f), tt.in)
		assert.Equal(t, tt.want, float64(f), tt.in)
	}
}
