package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/acegen/internal/acestep"
)

const sampleDataset = `{
	"metadata": {"name": "demo", "custom_tag": "keep me"},
	"samples": [
		{"id": "a", "audio_path": "audio/a.wav", "caption": "lofi", "labeled": true},
		{"id": "b", "audio_path": "/abs/b.wav", "caption": "rock", "labeled": true},
		{"id": "c", "audio_path": "audio/c.wav", "labeled": false},
		{"id": "d", "audio_path": "audio/d.wav", "labeled": true, "duration": 300}
	]
}`

type fakePreprocessor struct {
	req acestep.PreprocessRequest
	res acestep.PreprocessResult
	err error
}

func (f *fakePreprocessor) Preprocess(ctx context.Context, req acestep.PreprocessRequest) (acestep.PreprocessResult, error) {
	f.req = req
	return f.res, f.err
}

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	d, err := Load(writeDataset(t, sampleDataset))
	require.NoError(t, err)

	labeled, total := d.Counts()
	assert.Equal(t, 3, labeled)
	assert.Equal(t, 4, total)
	assert.Equal(t, "demo", d.Metadata["name"])
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	_, err = Load(writeDataset(t, `{"samples": [`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDatasetNotFound)
}

func TestPreprocess(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	d, err := Load(path)
	require.NoError(t, err)

	var probed []string
	var calls atomic.Int32
	probe := func(ctx context.Context, p string) (float64, error) {
		calls.Add(1)
		switch p {
		case filepath.Join(filepath.Dir(path), "audio", "a.wav"):
			return 120, nil
		case "/abs/b.wav":
			return 250, nil
		}
		probed = append(probed, p)
		return 0, errors.New("unexpected probe")
	}

	out := filepath.Join(t.TempDir(), "tensors")
	pp := &fakePreprocessor{res: acestep.PreprocessResult{OutputPaths: []string{"a.pt", "b.pt", "d.pt"}, Status: "Preprocessed 3 samples"}}

	sum, err := d.Preprocess(context.Background(), pp, Options{
		OutputDir:   out,
		MaxDuration: 240,
		ProbeAudio:  probe,
		Concurrency: 1,
	})
	require.NoError(t, err)

	assert.Empty(t, probed)
	assert.Equal(t, int32(2), calls.Load())
	assert.DirExists(t, out)

	assert.Equal(t, &Summary{
		Status:         "complete",
		Message:        "Preprocessed 3 samples",
		OutputFiles:    3,
		OutputDir:      out,
		Labeled:        3,
		Total:          4,
		Truncated:      2,
		LabeledSeconds: 670,
	}, sum)

	assert.Equal(t, out, pp.req.OutputDir)
	assert.Equal(t, 240.0, pp.req.MaxDuration)
	var forwarded map[string]any
	require.NoError(t, json.Unmarshal(pp.req.Dataset, &forwarded))
	assert.Equal(t, "keep me", forwarded["metadata"].(map[string]any)["custom_tag"])
}

func TestPreprocessUnreadableAudioSkipped(t *testing.T) {
	d, err := Parse([]byte(`{"samples":[{"audio_path":"/x.wav","labeled":true}]}`))
	require.NoError(t, err)

	sum, err := d.Preprocess(context.Background(), &fakePreprocessor{}, Options{
		OutputDir:  t.TempDir(),
		ProbeAudio: func(ctx context.Context, p string) (float64, error) { return 0, os.ErrNotExist },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Truncated)
	assert.Equal(t, 0.0, sum.LabeledSeconds)
	assert.Equal(t, 1, sum.Labeled)
}

func TestPreprocessNoLabeled(t *testing.T) {
	d, err := Parse([]byte(`{"samples":[{"audio_path":"/x.wav"}]}`))
	require.NoError(t, err)

	pp := &fakePreprocessor{}
	_, err = d.Preprocess(context.Background(), pp, Options{OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoLabeled)
	assert.Nil(t, pp.req.Dataset)
	assert.Equal(t, NoLabeledMessage, Message(fmt.Errorf("preprocess: %w", err)))

	labeled, total := d.Counts()
	raw, err := json.Marshal(NewErrorSummary(err, labeled, total))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "error",
		"message": "No labeled samples found. Please label samples before preprocessing.",
		"labeled": 0,
		"total": 1
	}`, string(raw))
}

func TestPreprocessServiceError(t *testing.T) {
	d, err := Parse([]byte(`{"samples":[{"labeled":true,"duration":10}]}`))
	require.NoError(t, err)

	pp := &fakePreprocessor{err: &acestep.APIError{Code: 500, Message: "vae failed"}}
	_, err = d.Preprocess(context.Background(), pp, Options{OutputDir: t.TempDir()})

	var apiErr *acestep.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, err.Error(), Message(err))
}

func TestPreprocessCancelled(t *testing.T) {
	d, err := Parse([]byte(`{"samples":[{"audio_path":"/x.wav","labeled":true}]}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pp := &fakePreprocessor{}
	_, err = d.Preprocess(ctx, pp, Options{
		OutputDir:  t.TempDir(),
		ProbeAudio: func(ctx context.Context, p string) (float64, error) { return 0, ctx.Err() },
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, pp.req.Dataset)
}
