package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cwbudde/wav"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrNoDuration is returned when a probe succeeds but reports no usable length.
var ErrNoDuration = errors.New("audio: duration unavailable")

// Duration returns the length of the audio file at path in seconds.
// WAV headers are decoded directly; everything else (and any WAV the
// decoder rejects) goes through ffprobe.
func Duration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("audio %s: %w", path, err)
	}
	if isWAV(path) {
		if secs, err := wavDuration(path); err == nil {
			return secs, nil
		}
	}
	return probeDuration(ctx, path)
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("read wav header: %w", err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return 0, fmt.Errorf("wav header incomplete")
	}

	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	if d <= 0 {
		return 0, ErrNoDuration
	}
	return d.Seconds(), nil
}

type probeData struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeDuration runs ffprobe on path. A deadline on ctx becomes the probe
// timeout.
func probeDuration(ctx context.Context, path string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		data string
		err  error
	)
	if deadline, ok := ctx.Deadline(); ok {
		data, err = ffmpeg.ProbeWithTimeout(path, time.Until(deadline), ffmpeg.KwArgs{})
	} else {
		data, err = ffmpeg.Probe(path)
	}
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(data)
}

func parseProbe(data string) (float64, error) {
	var pd probeData
	if err := json.Unmarshal([]byte(data), &pd); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	secs, err := strconv.ParseFloat(pd.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return 0, ErrNoDuration
	}
	return secs, nil
}
