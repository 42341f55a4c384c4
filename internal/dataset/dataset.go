// Package dataset reads labeled training datasets and hands them to the
// service for tensor preprocessing.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sentinel errors returned by Load and Preprocess.
var (
	ErrDatasetNotFound = errors.New("dataset: file not found")
	ErrNoLabeled       = errors.New("dataset: no labeled samples")
)

// NoLabeledMessage is what users see for ErrNoLabeled.
const NoLabeledMessage = "No labeled samples found. Please label samples before preprocessing."

// Message returns the user-facing text for err.
func Message(err error) string {
	if errors.Is(err, ErrNoLabeled) {
		return NoLabeledMessage
	}
	return err.Error()
}

// Sample is the part of a dataset entry acegen looks at. Other fields stay
// in the raw document and reach the service untouched.
type Sample struct {
	AudioPath string  `json:"audio_path"`
	Filename  string  `json:"filename"`
	Caption   string  `json:"caption"`
	Lyrics    string  `json:"lyrics"`
	Labeled   bool    `json:"labeled"`
	Duration  float64 `json:"duration,omitempty"`
}

// Dataset is a dataset JSON document.
type Dataset struct {
	Metadata map[string]any `json:"metadata"`
	Samples  []Sample       `json:"samples"`

	dir string // directory of the file, for relative audio paths
	raw json.RawMessage
}

// Load reads the dataset at path.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	d.dir = filepath.Dir(path)
	return d, nil
}

// Parse decodes a dataset document.
func Parse(data []byte) (*Dataset, error) {
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	d.raw = json.RawMessage(data)
	return &d, nil
}

// Counts returns the number of labeled samples and the total.
func (d *Dataset) Counts() (labeled, total int) {
	for _, s := range d.Samples {
		if s.Labeled {
			labeled++
		}
	}
	return labeled, len(d.Samples)
}

// Raw returns the document as it was read.
func (d *Dataset) Raw() json.RawMessage {
	return d.raw
}

func (d *Dataset) audioPath(s Sample) string {
	if s.AudioPath == "" || filepath.IsAbs(s.AudioPath) || d.dir == "" {
		return s.AudioPath
	}
	return filepath.Join(d.dir, s.AudioPath)
}
