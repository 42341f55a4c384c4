// Package lora reads the LoRA auto-load config file and picks the adapter
// a generation session should load.
package lora

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Instance is one adapter entry in the config file. Enabled and Scale are
// kept raw: only a literal false disables an entry, and a scale may be
// written as a number or a numeric string.
type Instance struct {
	Name    string
	Path    string
	Enabled json.RawMessage
	Scale   json.RawMessage
}

// File is the config file layout. Fields are kept raw so a wrongly typed
// default or a malformed entry is skipped instead of failing the whole file.
type File struct {
	Default   json.RawMessage   `json:"default"`
	Instances []json.RawMessage `json:"instances"`
}

// Selection is the adapter to load.
type Selection struct {
	Name string
	Path string // absolute, or as written if the config path was relative

	// HasScale is false when the entry leaves the scale to the service.
	HasScale bool
	Scale    float64 // clamped to [0, 1]

	// ScaleErr is set when the entry has a scale that is not a number.
	// The adapter is still selected.
	ScaleErr error
}

// Load reads the config at path and selects an adapter. A missing file or a
// file without enabled instances yields (nil, nil).
func Load(path string) (*Selection, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lora config: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse selects an adapter from raw config bytes. Relative instance paths
// are resolved against baseDir.
func Parse(data []byte, baseDir string) (*Selection, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse lora config: %w", err)
	}
	if _, ok := root.(map[string]any); !ok {
		return nil, fmt.Errorf("lora config invalid: root is not an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse lora config: %w", err)
	}
	f := File{Default: fields["default"]}
	if err := json.Unmarshal(fields["instances"], &f.Instances); err != nil {
		// "instances" is missing or not a list; nothing to select.
		return nil, nil
	}

	inst := f.selectInstance()
	if inst == nil {
		return nil, nil
	}

	p := strings.TrimSpace(inst.Path)
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Clean(filepath.Join(baseDir, p))
	}

	sel := &Selection{Name: inst.Name, Path: p}
	if len(inst.Scale) > 0 && !isNull(inst.Scale) {
		v, err := parseScale(inst.Scale)
		if err != nil {
			sel.ScaleErr = err
		} else {
			sel.HasScale = true
			sel.Scale = max(0, min(1, v))
		}
	}
	return sel, nil
}

// selectInstance returns the enabled instance named by Default, or the
// first enabled one.
func (f File) selectInstance() *Instance {
	var enabled []Instance
	for _, raw := range f.Instances {
		inst, ok := decodeInstance(raw)
		if !ok || strings.TrimSpace(inst.Path) == "" {
			continue
		}
		if string(inst.Enabled) == "false" {
			continue
		}
		enabled = append(enabled, inst)
	}
	if len(enabled) == 0 {
		return nil
	}

	var def string
	if json.Unmarshal(f.Default, &def) == nil && strings.TrimSpace(def) != "" {
		for i := range enabled {
			if enabled[i].Name == def {
				return &enabled[i]
			}
		}
	}
	return &enabled[0]
}

// decodeInstance accepts any JSON object with a string path. A name that
// is not a string is treated as absent.
func decodeInstance(raw json.RawMessage) (Instance, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Instance{}, false
	}
	var inst Instance
	if err := json.Unmarshal(fields["path"], &inst.Path); err != nil {
		return Instance{}, false
	}
	_ = json.Unmarshal(fields["name"], &inst.Name)
	inst.Enabled = bytes.TrimSpace(fields["enabled"])
	inst.Scale = bytes.TrimSpace(fields["scale"])
	return inst, true
}

// parseScale accepts a JSON number, a numeric string or a boolean.
func parseScale(raw json.RawMessage) (float64, error) {
	var v float64
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("lora scale %s: %w", raw, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("lora scale %q is not a number", s)
		}
		v = f
	case 't':
		v = 1
	case 'f':
		v = 0
	default:
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, fmt.Errorf("lora scale %s is not a number", raw)
		}
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("lora scale %s is not a number", raw)
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
