// Package audio inspects audio files on local disk.
package audio

import (
	"path/filepath"
	"strings"
)

// Supported output formats of the generation service.
var Formats = []string{"mp3", "flac", "wav"}

// ValidFormat reports whether f is one of Formats.
func ValidFormat(f string) bool {
	for _, v := range Formats {
		if v == f {
			return true
		}
	}
	return false
}

func isWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}
