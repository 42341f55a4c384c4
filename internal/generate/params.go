package generate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/satindergrewal/acegen/internal/acestep"
	"github.com/satindergrewal/acegen/internal/audio"
)

// Validation errors returned by Params.Validate.
var (
	ErrEmptyPrompt        = errors.New("generate: prompt is required")
	ErrInvalidTaskType    = errors.New("generate: invalid task type")
	ErrInvalidAudioFormat = errors.New("generate: invalid audio format")
)

// TaskTypes lists the generation modes the service accepts.
var TaskTypes = []string{"text2music", "cover", "repaint", "lego", "extract", "complete"}

const (
	defaultInstruction      = "Fill the audio semantic mask based on the given conditions:"
	defaultLMNegativePrompt = "NO USER INPUT"
)

// Params is one generation request as the user states it.
type Params struct {
	// Basic
	Prompt        string
	Lyrics        string
	Instrumental  bool
	Duration      float64 // seconds, <= 0 means auto
	BPM           int     // <= 0 lets the model choose
	KeyScale      string
	TimeSignature string
	VocalLanguage string

	// Sampling
	InferSteps    int
	GuidanceScale float64
	BatchSize     int
	Seed          int // < 0 means random
	AudioFormat   string
	Shift         float64

	// Task
	TaskType           string
	ReferenceAudio     string
	SrcAudio           string
	AudioCodes         string
	RepaintingStart    float64
	RepaintingEnd      float64
	AudioCoverStrength float64
	Instruction        string

	// LM / chain of thought
	Thinking         bool
	LMTemperature    float64
	LMCFGScale       float64
	LMTopK           int
	LMTopP           float64
	LMNegativePrompt string
	UseCotMetas      bool
	UseCotCaption    bool
	UseCotLanguage   bool

	// Advanced
	UseADG           bool
	CFGIntervalStart float64
	CFGIntervalEnd   float64

	OutputDir string
}

// DefaultParams returns Params with the CLI defaults filled in.
func DefaultParams() Params {
	return Params{
		VocalLanguage:      "auto",
		InferSteps:         8,
		GuidanceScale:      10.0,
		BatchSize:          1,
		Seed:               -1,
		AudioFormat:        "mp3",
		Shift:              3.0,
		TaskType:           "text2music",
		RepaintingEnd:      -1,
		AudioCoverStrength: 1.0,
		LMTemperature:      0.85,
		LMCFGScale:         2.0,
		LMTopP:             0.9,
		UseCotMetas:        true,
		UseCotCaption:      true,
		UseCotLanguage:     true,
		CFGIntervalEnd:     1.0,
		OutputDir:          "output",
	}
}

// Validate checks the fields the service would otherwise reject late.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if !validTaskType(p.TaskType) {
		return fmt.Errorf("%w: %q (want one of %s)", ErrInvalidTaskType, p.TaskType, strings.Join(TaskTypes, ", "))
	}
	if !audio.ValidFormat(p.AudioFormat) {
		return fmt.Errorf("%w: %q (want one of %s)", ErrInvalidAudioFormat, p.AudioFormat, strings.Join(audio.Formats, ", "))
	}
	return nil
}

// effectiveLyrics drops lyrics for instrumental runs.
func (p Params) effectiveLyrics() string {
	if p.Instrumental {
		return ""
	}
	return p.Lyrics
}

// request maps p onto the service request. duration is the resolved
// length, -1 when the service should decide.
func (p Params) request(duration float64) acestep.GenerateRequest {
	req := acestep.GenerateRequest{
		TaskType:      p.TaskType,
		Caption:       p.Prompt,
		Lyrics:        p.effectiveLyrics(),
		Instrumental:  p.Instrumental,
		Duration:      duration,
		KeyScale:      p.KeyScale,
		TimeSignature: p.TimeSignature,
		VocalLanguage: p.VocalLanguage,

		InferenceSteps: p.InferSteps,
		GuidanceScale:  p.GuidanceScale,
		Shift:          p.Shift,
		Seed:           p.Seed,
		UseRandomSeed:  p.Seed < 0,
		BatchSize:      p.BatchSize,
		AudioFormat:    p.AudioFormat,

		ReferenceAudioPath: p.ReferenceAudio,
		SrcAudioPath:       p.SrcAudio,
		AudioCodes:         p.AudioCodes,
		RepaintingStart:    p.RepaintingStart,
		RepaintingEnd:      p.RepaintingEnd,
		AudioCoverStrength: p.AudioCoverStrength,
		Instruction:        p.Instruction,

		Thinking:         p.Thinking,
		LMTemperature:    p.LMTemperature,
		LMCFGScale:       p.LMCFGScale,
		LMTopK:           p.LMTopK,
		LMTopP:           p.LMTopP,
		LMNegativePrompt: p.LMNegativePrompt,
		UseCotMetas:      p.UseCotMetas,
		UseCotCaption:    p.UseCotCaption,
		UseCotLanguage:   p.UseCotLanguage,

		UseADG:           p.UseADG,
		CFGIntervalStart: p.CFGIntervalStart,
		CFGIntervalEnd:   p.CFGIntervalEnd,
	}
	if p.BPM > 0 {
		bpm := p.BPM
		req.BPM = &bpm
	}
	if req.Seed < 0 {
		req.Seed = -1
	}
	if req.VocalLanguage == "" {
		req.VocalLanguage = "auto"
	}
	if req.Instruction == "" {
		req.Instruction = defaultInstruction
	}
	if req.LMNegativePrompt == "" {
		req.LMNegativePrompt = defaultLMNegativePrompt
	}
	return req
}

func validTaskType(t string) bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}
