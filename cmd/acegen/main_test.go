package main

import (
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/acegen/internal/generate"
)

func TestParseGenerateFlagsDefaults(t *testing.T) {
	gf, err := parseGenerateFlags([]string{"--prompt", "lofi beat"}, "", "out")
	require.NoError(t, err)

	want := generate.DefaultParams()
	want.Prompt = "lofi beat"
	want.OutputDir = "out"
	assert.Equal(t, want, gf.params)
	assert.False(t, gf.jsonOut)
	assert.Empty(t, gf.metricsFile)
}

func TestParseGenerateFlagsAll(t *testing.T) {
	gf, err := parseGenerateFlags([]string{
		"--prompt", "epic", "--lyrics", "[Verse]\nhi", "--instrumental",
		"--duration", "90", "--bpm", "120", "--key-scale", "C Major",
		"--time-signature", "4", "--vocal-language", "en",
		"--infer-steps", "50", "--guidance-scale", "7.5", "--batch-size", "2",
		"--seed", "42", "--audio-format", "flac", "--shift", "1",
		"--task-type", "cover", "--reference-audio", "ref.wav", "--src-audio", "src.wav",
		"--audio-codes", "<codes>", "--repainting-start", "5", "--repainting-end", "10",
		"--audio-cover-strength", "0.5", "--instruction", "do it",
		"--thinking", "--lm-temperature", "0.7", "--lm-cfg-scale", "1.5",
		"--lm-top-k", "40", "--lm-top-p", "0.95", "--lm-negative-prompt", "noise",
		"--no-cot-metas", "--no-cot-caption", "--no-cot-language",
		"--use-adg", "--cfg-interval-start", "0.1", "--cfg-interval-end", "0.9",
		"--output-dir", "/tmp/x", "--json", "--metrics-file", "m.prom",
	}, "", "out")
	require.NoError(t, err)

	p := gf.params
	assert.Equal(t, "epic", p.Prompt)
	assert.Equal(t, "[Verse]\nhi", p.Lyrics)
	assert.True(t, p.Instrumental)
	assert.Equal(t, 90.0, p.Duration)
	assert.Equal(t, 120, p.BPM)
	assert.Equal(t, "C Major", p.KeyScale)
	assert.Equal(t, "4", p.TimeSignature)
	assert.Equal(t, "en", p.VocalLanguage)
	assert.Equal(t, 50, p.InferSteps)
	assert.Equal(t, 7.5, p.GuidanceScale)
	assert.Equal(t, 2, p.BatchSize)
	assert.Equal(t, 42, p.Seed)
	assert.Equal(t, "flac", p.AudioFormat)
	assert.Equal(t, 1.0, p.Shift)
	assert.Equal(t, "cover", p.TaskType)
	assert.Equal(t, "ref.wav", p.ReferenceAudio)
	assert.Equal(t, "src.wav", p.SrcAudio)
	assert.Equal(t, "<codes>", p.AudioCodes)
	assert.Equal(t, 5.0, p.RepaintingStart)
	assert.Equal(t, 10.0, p.RepaintingEnd)
	assert.Equal(t, 0.5, p.AudioCoverStrength)
	assert.Equal(t, "do it", p.Instruction)
	assert.True(t, p.Thinking)
	assert.Equal(t, 0.7, p.LMTemperature)
	assert.Equal(t, 1.5, p.LMCFGScale)
	assert.Equal(t, 40, p.LMTopK)
	assert.Equal(t, 0.95, p.LMTopP)
	assert.Equal(t, "noise", p.LMNegativePrompt)
	assert.False(t, p.UseCotMetas)
	assert.False(t, p.UseCotCaption)
	assert.False(t, p.UseCotLanguage)
	assert.True(t, p.UseADG)
	assert.Equal(t, 0.1, p.CFGIntervalStart)
	assert.Equal(t, 0.9, p.CFGIntervalEnd)
	assert.Equal(t, "/tmp/x", p.OutputDir)
	assert.True(t, gf.jsonOut)
	assert.Equal(t, "m.prom", gf.metricsFile)
}

func TestParseGenerateFlagsEnvDefaults(t *testing.T) {
	env := `--infer-steps 32 --lm-negative-prompt "harsh noise" --json`
	gf, err := parseGenerateFlags([]string{"--prompt", "x", "--infer-steps", "16"}, env, "out")
	require.NoError(t, err)

	assert.Equal(t, 16, gf.params.InferSteps)
	assert.Equal(t, "harsh noise", gf.params.LMNegativePrompt)
	assert.True(t, gf.jsonOut)
}

func TestParseGenerateFlagsErrors(t *testing.T) {
	_, err := parseGenerateFlags([]string{"--prompt", "x", "--bpm", "fast"}, "", "out")
	assert.Error(t, err)

	_, err = parseGenerateFlags([]string{"--prompt", "x", "stray"}, "", "out")
	assert.Error(t, err)

	_, err = parseGenerateFlags([]string{"--prompt", "x"}, `--lyrics "unterminated`, "out")
	assert.Error(t, err)

	_, err = parseGenerateFlags([]string{"-h"}, "", "out")
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestParsePreprocessFlags(t *testing.T) {
	pf, err := parsePreprocessFlags([]string{"--dataset", "d.json", "--output", "t"})
	require.NoError(t, err)
	assert.Equal(t, "d.json", pf.dataset)
	assert.Equal(t, "t", pf.output)
	assert.Equal(t, 240.0, pf.maxDuration)
	assert.False(t, pf.jsonOut)
	assert.Empty(t, pf.metricsFile)

	pf, err = parsePreprocessFlags([]string{"--dataset", "d.json", "--output", "t", "--max-duration", "60", "--json", "--metrics-file", "pp.prom"})
	require.NoError(t, err)
	assert.Equal(t, 60.0, pf.maxDuration)
	assert.True(t, pf.jsonOut)
	assert.Equal(t, "pp.prom", pf.metricsFile)

	_, err = parsePreprocessFlags([]string{"--output", "t"})
	assert.Error(t, err)
	_, err = parsePreprocessFlags([]string{"--dataset", "d.json"})
	assert.Error(t, err)
}
