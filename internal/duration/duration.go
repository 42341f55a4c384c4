// Package duration decides how long a generated track should be when the
// caller did not say so explicitly.
//
// Resolution walks an ordered chain of strategies (user value, audio context,
// language-model chain-of-thought, local heuristic). The first strategy that
// does not defer wins. Audio and LM strategies leave the number to the
// pipeline; Finalize fills it in after generation.
package duration

// Source names the strategy that produced a duration.
type Source string

const (
	SourceUser          Source = "user"
	SourceAudioInferred Source = "audio_inferred"
	SourceLMCoT         Source = "lm_cot"
	SourceHeuristic     Source = "heuristic"
)

// Request is the raw input for one generation.
type Request struct {
	Prompt       string
	Lyrics       string
	Instrumental bool

	// UserSeconds <= 0 means auto.
	UserSeconds float64

	HasReferenceAudio bool
	HasSourceAudio    bool
	LMAvailable       bool
}

// Resolution is a duration and its provenance. Seconds == 0 means the value
// is left to the pipeline.
type Resolution struct {
	Seconds float64 `json:"resolved_duration_seconds"`
	Source  Source  `json:"duration_source"`
}

// Resolved reports whether a numeric value is attached.
func (r Resolution) Resolved() bool {
	return r.Seconds > 0
}

// PipelineSeconds is the value to send to the pipeline: the resolved
// seconds, or -1 for "unspecified".
func (r Resolution) PipelineSeconds() float64 {
	if !r.Resolved() {
		return -1
	}
	return r.Seconds
}

// strategy returns ok=false to defer to the next one in the chain.
type strategy func(req Request) (res Resolution, ok bool)

var resolveChain = []strategy{
	fromUser,
	fromAudioContext,
	fromLanguageModel,
	fromHeuristic,
}

// Resolve picks the duration for req before generation starts.
func Resolve(req Request) Resolution {
	for _, s := range resolveChain {
		if res, ok := s(req); ok {
			return res
		}
	}
	// fromHeuristic never defers.
	return Resolution{}
}

// Finalize applies the post-generation override. An unresolved resolution
// adopts a positive cotSeconds reported by the pipeline; if that is missing
// the heuristic is used as a safety net. Resolved values pass through.
func Finalize(res Resolution, req Request, cotSeconds float64) Resolution {
	if res.Resolved() {
		return res
	}
	if cotSeconds > 0 {
		return Resolution{Seconds: cotSeconds, Source: SourceLMCoT}
	}
	out, _ := fromHeuristic(req)
	return out
}

func fromUser(req Request) (Resolution, bool) {
	if req.UserSeconds > 0 {
		return Resolution{Seconds: req.UserSeconds, Source: SourceUser}, true
	}
	return Resolution{}, false
}

func fromAudioContext(req Request) (Resolution, bool) {
	if req.HasReferenceAudio || req.HasSourceAudio {
		return Resolution{Source: SourceAudioInferred}, true
	}
	return Resolution{}, false
}

func fromLanguageModel(req Request) (Resolution, bool) {
	if req.LMAvailable {
		return Resolution{Source: SourceLMCoT}, true
	}
	return Resolution{}, false
}

func fromHeuristic(req Request) (Resolution, bool) {
	secs := Estimate(req.Prompt, req.Lyrics, req.Instrumental)
	return Resolution{Seconds: float64(secs), Source: SourceHeuristic}, true
}
