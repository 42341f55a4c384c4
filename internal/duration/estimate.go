package duration

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	hintMin = 10
	hintMax = 600

	estimateMin = 30
	estimateMax = 240

	// Sung delivery rate, words per second.
	wordsPerSecond = 2.35
	paddingSeconds = 18.0
	sectionSeconds = 4.0

	instrumentalBase = 95.0
	captionOnlyBase  = 75.0
	loopCap          = 60.0
)

var (
	clockHint   = regexp.MustCompile(`\b(\d{1,2}):([0-5]\d)\b`)
	minuteHint  = regexp.MustCompile(`\b(\d{1,2})\s*(?:m|min|mins|minute|minutes)\b(?:\s*(\d{1,2})\s*(?:s|sec|secs|second|seconds)\b)?`)
	secondsHint = regexp.MustCompile(`\b(\d{2,3})\s*(?:s|sec|secs|second|seconds)\b`)

	lyricWord     = regexp.MustCompile(`[A-Za-z0-9']+`)
	sectionMarker = regexp.MustCompile(`(?im)^\s*\[(?:verse|chorus|bridge|hook|pre-chorus|intro|outro|refrain)[^\]]*\]`)

	shortKeywords = []string{"jingle", "sting", "bumper", "snippet", "short intro", "short outro"}
	longKeywords  = []string{"epic", "cinematic", "anthem", "extended", "progressive", "suite", "full length", "long build"}
)

// ExtractHint looks for an explicit duration written in text: "3:45",
// "2 min 30 sec", "3 minutes", "90 sec", in that order of preference.
// Values outside [10, 600] seconds are skipped.
func ExtractHint(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	text = unicodeFold(strings.ToLower(text))

	for _, m := range clockHint.FindAllStringSubmatch(text, -1) {
		if secs := atoi(m[1])*60 + atoi(m[2]); inHintRange(secs) {
			return secs, true
		}
	}

	for _, m := range minuteHint.FindAllStringSubmatch(text, -1) {
		secs := atoi(m[1]) * 60
		if m[2] != "" {
			secs += atoi(m[2])
		}
		if inHintRange(secs) {
			return secs, true
		}
	}

	for _, m := range secondsHint.FindAllStringSubmatch(text, -1) {
		if secs := atoi(m[1]); inHintRange(secs) {
			return secs, true
		}
	}

	return 0, false
}

// Estimate computes a duration in seconds from the text alone. An explicit
// hint wins and is kept within [10, 600]; otherwise the estimate comes from
// lyric length, section count and prompt keywords and is kept within
// [30, 240]. Both results are multiples of 5.
func Estimate(prompt, lyrics string, instrumental bool) int {
	if hint, ok := ExtractHint(prompt + "\n" + lyrics); ok {
		return clamp(roundTo5(float64(hint)), hintMin, hintMax)
	}

	promptLower := strings.ToLower(prompt)
	words := len(lyricWord.FindAllString(lyrics, -1))
	sections := len(sectionMarker.FindAllString(unicodeFold(lyrics), -1))

	var estimate float64
	switch {
	case words > 0:
		estimate = float64(words)/wordsPerSecond + paddingSeconds + sectionSeconds*float64(sections)
	case instrumental:
		estimate = instrumentalBase
	default:
		estimate = captionOnlyBase
	}

	if containsAny(promptLower, shortKeywords) {
		estimate -= 20
	}
	if containsAny(promptLower, longKeywords) {
		estimate += 30
	}
	if words == 0 && strings.Contains(promptLower, "loop") {
		estimate = math.Min(estimate, loopCap)
	}

	return clamp(roundTo5(estimate), estimateMin, estimateMax)
}

// unicodeFold rewrites text so the ASCII-only \b, \d and \s classes of
// regexp agree with Unicode text: decimal digits of any script become their
// ASCII digit, other letters and numbers become 'x', and whitespace other
// than '\n' becomes ' '. Line structure is preserved for (?m) anchors.
func unicodeFold(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r < utf8.RuneSelf && r != '\v' && (r < 0x1c || r > 0x1f):
			return r
		case unicode.IsDigit(r):
			return '0' + digitValue(r)
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			return 'x'
		case unicode.IsSpace(r) || r == '\v' || (r >= 0x1c && r <= 0x1f):
			return ' '
		}
		return r
	}, text)
}

// digitValue relies on every Unicode decimal digit run starting at zero
// and running in multiples of ten.
func digitValue(r rune) rune {
	base := r
	for unicode.IsDigit(base - 1) {
		base--
	}
	return (r - base) % 10
}

// roundTo5 rounds half to even on the x/5 quotient, so 127.5 -> 130 and
// 122.5 -> 120.
func roundTo5(x float64) int {
	return int(math.RoundToEven(x/5) * 5)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func inHintRange(secs int) bool {
	return secs >= hintMin && secs <= hintMax
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// atoi is only fed regexp digit groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
