// Package transcript post-processes raw transcriber output before it reaches
// wake-word spotting.
//
// Batch speech models fed near-silent audio tend to emit stock phrases
// learned from subtitle corpora ("sous-titres...", "thanks for watching",
// music glyphs). The [Filter] rejects those along with statistically
// implausible output: too few real characters, impossible speaking rates,
// and heavily repeated words.
package transcript

import (
	"strings"
	"time"
	"unicode"
)

// Default filter parameters.
const (
	// DefaultMinAlnum is the minimum count of letters or digits a
	// transcript needs to be considered real speech.
	DefaultMinAlnum = 3

	// DefaultMaxWordsPerSec is the speaking-rate ceiling applied to
	// transcripts of more than one second of audio.
	DefaultMaxWordsPerSec = 6.0

	// repetitionMinWords is the word count from which the unique-word
	// ratio rule applies.
	repetitionMinWords = 6

	// repetitionMinRatio is the minimum unique/total word ratio.
	repetitionMinRatio = 0.5
)

// DefaultArtifacts is the stock-phrase list matched case-insensitively as
// substrings. Mixed French/English because whisper's subtitle artifacts are.
var DefaultArtifacts = []string{
	"sous-titres",
	"sous-titre",
	"amara.org",
	"amara",
	"merci d'avoir regardé",
	"merci de votre attention",
	"traduisez",
	"subscribe",
	"abonnez",
	"...",
	"…",
	"♪",
	"🎵",
}

// Option configures a Filter.
type Option func(*Filter)

// WithArtifacts replaces the default artifact phrase list.
func WithArtifacts(phrases []string) Option {
	return func(f *Filter) { f.artifacts = phrases }
}

// WithMinAlnum sets the minimum letter/digit count.
func WithMinAlnum(n int) Option {
	return func(f *Filter) { f.minAlnum = n }
}

// WithMaxWordsPerSec sets the speaking-rate ceiling.
func WithMaxWordsPerSec(r float64) Option {
	return func(f *Filter) { f.maxWordsPerSec = r }
}

// Filter detects transcriber hallucinations. Read-only after construction,
// safe for concurrent use.
type Filter struct {
	artifacts      []string
	minAlnum       int
	maxWordsPerSec float64
}

// NewFilter returns a Filter with the default rules.
func NewFilter(opts ...Option) *Filter {
	f := &Filter{
		artifacts:      DefaultArtifacts,
		minAlnum:       DefaultMinAlnum,
		maxWordsPerSec: DefaultMaxWordsPerSec,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// IsHallucination reports whether text should be rejected as transcriber
// noise. audioDur is the duration of the audio the text was produced from
// and drives the speaking-rate rule; pass 0 when unknown to skip it.
func (f *Filter) IsHallucination(text string, audioDur time.Duration) bool {
	trimmed := strings.TrimSpace(text)
	if countAlnum(trimmed) < f.minAlnum {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range f.artifacts {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	words := strings.Fields(lower)

	if audioDur > time.Second && f.maxWordsPerSec > 0 {
		rate := float64(len(words)) / audioDur.Seconds()
		if rate > f.maxWordsPerSec {
			return true
		}
	}

	if len(words) >= repetitionMinWords {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) < repetitionMinRatio {
			return true
		}
	}

	return false
}

// countAlnum counts letters and digits in s.
func countAlnum(s string) int {
	var n int
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
