// Package wake spots the assistant's wake word in transcribed text and
// extracts the trailing command.
//
// The primary pass is a plain substring scan over a list of variants —
// transcribers mangle "exo" into "écho", "expo", "x o" and friends, so the
// variant list does the heavy lifting. When no variant appears verbatim, a
// phonetic pass compares each token against the primary variants using
// Double Metaphone codes and Jaro-Winkler similarity.
package wake

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultVariants lists the transcriber spellings accepted as the wake word,
// most common first.
var DefaultVariants = []string{
	"exo", "écho", "echo", "expo", "ego", "exc", "exot",
	"x.o", "x o", "exau", "exeau", "exos", "exho",
}

// DefaultFuzzyThreshold is the minimum Jaro-Winkler score for the phonetic
// pass. Zero disables fuzzy matching entirely.
const DefaultFuzzyThreshold = 0.90

// commandCutset is trimmed from the left of the extracted command.
const commandCutset = " ,.:;!?·\t\n"

// minCommandTokens is the token count below which a command needs a
// follow-up utterance.
const minCommandTokens = 2

// Match describes a successful wake-word detection.
type Match struct {
	// Variant is the wake variant that matched.
	Variant string

	// Command is the text after the wake word, left-trimmed of punctuation.
	// May be empty.
	Command string

	// Fuzzy is true when the phonetic pass produced the match.
	Fuzzy bool

	// NeedsFollowUp is true when Command is too short to dispatch on its
	// own and a follow-up utterance should be captured.
	NeedsFollowUp bool
}

// Option configures a Spotter.
type Option func(*Spotter)

// WithVariants replaces the default variant list.
func WithVariants(variants []string) Option {
	return func(s *Spotter) { s.variants = variants }
}

// WithFuzzyThreshold sets the Jaro-Winkler threshold for the phonetic pass.
// Zero or negative disables it.
func WithFuzzyThreshold(t float64) Option {
	return func(s *Spotter) { s.fuzzyThreshold = t }
}

// Spotter finds wake words in text. Read-only after construction, safe for
// concurrent use.
type Spotter struct {
	variants       []string
	fuzzyThreshold float64
}

// NewSpotter returns a Spotter with the default variants and fuzzy
// threshold.
func NewSpotter(opts ...Option) *Spotter {
	s := &Spotter{
		variants:       DefaultVariants,
		fuzzyThreshold: DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Spot scans text for the wake word. When several variants occur, the one
// ending last in the text wins so that the extracted command is the true
// tail (e.g. "écho, exo, allume" must not leave ", exo, allume" behind).
func (s *Spotter) Spot(text string) (Match, bool) {
	lower := strings.ToLower(text)

	var (
		found   bool
		variant string
		end     int
	)
	for _, v := range s.variants {
		idx := strings.LastIndex(lower, v)
		if idx < 0 {
			continue
		}
		if e := idx + len(v); !found || e > end || (e == end && len(v) > len(variant)) {
			found = true
			variant = v
			end = e
		}
	}

	if found {
		return s.match(variant, text[end:], false), true
	}
	if s.fuzzyThreshold > 0 {
		return s.spotFuzzy(lower)
	}
	return Match{}, false
}

// spotFuzzy compares each token against the variants phonetically, taking
// the earliest matching token so the longest possible command tail remains.
func (s *Spotter) spotFuzzy(lower string) (Match, bool) {
	tokens := strings.Fields(lower)
	for i, tok := range tokens {
		trimmed := strings.Trim(tok, commandCutset)
		if trimmed == "" {
			continue
		}
		for _, v := range s.variants {
			if !phoneticEqual(trimmed, v, s.fuzzyThreshold) {
				continue
			}
			rest := strings.Join(tokens[i+1:], " ")
			return s.match(v, rest, true), true
		}
	}
	return Match{}, false
}

// match assembles the Match value from a variant and the raw command tail.
func (s *Spotter) match(variant, tail string, fuzzy bool) Match {
	command := strings.TrimLeft(tail, commandCutset)
	command = strings.TrimSpace(command)
	return Match{
		Variant:       variant,
		Command:       command,
		Fuzzy:         fuzzy,
		NeedsFollowUp: len(strings.Fields(command)) < minCommandTokens,
	}
}

// phoneticEqual reports whether word sounds like variant: identical Double
// Metaphone primary codes, or Jaro-Winkler similarity at or above threshold.
func phoneticEqual(word, variant string, threshold float64) bool {
	wp, ws := matchr.DoubleMetaphone(word)
	vp, vs := matchr.DoubleMetaphone(variant)
	if wp != "" && (wp == vp || (vs != "" && wp == vs)) {
		return true
	}
	if ws != "" && (ws == vp || (vs != "" && ws == vs)) {
		return true
	}
	return matchr.JaroWinkler(word, variant, false) >= threshold
}
