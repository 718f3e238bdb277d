// Package alignment converts vendor character-level timing into the
// word-level timing the client uses to highlight text during playback.
package alignment

import (
	"strings"
	"time"
)

// DefaultWordDuration is the per-word duration assumed by Estimate when the
// vendor supplies no timing data.
const DefaultWordDuration = 400 * time.Millisecond

// Word is one aligned token: the token text plus its start and end offsets
// in seconds from the beginning of the audio.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// CharTiming is the vendor's character-level timing: parallel slices of
// characters, per-character start offsets and per-character durations, both
// in milliseconds.
type CharTiming struct {
	Chars        []string `json:"chars"`
	StartTimesMs []int    `json:"charStartTimesMs"`
	DurationsMs  []int    `json:"charDurationsMs"`
}

// Empty reports whether the timing carries no usable character data.
func (t *CharTiming) Empty() bool {
	return t == nil || len(t.Chars) == 0
}

// FromCharTiming splits text on runs of whitespace and assigns each word a
// start time from its first character and an end time from the sum of its
// character durations. Words that run past the end of the character slices
// are dropped; alignment is best-effort.
func FromCharTiming(text string, timing CharTiming) []Word {
	tokens := strings.Fields(text)
	words := make([]Word, 0, len(tokens))

	charIdx := 0
	for _, tok := range tokens {
		runes := []rune(tok)
		if charIdx+len(runes) > len(timing.Chars) ||
			charIdx >= len(timing.StartTimesMs) ||
			charIdx+len(runes) > len(timing.DurationsMs) {
			break
		}

		start := float64(timing.StartTimesMs[charIdx]) / 1000.0
		durMs := 0
		for i := 0; i < len(runes); i++ {
			durMs += timing.DurationsMs[charIdx+i]
		}

		words = append(words, Word{
			Word:  tok,
			Start: start,
			End:   start + float64(durMs)/1000.0,
		})

		// Skip past the word and the single separator character that
		// follows it in the vendor's character stream.
		charIdx += len(runes) + 1
	}

	return words
}

// Estimate produces a uniform reading-pace alignment: every word gets the
// same duration, back to back. Used when the vendor returns audio without
// any timing data. perWord <= 0 falls back to DefaultWordDuration.
func Estimate(text string, perWord time.Duration) []Word {
	if perWord <= 0 {
		perWord = DefaultWordDuration
	}
	// Integer milliseconds keep the offsets exact; float accumulation
	// drifts after a few words.
	ms := perWord.Milliseconds()

	tokens := strings.Fields(text)
	words := make([]Word, len(tokens))
	for i, tok := range tokens {
		words[i] = Word{
			Word:  tok,
			Start: float64(int64(i)*ms) / 1000.0,
			End:   float64(int64(i+1)*ms) / 1000.0,
		}
	}
	return words
}
