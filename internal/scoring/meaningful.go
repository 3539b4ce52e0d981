package scoring

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	minMeaningfulLength    = 3
	minEngineConfidence    = 50
	minMeaningfulWordLen   = 2
	maxMeaningfulWordLen   = 30
	minMeaningfulWordRatio = 0.6
)

// MeaningfulText reports whether OCR output is worth classifying. The engine
// confidence uses the engine's native 0-100 scale and must be strictly above 50.
func MeaningfulText(text string, engineConfidence float64) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minMeaningfulLength {
		return false
	}
	if !(engineConfidence > minEngineConfidence) {
		return false
	}
	return lo.ContainsBy(strings.Fields(trimmed), IsMeaningfulWord)
}

// IsMeaningfulWord accepts tokens made mostly of letters with a plausible length.
func IsMeaningfulWord(word string) bool {
	total := utf8.RuneCountInString(word)
	if total < minMeaningfulWordLen || total > maxMeaningfulWordLen {
		return false
	}
	letters := 0
	for _, r := range word {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	return float64(letters)/float64(total) > minMeaningfulWordRatio
}

// EngineConfidenceRatio maps a native 0-100 engine confidence into [0,1].
func EngineConfidenceRatio(engineConfidence float64) float64 {
	return clamp01(engineConfidence / 100)
}
