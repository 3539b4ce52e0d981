package scoring

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	goahocorasick "github.com/anknown/ahocorasick"
)

const (
	suspiciousNameConfidence = 0.7
	metadataOKConfidence     = 0.1
	veryLargeImageBytes      = 8 * 1024 * 1024
)

// DefaultSuspiciousKeywords lists the filename fragments flagged by the heuristic.
func DefaultSuspiciousKeywords() []string {
	return []string{"porn", "adult", "nsfw", "explicit", "nude"}
}

// FileInfo describes the provenance of an uploaded image.
type FileInfo struct {
	Name   string
	Size   int64
	Width  int
	Height int
}

// MetadataHeuristic flags images whose original file name looks suspicious.
type MetadataHeuristic struct {
	matcher  *goahocorasick.Machine
	keywords []string
}

// NewMetadataHeuristic builds the keyword automaton.
func NewMetadataHeuristic(keywords []string) (*MetadataHeuristic, error) {
	var (
		patterns [][]rune
		kept     []string
	)
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		patterns = append(patterns, []rune(keyword))
		kept = append(kept, keyword)
	}
	if len(patterns) == 0 {
		return nil, errors.New("suspicious keywords missing")
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("build keyword matcher: %w", err)
	}
	return &MetadataHeuristic{matcher: m, keywords: kept}, nil
}

// Inspect scores a file name and size.
func (m *MetadataHeuristic) Inspect(fileName string, sizeBytes int64) SubVerdict {
	return m.InspectFile(FileInfo{Name: fileName, Size: sizeBytes})
}

// InspectFile scores the file and records informational details. Size and
// dimensions never affect the offensive flag.
func (m *MetadataHeuristic) InspectFile(file FileInfo) SubVerdict {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(file.Name)))
	matched := m.match(name)
	suspicious := len(matched) > 0

	verdict := SubVerdict{
		IsOffensive: suspicious,
		Label:       LabelMetadataOK,
		Confidence:  metadataOKConfidence,
		Extra: map[string]any{
			"fileName":          name,
			"fileSize":          file.Size,
			"dimensions":        dimensions(file.Width, file.Height),
			"hasSuspiciousName": suspicious,
			"isVeryLarge":       file.Size > veryLargeImageBytes,
		},
	}
	if suspicious {
		verdict.Label = LabelSuspiciousName
		verdict.Confidence = suspiciousNameConfidence
		verdict.Extra["matchedKeywords"] = matched
	}
	return verdict
}

// Keywords exposes the normalized keyword list.
func (m *MetadataHeuristic) Keywords() []string {
	out := make([]string, len(m.keywords))
	copy(out, m.keywords)
	return out
}

func (m *MetadataHeuristic) match(name string) []string {
	if m == nil || m.matcher == nil || name == "" {
		return nil
	}
	terms := m.matcher.MultiPatternSearch([]rune(name), false)
	if len(terms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(terms))
	var out []string
	for _, term := range terms {
		word := string(term.Word)
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}

// MetadataDefault is the verdict used for images without provenance.
func MetadataDefault() SubVerdict {
	return SubVerdict{Label: LabelMetadataOK, Confidence: metadataOKConfidence}
}

func dimensions(width, height int) string {
	w, h := "?", "?"
	if width > 0 {
		w = fmt.Sprintf("%d", width)
	}
	if height > 0 {
		h = fmt.Sprintf("%d", height)
	}
	return w + "x" + h
}
