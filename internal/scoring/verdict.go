package scoring

// Labels shared by the detectors and the aggregator.
const (
	LabelNoText            = "no text"
	LabelNoImage           = "no image"
	LabelClean             = "clean"
	LabelOffensiveText     = "offensive text detected"
	LabelNoMeaningfulText  = "no meaningful text"
	LabelSuspiciousName    = "suspicious file name"
	LabelMetadataOK        = "image metadata ok"
	LabelOCRNotAvailable   = "OCR not available"
	LabelOCRFailed         = "OCR analysis failed"
	LabelError             = "error"
	LabelOffensiveCombined = "offensive text and suspicious image"
)

// SubVerdict is the outcome of a single detector.
type SubVerdict struct {
	IsOffensive bool           `json:"isOffensive"`
	Label       string         `json:"label"`
	Confidence  float64        `json:"confidence"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NoTextVerdict is reported when a request carries no usable text.
func NoTextVerdict() SubVerdict {
	return SubVerdict{Label: LabelNoText, Confidence: 0}
}

// NoMeaningfulTextVerdict is reported when OCR output fails the meaningfulness gate.
func NoMeaningfulTextVerdict() SubVerdict {
	return SubVerdict{Label: LabelNoMeaningfulText, Confidence: 0}
}

// ErrorVerdict converts a detector failure into a neutral verdict.
func ErrorVerdict(err error) SubVerdict {
	v := SubVerdict{Label: LabelError, Confidence: 0}
	if err != nil {
		v.Extra = map[string]any{"error": err.Error()}
	}
	return v
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
