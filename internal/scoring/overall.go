package scoring

// ImageDetails captures the image path of a moderation request.
type ImageDetails struct {
	IsOffensive            bool       `json:"isOffensive"`
	Label                  string     `json:"label"`
	Confidence             float64    `json:"confidence"`
	ExtractedText          string     `json:"extractedText"`
	EngineConfidence       float64    `json:"engineConfidence"`
	MeaningfulTextDetected bool       `json:"meaningfulTextDetected"`
	TextVerdict            SubVerdict `json:"textVerdict"`
	MetadataVerdict        SubVerdict `json:"metadataVerdict"`
	Degraded               bool       `json:"degraded,omitempty"`
	Error                  string     `json:"error,omitempty"`
}

// Details holds the per-path verdicts of a combined result.
type Details struct {
	Text  SubVerdict   `json:"text"`
	Image ImageDetails `json:"image"`
}

// CombinedVerdict is the final moderation outcome.
type CombinedVerdict struct {
	IsOffensive bool    `json:"isOffensive"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Details     Details `json:"details"`
}

// NoImage describes a request without image bytes.
func NoImage() ImageDetails {
	return ImageDetails{
		Label:           LabelNoImage,
		TextVerdict:     SubVerdict{Label: LabelNoImage},
		MetadataVerdict: SubVerdict{Label: LabelNoImage},
	}
}

// DegradedImage describes an image path that could not run OCR. The fixed
// fallback carries a 0.1 confidence and is never offensive.
func DegradedImage(label string, err error) ImageDetails {
	details := ImageDetails{
		Label:           label,
		Confidence:      uninspectedFloor,
		TextVerdict:     SubVerdict{Label: label},
		MetadataVerdict: SubVerdict{Label: label},
		Degraded:        true,
	}
	if err != nil {
		details.Error = err.Error()
	}
	return details
}

// FailedImage describes an image path that errored before extraction.
func FailedImage(err error) ImageDetails {
	verdict := ErrorVerdict(err)
	details := ImageDetails{
		Label:           LabelError,
		TextVerdict:     verdict,
		MetadataVerdict: SubVerdict{Label: LabelError},
	}
	if err != nil {
		details.Error = err.Error()
	}
	return details
}

// SummarizeImage folds the OCR text verdict and the metadata verdict into the
// image-path summary fields.
func SummarizeImage(details *ImageDetails) {
	if details == nil {
		return
	}
	textVerdict, metadata := details.TextVerdict, details.MetadataVerdict
	details.IsOffensive = textVerdict.IsOffensive || metadata.IsOffensive
	details.Confidence = maxConfidence(textVerdict.Confidence, metadata.Confidence)

	switch {
	case textVerdict.IsOffensive && metadata.IsOffensive:
		details.Label = LabelOffensiveCombined
	case textVerdict.IsOffensive:
		details.Label = textVerdict.Label
	case metadata.IsOffensive:
		details.Label = metadata.Label
	default:
		details.Label = LabelClean
	}
}

// Combine merges the text path and the image path into one verdict. The
// offensive flag is a logical OR and the confidence is the strongest signal.
func Combine(text SubVerdict, image ImageDetails) CombinedVerdict {
	imageOffensive := image.IsOffensive || image.TextVerdict.IsOffensive || image.MetadataVerdict.IsOffensive

	verdict := CombinedVerdict{
		IsOffensive: text.IsOffensive || imageOffensive,
		Confidence: maxConfidence(
			text.Confidence,
			image.Confidence,
			image.TextVerdict.Confidence,
			image.MetadataVerdict.Confidence,
		),
		Details: Details{Text: text, Image: image},
	}

	switch {
	case text.IsOffensive && imageOffensive:
		verdict.Label = LabelOffensiveCombined
	case text.IsOffensive:
		verdict.Label = text.Label
	case imageOffensive:
		verdict.Label = imageLabel(image)
	case image.Degraded && text.Label == LabelNoText:
		// image-only request against an unusable engine
		verdict.Label = image.Label
	default:
		verdict.Label = LabelClean
	}
	return verdict
}

func imageLabel(image ImageDetails) string {
	if image.IsOffensive && image.Label != "" {
		return image.Label
	}
	if image.TextVerdict.IsOffensive {
		return image.TextVerdict.Label
	}
	return image.MetadataVerdict.Label
}

func maxConfidence(values ...float64) float64 {
	var out float64
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return clamp01(out)
}
