package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"socialify-moderation/backend/internal/ocr"
	"socialify-moderation/backend/internal/preprocess"
	"socialify-moderation/backend/internal/scoring"
	"socialify-moderation/backend/internal/util"
)

var (
	// ErrUnavailable is returned for image-only requests while the OCR engine
	// is still starting up.
	ErrUnavailable = errors.New("ocr engine is still initializing")
	// ErrMisconfigured is returned when the service cannot moderate anything.
	ErrMisconfigured = errors.New("moderation service misconfigured")
)

// Image is an uploaded image and its optional provenance.
type Image struct {
	Data      []byte
	FileName  string
	SizeBytes int64
}

// HasProvenance reports whether the image came with an original file name.
func (i *Image) HasProvenance() bool {
	return i != nil && strings.TrimSpace(i.FileName) != ""
}

// Request is one post submitted for moderation.
type Request struct {
	Text  *string
	Image *Image
}

func (r Request) hasText() bool {
	return r.Text != nil && strings.TrimSpace(*r.Text) != ""
}

func (r Request) hasImage() bool {
	return r.Image != nil && len(r.Image.Data) > 0
}

// Extractor is the OCR capability used by the image path.
type Extractor interface {
	State() ocr.State
	Extract(ctx context.Context, png []byte) (ocr.ExtractionResult, error)
}

// Outcome is handed to side effects after a verdict is produced.
type Outcome struct {
	RequestID   string
	Request     Request
	Verdict     scoring.CombinedVerdict
	OCRDuration time.Duration
	Latency     time.Duration
}

// Dispatcher receives outcomes for best-effort follow-up work. Dispatch must
// not block on that work.
type Dispatcher interface {
	Dispatch(outcome Outcome)
}

// Config wires the detectors and the OCR engine.
type Config struct {
	Classifier *scoring.TextClassifier
	Metadata   *scoring.MetadataHeuristic
	Engine     Extractor
	Effects    Dispatcher
}

// Service runs the text and image checks of a post and combines them.
type Service struct {
	classifier *scoring.TextClassifier
	metadata   *scoring.MetadataHeuristic
	engine     Extractor
	effects    Dispatcher
}

// NewService validates the configuration. The OCR engine is optional; without
// it every image degrades to "OCR not available".
func NewService(cfg Config) (*Service, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("%w: text classifier required", ErrMisconfigured)
	}
	if err := cfg.Classifier.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	metadata := cfg.Metadata
	if metadata == nil {
		m, err := scoring.NewMetadataHeuristic(scoring.DefaultSuspiciousKeywords())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
		}
		metadata = m
	}
	return &Service{
		classifier: cfg.Classifier,
		metadata:   metadata,
		engine:     cfg.Engine,
		effects:    cfg.Effects,
	}, nil
}

// Moderate produces the combined verdict for a post. Both paths run
// concurrently and a failure in one never aborts the other.
func (s *Service) Moderate(ctx context.Context, req Request) (scoring.CombinedVerdict, error) {
	if s == nil || s.classifier == nil {
		return scoring.CombinedVerdict{}, ErrMisconfigured
	}
	if req.hasImage() && !req.hasText() && s.initializing() {
		return scoring.CombinedVerdict{}, ErrUnavailable
	}

	requestID := uuid.NewString()
	timer := util.StartTimer()
	log := logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"has_text":   req.hasText(),
		"has_image":  req.hasImage(),
	})
	log.Debug("moderation request received")

	var (
		textVerdict  scoring.SubVerdict
		imageDetails scoring.ImageDetails
		ocrDuration  time.Duration
		g            errgroup.Group
	)
	g.Go(func() error {
		textVerdict = s.checkText(req, log)
		return nil
	})
	g.Go(func() error {
		imageDetails, ocrDuration = s.checkImage(ctx, req, log)
		return nil
	})
	_ = g.Wait()

	verdict := scoring.Combine(textVerdict, imageDetails)
	latency := timer.Elapsed()

	log.WithFields(logrus.Fields{
		"offensive":  verdict.IsOffensive,
		"label":      verdict.Label,
		"confidence": verdict.Confidence,
		"latency_ms": latency.Milliseconds(),
	}).Info("moderation complete")

	if s.effects != nil {
		s.effects.Dispatch(Outcome{
			RequestID:   requestID,
			Request:     req,
			Verdict:     verdict,
			OCRDuration: ocrDuration,
			Latency:     latency,
		})
	}
	return verdict, nil
}

// EngineState reports the OCR engine state, Failed when OCR is disabled.
func (s *Service) EngineState() ocr.State {
	if s == nil || s.engine == nil {
		return ocr.Failed
	}
	return s.engine.State()
}

func (s *Service) initializing() bool {
	if s.engine == nil {
		return false
	}
	switch s.engine.State() {
	case ocr.Uninitialized, ocr.Initializing:
		return true
	default:
		return false
	}
}

func (s *Service) checkText(req Request, log *logrus.Entry) (verdict scoring.SubVerdict) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("text check panicked")
			verdict = scoring.ErrorVerdict(fmt.Errorf("text check panicked: %v", rec))
		}
	}()
	if !req.hasText() {
		return scoring.NoTextVerdict()
	}
	return s.classifier.Classify(*req.Text)
}

func (s *Service) checkImage(ctx context.Context, req Request, log *logrus.Entry) (details scoring.ImageDetails, took time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("image check panicked")
			details, took = scoring.FailedImage(fmt.Errorf("image check panicked: %v", rec)), 0
		}
	}()
	if !req.hasImage() {
		return scoring.NoImage(), 0
	}
	if s.engine == nil || s.engine.State() != ocr.Ready {
		return scoring.DegradedImage(scoring.LabelOCRNotAvailable, nil), 0
	}

	img := req.Image
	png, err := preprocess.Prepare(img.Data)
	if err != nil {
		log.WithError(err).Warn("image preprocessing failed")
		return scoring.FailedImage(err), 0
	}

	result, err := s.engine.Extract(ctx, png)
	if err != nil {
		if errors.Is(err, ocr.ErrNotReady) {
			return scoring.DegradedImage(scoring.LabelOCRNotAvailable, nil), 0
		}
		log.WithError(err).Warn("ocr extraction failed")
		return scoring.DegradedImage(scoring.LabelOCRFailed, err), 0
	}

	text := strings.TrimSpace(result.Text)
	details = scoring.ImageDetails{
		ExtractedText:    text,
		EngineConfidence: result.EngineConfidence,
		TextVerdict:      scoring.NoMeaningfulTextVerdict(),
		MetadataVerdict:  scoring.MetadataDefault(),
	}
	if scoring.MeaningfulText(text, result.EngineConfidence) {
		details.MeaningfulTextDetected = true
		details.TextVerdict = s.classifier.Classify(text)
	}
	if img.HasProvenance() {
		details.MetadataVerdict = s.inspectMetadata(img)
	}
	scoring.SummarizeImage(&details)
	return details, result.Duration
}

func (s *Service) inspectMetadata(img *Image) scoring.SubVerdict {
	size := img.SizeBytes
	if size <= 0 {
		size = int64(len(img.Data))
	}
	file := scoring.FileInfo{Name: img.FileName, Size: size}
	if w, h, err := preprocess.Dimensions(img.Data); err == nil {
		file.Width, file.Height = w, h
	}
	return s.metadata.InspectFile(file)
}
