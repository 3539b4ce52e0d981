package api

import (
	"time"

	"socialify-moderation/backend/internal/metrics"
	"socialify-moderation/backend/internal/notify"
	"socialify-moderation/backend/internal/ocr"
	"socialify-moderation/backend/internal/scoring"
	"socialify-moderation/backend/internal/tasks"
)

// ResponseTypeCombined marks moderation responses that include the OCR path.
const ResponseTypeCombined = "ocr_combined"

// ModerateJSONRequest is the JSON form of a text-only moderation request.
type ModerateJSONRequest struct {
	Text *string `json:"text"`
}

// ModerationResponse is the API representation of a combined verdict.
type ModerationResponse struct {
	IsOffensive bool            `json:"isOffensive"`
	Label       string          `json:"label"`
	Confidence  float64         `json:"confidence"`
	Type        string          `json:"type"`
	Details     scoring.Details `json:"details"`
}

// FromVerdict converts a combined verdict into the response payload.
func FromVerdict(v scoring.CombinedVerdict) ModerationResponse {
	return ModerationResponse{
		IsOffensive: v.IsOffensive,
		Label:       v.Label,
		Confidence:  round2(v.Confidence),
		Type:        ResponseTypeCombined,
		Details:     v.Details,
	}
}

// UploadCounts summarizes the upload outbox.
type UploadCounts struct {
	Pending  int64 `json:"pending"`
	Uploaded int64 `json:"uploaded"`
	Failed   int64 `json:"failed"`
}

// HealthResponse describes the service and its OCR engine.
type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	OCRReady  bool              `json:"ocrReady"`
	OCRState  string            `json:"ocrState"`
	OCR       *ocr.Stats        `json:"ocr,omitempty"`
	Tasks     *tasks.Stats      `json:"tasks,omitempty"`
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
	Uploads   *UploadCounts     `json:"uploads,omitempty"`
	Monitors  int               `json:"monitors"`
	Timestamp time.Time         `json:"timestamp"`
}

// LikeRequest is the body of POST /like. Every field is optional.
type LikeRequest struct {
	Type     string        `json:"type"`
	Sender   string        `json:"sender"`
	Receiver string        `json:"receiver"`
	PostID   notify.PostID `json:"postId"`
}

// CommentRequest is the body of POST /api/social/comment.
type CommentRequest struct {
	Sender      string        `json:"sender" binding:"required"`
	Receiver    string        `json:"receiver" binding:"required"`
	PostID      notify.PostID `json:"postId" binding:"required"`
	CommentText string        `json:"commentText" binding:"required,max=2000"`
}

// FollowRequest is the body of POST /api/social/follow.
type FollowRequest struct {
	Sender   string `json:"sender" binding:"required"`
	Receiver string `json:"receiver" binding:"required,nefield=Sender"`
}

// SocialResponse acknowledges a social action.
type SocialResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
