package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrUnknownEvent is returned for event types without a message template.
var ErrUnknownEvent = errors.New("unknown notification event")

// Event types.
const (
	EventLike    = "like"
	EventComment = "comment"
	EventFollow  = "follow"
)

// Subject is used by channels that carry a title.
const Subject = "New Notification"

// PostID accepts both JSON numbers and strings.
type PostID string

func (p *PostID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PostID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("post id: %w", err)
	}
	*p = PostID(n.String())
	return nil
}

// Event is a social action that triggers a notification to the receiver.
type Event struct {
	Type        string `json:"type"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	PostID      PostID `json:"postId,omitempty"`
	CommentText string `json:"commentText,omitempty"`
}

// Message renders the human-readable notification body.
func (e Event) Message() (string, error) {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case EventLike:
		return fmt.Sprintf("%s liked your post #%s", e.Sender, e.PostID), nil
	case EventComment:
		return fmt.Sprintf("%s commented %q on your post", e.Sender, e.CommentText), nil
	case EventFollow:
		return fmt.Sprintf("%s started following you", e.Sender), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

// Attributes flattens the event for channels that carry key/value data.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{
		"type":     strings.ToLower(strings.TrimSpace(e.Type)),
		"sender":   e.Sender,
		"receiver": e.Receiver,
	}
	if e.PostID != "" {
		attrs["postId"] = string(e.PostID)
	}
	return attrs
}

// Dispatcher delivers a notification for an event.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// LogDispatcher writes notifications to the standard logger.
type LogDispatcher struct{}

func (LogDispatcher) Notify(_ context.Context, event Event) error {
	msg, err := event.Message()
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"type":     event.Type,
		"sender":   event.Sender,
		"receiver": event.Receiver,
	}).Info(msg)
	return nil
}
