package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// FCMClient is the subset of the Firebase messaging client used here.
type FCMClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMDispatcher pushes notifications to a Firebase Cloud Messaging topic.
type FCMDispatcher struct {
	client FCMClient
	topic  string
}

// NewFCMClient initializes the Firebase app from a service account file.
func NewFCMClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return client, nil
}

// NewFCMDispatcher builds a dispatcher for a topic.
func NewFCMDispatcher(client FCMClient, topic string) (*FCMDispatcher, error) {
	if client == nil {
		return nil, errors.New("fcm client required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("fcm topic required")
	}
	return &FCMDispatcher{client: client, topic: topic}, nil
}

func (d *FCMDispatcher) Notify(ctx context.Context, event Event) error {
	msg, err := event.Message()
	if err != nil {
		return err
	}
	id, err := d.client.Send(ctx, &messaging.Message{
		Topic: d.topic,
		Notification: &messaging.Notification{
			Title: Subject,
			Body:  msg,
		},
		Data: event.Attributes(),
	})
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	logrus.WithFields(logrus.Fields{"type": event.Type, "message_id": id}).Info("push notification sent")
	return nil
}
