package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sirupsen/logrus"
)

// SNSAPI is the subset of the SNS client used by the dispatcher.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSDispatcher publishes notifications to an SNS topic.
type SNSDispatcher struct {
	client   SNSAPI
	topicARN string
}

// NewSNSDispatcher builds a dispatcher from an AWS config.
func NewSNSDispatcher(cfg aws.Config, topicARN string) (*SNSDispatcher, error) {
	return NewSNSDispatcherWithClient(sns.NewFromConfig(cfg), topicARN)
}

// NewSNSDispatcherWithClient builds a dispatcher around an existing client.
func NewSNSDispatcherWithClient(client SNSAPI, topicARN string) (*SNSDispatcher, error) {
	topicARN = strings.TrimSpace(topicARN)
	if topicARN == "" {
		return nil, errors.New("sns topic arn required")
	}
	return &SNSDispatcher{client: client, topicARN: topicARN}, nil
}

func (d *SNSDispatcher) Notify(ctx context.Context, event Event) error {
	msg, err := event.Message()
	if err != nil {
		return err
	}
	attrs := make(map[string]types.MessageAttributeValue)
	for k, v := range event.Attributes() {
		if v == "" {
			continue
		}
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	out, err := d.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(d.topicARN),
		Subject:           aws.String(Subject),
		Message:           aws.String(msg),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"type":       event.Type,
		"message_id": aws.ToString(out.MessageId),
	}).Info("notification published")
	return nil
}
