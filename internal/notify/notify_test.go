package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/require"
)

func TestEventMessage(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"like", Event{Type: "like", Sender: "userA", PostID: "123"}, "userA liked your post #123"},
		{"comment", Event{Type: "comment", Sender: "bob", CommentText: "nice shot"}, `bob commented "nice shot" on your post`},
		{"follow", Event{Type: "FOLLOW", Sender: "eve"}, "eve started following you"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.event.Message()
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := Event{Type: "poke"}.Message()
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPostIDAcceptsNumbersAndStrings(t *testing.T) {
	var numeric, text, empty Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"like","postId":123}`), &numeric))
	require.NoError(t, json.Unmarshal([]byte(`{"type":"like","postId":"p-9"}`), &text))
	require.NoError(t, json.Unmarshal([]byte(`{"type":"like","postId":null}`), &empty))
	require.Equal(t, PostID("123"), numeric.PostID)
	require.Equal(t, PostID("p-9"), text.PostID)
	require.Empty(t, empty.PostID)
	require.Error(t, json.Unmarshal([]byte(`{"postId":{}}`), &empty))
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNSDispatcher(t *testing.T) {
	api := &fakeSNS{}
	d, err := NewSNSDispatcherWithClient(api, "arn:aws:sns:us-east-1:000000000000:notifications-topic")
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), Event{Type: "like", Sender: "userA", Receiver: "userB", PostID: "7"}))
	require.Equal(t, "userA liked your post #7", aws.ToString(api.input.Message))
	require.Equal(t, Subject, aws.ToString(api.input.Subject))
	require.Equal(t, "userB", aws.ToString(api.input.MessageAttributes["receiver"].StringValue))

	api.err = errors.New("throttled")
	require.ErrorContains(t, d.Notify(context.Background(), Event{Type: "follow", Sender: "a"}), "sns publish")

	_, err = NewSNSDispatcherWithClient(api, " ")
	require.Error(t, err)
}

type fakeFCM struct {
	message *messaging.Message
}

func (f *fakeFCM) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.message = m
	return "projects/x/messages/1", nil
}

func TestFCMDispatcher(t *testing.T) {
	client := &fakeFCM{}
	d, err := NewFCMDispatcher(client, "social")
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), Event{Type: "comment", Sender: "bob", Receiver: "amy", CommentText: "wow"}))
	require.Equal(t, "social", client.message.Topic)
	require.Equal(t, Subject, client.message.Notification.Title)
	require.Equal(t, `bob commented "wow" on your post`, client.message.Notification.Body)
	require.Equal(t, "comment", client.message.Data["type"])

	require.ErrorIs(t, d.Notify(context.Background(), Event{Type: "poke"}), ErrUnknownEvent)

	_, err = NewFCMDispatcher(nil, "social")
	require.Error(t, err)
}

func TestLogDispatcher(t *testing.T) {
	require.NoError(t, LogDispatcher{}.Notify(context.Background(), Event{Type: "follow", Sender: "a"}))
	require.ErrorIs(t, LogDispatcher{}.Notify(context.Background(), Event{}), ErrUnknownEvent)
}
