package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the subset of the CloudWatch client used by the sink.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink publishes one datum per call.
type CloudWatchSink struct {
	client    CloudWatchAPI
	namespace string
	now       func() time.Time
}

// NewCloudWatchSink builds a sink from an AWS config.
func NewCloudWatchSink(cfg aws.Config, namespace string) *CloudWatchSink {
	return NewCloudWatchSinkWithClient(cloudwatch.NewFromConfig(cfg), namespace)
}

// NewCloudWatchSinkWithClient builds a sink around an existing client.
func NewCloudWatchSinkWithClient(client CloudWatchAPI, namespace string) *CloudWatchSink {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	return &CloudWatchSink{client: client, namespace: namespace, now: time.Now}
}

func (s *CloudWatchSink) Count(ctx context.Context, name string, value float64) error {
	return s.put(ctx, name, value, types.StandardUnitCount)
}

func (s *CloudWatchSink) Duration(ctx context.Context, name string, d time.Duration) error {
	return s.put(ctx, name, float64(d.Milliseconds()), types.StandardUnitMilliseconds)
}

func (s *CloudWatchSink) put(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Timestamp:  aws.Time(s.now().UTC()),
		}},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}
	return nil
}
