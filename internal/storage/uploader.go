package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// ErrMissingBucket is returned when the S3 uploader has no bucket configured.
var ErrMissingBucket = errors.New("s3 bucket required")

// Tags used as key prefixes.
const (
	TagSafe   = "safe"
	TagUnsafe = "unsafe"
)

const keyTimeLayout = "20060102-15-04-05"

// TagFor maps a verdict to its storage prefix.
func TagFor(offensive bool) string {
	if offensive {
		return TagUnsafe
	}
	return TagSafe
}

// Object describes a stored file.
type Object struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// Uploader copies a local file to object storage under a tag prefix.
type Uploader interface {
	Upload(ctx context.Context, localPath, tag string) (Object, error)
}

// ObjectKey builds "<tag>/<timestamp>-<filename>".
func ObjectKey(tag, localPath string, at time.Time) string {
	return fmt.Sprintf("%s/%s-%s", tag, at.Format(keyTimeLayout), filepath.Base(localPath))
}

// S3Config selects the bucket and, for S3-compatible servers, the endpoint.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader uploads through the S3 transfer manager.
type S3Uploader struct {
	bucket   string
	region   string
	uploader objectUploader
	now      func() time.Time
}

// NewS3Uploader builds an uploader using the shared AWS config. A custom
// endpoint switches to path-style addressing.
func NewS3Uploader(awsCfg aws.Config, cfg S3Config) (*S3Uploader, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, ErrMissingBucket
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = awsCfg.Region
	}
	if region == "" {
		region = "us-east-1"
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Region = region
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
	})
	return newS3Uploader(bucket, region, manager.NewUploader(client)), nil
}

func newS3Uploader(bucket, region string, up objectUploader) *S3Uploader {
	return &S3Uploader{bucket: bucket, region: region, uploader: up, now: time.Now}
}

// Upload sends the file and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, localPath, tag string) (Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	key := ObjectKey(tag, localPath, u.now())
	if _, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return Object{}, fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return Object{
		Bucket: u.bucket,
		Key:    key,
		URL:    fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key),
	}, nil
}

// LogUploader records uploads without sending them anywhere.
type LogUploader struct{}

func (LogUploader) Upload(_ context.Context, localPath, tag string) (Object, error) {
	if _, err := os.Stat(localPath); err != nil {
		return Object{}, fmt.Errorf("stat upload: %w", err)
	}
	key := ObjectKey(tag, localPath, time.Now())
	logrus.WithFields(logrus.Fields{"path": localPath, "key": key}).Info("upload skipped (log backend)")
	return Object{Key: key, URL: "file://" + localPath}, nil
}

// NewUploader selects an uploader by backend name: "s3" or "log".
func NewUploader(backend string, awsCfg aws.Config, cfg S3Config) (Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "s3":
		up, err := NewS3Uploader(awsCfg, cfg)
		if err != nil {
			return nil, err
		}
		return up, nil
	case "", "log":
		return LogUploader{}, nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", backend)
	}
}
