package main

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// Config is read from the environment at startup.
type Config struct {
	Port           string `env:"PORT,default=5000"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogFormat      string `env:"LOG_FORMAT,default=text"`

	RulesPath string `env:"MODERATION_RULES_PATH"`

	OCRDisabled      bool          `env:"OCR_DISABLED,default=false"`
	TesseractPath    string        `env:"TESSERACT_PATH,default=tesseract"`
	OCRLanguage      string        `env:"OCR_LANGUAGE,default=eng"`
	OCRPSM           int           `env:"OCR_PSM,default=3"`
	OCRMaxQueue      int           `env:"OCR_MAX_QUEUE,default=32"`
	OCRQueueTimeout  time.Duration `env:"OCR_QUEUE_TIMEOUT,default=30s"`
	OCRJobTimeout    time.Duration `env:"OCR_JOB_TIMEOUT,default=20s"`
	OCRStartupBudget time.Duration `env:"OCR_STARTUP_TIMEOUT,default=30s"`

	TaskWorkers int           `env:"TASK_WORKERS,default=4"`
	TaskQueue   int           `env:"TASK_QUEUE,default=256"`
	TaskTimeout time.Duration `env:"TASK_TIMEOUT,default=30s"`

	MetricsBackend   string `env:"METRICS_BACKEND,default=log"`
	MetricsNamespace string `env:"METRICS_NAMESPACE,default=BadContentApp"`
	AWSRegion        string `env:"AWS_REGION,default=us-east-1"`

	UploadBackend  string        `env:"UPLOAD_BACKEND,default=log"`
	S3Bucket       string        `env:"S3_BUCKET,default=image-posts-store"`
	S3Endpoint     string        `env:"S3_ENDPOINT"`
	S3AccessKey    string        `env:"S3_ACCESS_KEY"`
	S3SecretKey    string        `env:"S3_SECRET_KEY"`
	UploadDir      string        `env:"UPLOAD_DIR,default=uploads"`
	UploadInline   bool          `env:"UPLOAD_INLINE,default=true"`
	UploadInterval time.Duration `env:"UPLOAD_INTERVAL,default=5s"`
	UploadAttempts int           `env:"UPLOAD_MAX_ATTEMPTS,default=5"`
	OutboxDBPath   string        `env:"OUTBOX_DB_PATH,default=data/outbox.db"`

	NotifyBackend      string `env:"NOTIFY_BACKEND,default=log"`
	SNSTopicARN        string `env:"SNS_TOPIC_ARN"`
	FCMTopic           string `env:"FCM_TOPIC,default=notifications"`
	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigins, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(parts)
}

func backend(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
