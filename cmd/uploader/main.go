package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"socialify-moderation/backend/internal/storage"
	"socialify-moderation/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		dbPath      = flag.String("db", "", "Path to the outbox SQLite database (env OUTBOX_DB_PATH)")
		backend     = flag.String("backend", "", "Upload backend: s3 or log (env UPLOAD_BACKEND)")
		bucket      = flag.String("bucket", "", "S3 bucket (env S3_BUCKET)")
		region      = flag.String("region", "", "AWS region (env AWS_REGION)")
		endpoint    = flag.String("endpoint", "", "S3-compatible endpoint (env S3_ENDPOINT)")
		once        = flag.Bool("once", false, "Drain the outbox once and exit")
		interval    = flag.Duration("interval", 5*time.Second, "Polling interval when running continuously")
		batch       = flag.Int("batch", 25, "Uploads claimed per drain")
		maxAttempts = flag.Int("max-attempts", 5, "Attempts before an upload is abandoned")
		purgeAfter  = flag.Duration("purge-after", 0, "Delete uploaded rows older than this (0 keeps them)")
	)
	flag.Parse()

	loadEnvDefaults(dbPath, backend, bucket, region, endpoint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(*dbPath, true)
	if err != nil {
		logrus.Fatalf("open outbox: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	var awsCfg aws.Config
	if strings.EqualFold(*backend, "s3") {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
		if err != nil {
			logrus.Fatalf("load aws config: %v", err)
		}
	}
	uploader, err := storage.NewUploader(*backend, awsCfg, storage.S3Config{
		Bucket:    *bucket,
		Region:    *region,
		Endpoint:  *endpoint,
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
	})
	if err != nil {
		logrus.Fatalf("configure uploader: %v", err)
	}

	drainer := storage.NewDrainer(db, uploader, *batch, *maxAttempts)
	if *once {
		res, err := drainer.Drain(ctx)
		if err != nil {
			logrus.Fatalf("drain outbox: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"uploaded": res.Uploaded,
			"retried":  res.Retried,
			"failed":   res.Failed,
		}).Info("outbox drained")
		purge(db, *purgeAfter)
		return
	}

	logrus.WithFields(logrus.Fields{
		"db":       *dbPath,
		"backend":  *backend,
		"interval": *interval,
	}).Info("upload worker started")
	drainer.Run(ctx, *interval)
	purge(db, *purgeAfter)
	logrus.Info("upload worker stopped")
}

func loadEnvDefaults(dbPath, backend, bucket, region, endpoint *string) {
	fallback := func(target *string, key, def string) {
		if strings.TrimSpace(*target) != "" {
			return
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
			return
		}
		*target = def
	}
	fallback(dbPath, "OUTBOX_DB_PATH", "data/outbox.db")
	fallback(backend, "UPLOAD_BACKEND", "s3")
	fallback(bucket, "S3_BUCKET", "image-posts-store")
	fallback(region, "AWS_REGION", "us-east-1")
	fallback(endpoint, "S3_ENDPOINT", "")
}

func purge(db *store.Database, olderThan time.Duration) {
	if olderThan <= 0 {
		return
	}
	n, err := db.PurgeUploaded(olderThan)
	if err != nil {
		logrus.WithError(err).Warn("purge uploaded rows")
		return
	}
	if n > 0 {
		logrus.WithField("rows", n).Info("purged uploaded rows")
	}
}
