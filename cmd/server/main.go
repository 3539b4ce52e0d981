package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"socialify-moderation/backend/internal/api"
	"socialify-moderation/backend/internal/metrics"
	"socialify-moderation/backend/internal/moderation"
	"socialify-moderation/backend/internal/notify"
	"socialify-moderation/backend/internal/ocr"
	"socialify-moderation/backend/internal/scoring"
	"socialify-moderation/backend/internal/storage"
	"socialify-moderation/backend/internal/store"
	"socialify-moderation/backend/internal/tasks"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("load .env")
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		logrus.Fatalf("read configuration: %v", err)
	}
	configureLogging(cfg)

	if err := run(cfg); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}

func configureLogging(cfg Config) {
	if backend(cfg.LogFormat) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func run(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, err := loadClassifier(cfg.RulesPath)
	if err != nil {
		return err
	}

	loader := newAWSLoader(cfg.AWSRegion)

	sink, err := newMetricsSink(ctx, cfg, loader)
	if err != nil {
		return err
	}
	counters := metrics.NewCounters(sink)

	runner := tasks.NewRunner(cfg.TaskWorkers, cfg.TaskQueue)
	verdicts := api.NewVerdictNotifier()
	effects := &moderation.Effects{
		Runner:      runner,
		Sink:        counters,
		Broadcaster: verdicts,
		Timeout:     cfg.TaskTimeout,
	}
	serverCfg := api.Config{
		Runner:         runner,
		Counters:       counters,
		Verdicts:       verdicts,
		AllowedOrigins: cfg.Origins(),
		MaxUploadBytes: api.DefaultMaxUploadBytes,
	}

	drainDone := make(chan struct{})
	var db *store.Database
	if backend(cfg.UploadBackend) != "none" {
		db, err = openOutbox(cfg.OutboxDBPath)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logrus.WithError(cerr).Warn("close outbox database")
			}
		}()
		outbox, err := storage.NewOutbox(db, cfg.UploadDir)
		if err != nil {
			return err
		}
		effects.Spooler = outbox
		serverCfg.Uploads = db

		if cfg.UploadInline {
			uploader, err := newUploader(ctx, cfg, loader)
			if err != nil {
				return err
			}
			drainer := storage.NewDrainer(db, uploader, 25, cfg.UploadAttempts)
			go func() {
				defer close(drainDone)
				drainer.Run(ctx, cfg.UploadInterval)
			}()
			logrus.WithFields(logrus.Fields{
				"backend":  backend(cfg.UploadBackend),
				"interval": cfg.UploadInterval,
			}).Info("inline upload drainer started")
		}
	}
	if !cfg.UploadInline || backend(cfg.UploadBackend) == "none" {
		close(drainDone)
	}

	notifier, err := newNotifier(ctx, cfg, loader)
	if err != nil {
		return err
	}
	serverCfg.Notifier = notifier

	svcCfg := moderation.Config{Classifier: classifier, Effects: effects}
	var engine *ocr.Engine
	if cfg.OCRDisabled {
		logrus.Warn("OCR disabled via configuration, images will report OCR not available")
	} else {
		engine = ocr.NewEngine(ocr.Config{
			MaxQueue:     cfg.OCRMaxQueue,
			QueueTimeout: cfg.OCRQueueTimeout,
			JobTimeout:   cfg.OCRJobTimeout,
		})
		engine.StartAsync(ctx, startupBounded(ocr.TesseractConfig{
			Path:     cfg.TesseractPath,
			Language: cfg.OCRLanguage,
			PSM:      cfg.OCRPSM,
		}.Factory(), cfg.OCRStartupBudget))
		svcCfg.Engine = engine
		serverCfg.Engine = engine
	}

	svc, err := moderation.NewService(svcCfg)
	if err != nil {
		return err
	}
	serverCfg.Moderator = svc

	server, err := api.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	router, err := server.Router()
	if err != nil {
		return fmt.Errorf("configure router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("starting content moderation backend on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logrus.Info("shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	if err := runner.Close(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("drain background tasks")
	}
	if engine != nil {
		if err := engine.Close(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("close OCR engine")
		}
	}
	select {
	case <-drainDone:
	case <-shutdownCtx.Done():
		logrus.Warn("upload drainer did not stop in time")
	}
	stats := runner.Stats()
	logrus.WithFields(logrus.Fields{
		"tasks_completed": stats.Completed,
		"tasks_failed":    stats.Failed,
		"tasks_dropped":   stats.Dropped,
	}).Info("server stopped")
	return nil
}

func loadClassifier(path string) (*scoring.TextClassifier, error) {
	if strings.TrimSpace(path) == "" {
		return scoring.NewTextClassifier(scoring.DefaultRules())
	}
	classifier, err := scoring.LoadTextClassifier(path)
	if err != nil {
		return nil, fmt.Errorf("text classifier: %w", err)
	}
	logrus.WithFields(logrus.Fields{"path": path, "rules": len(classifier.Rules())}).Info("moderation rules loaded")
	return classifier, nil
}

func startupBounded(factory ocr.Factory, budget time.Duration) ocr.Factory {
	if budget <= 0 {
		return factory
	}
	return func(ctx context.Context) (ocr.Recognizer, error) {
		ctx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()
		return factory(ctx)
	}
}

// awsLoader loads the shared AWS config on first use so local backends start
// without credentials.
type awsLoader struct {
	region string
	cfg    *aws.Config
}

func newAWSLoader(region string) *awsLoader {
	return &awsLoader{region: strings.TrimSpace(region)}
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	if l.cfg != nil {
		return *l.cfg, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if l.region != "" {
		opts = append(opts, awsconfig.WithRegion(l.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	l.cfg = &cfg
	return cfg, nil
}

func newMetricsSink(ctx context.Context, cfg Config, loader *awsLoader) (metrics.Sink, error) {
	switch backend(cfg.MetricsBackend) {
	case "cloudwatch":
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		logrus.WithField("namespace", cfg.MetricsNamespace).Info("publishing metrics to CloudWatch")
		return metrics.NewCloudWatchSink(awsCfg, cfg.MetricsNamespace), nil
	case "", "log":
		return metrics.LogSink{}, nil
	case "none":
		return metrics.NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}

func newUploader(ctx context.Context, cfg Config, loader *awsLoader) (storage.Uploader, error) {
	var awsCfg aws.Config
	if backend(cfg.UploadBackend) == "s3" {
		loaded, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		awsCfg = loaded
	}
	return storage.NewUploader(cfg.UploadBackend, awsCfg, storage.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.AWSRegion,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
}

func newNotifier(ctx context.Context, cfg Config, loader *awsLoader) (notify.Dispatcher, error) {
	switch backend(cfg.NotifyBackend) {
	case "sns":
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewSNSDispatcher(awsCfg, cfg.SNSTopicARN)
	case "fcm":
		client, err := notify.NewFCMClient(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, err
		}
		return notify.NewFCMDispatcher(client, cfg.FCMTopic)
	case "", "log":
		return notify.LogDispatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.NotifyBackend)
	}
}

func openOutbox(path string) (*store.Database, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := store.Open(path, true)
	if err != nil {
		return nil, err
	}
	return db, nil
}
