package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"socialify-moderation/backend/internal/metrics"
	"socialify-moderation/backend/internal/moderation"
	"socialify-moderation/backend/internal/notify"
	"socialify-moderation/backend/internal/ocr"
	"socialify-moderation/backend/internal/scoring"
	"socialify-moderation/backend/internal/store"
	"socialify-moderation/backend/internal/tasks"
)

// DefaultMaxUploadBytes caps uploaded images.
const DefaultMaxUploadBytes int64 = 10 << 20

const (
	apiVersion         = "1.0.0"
	initializingMsg    = "OCR system is still initializing. Please try again in a few seconds."
	fileTooLargeMsg    = "File too large"
	imagesOnlyMsg      = "Only image files are allowed"
	notifyTimeout      = 10 * time.Second
	multipartOverheadB = 1 << 20
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"}

var allowedImageExts = []string{".jpeg", ".jpg", ".png", ".gif", ".webp", ".bmp"}

// Moderator produces verdicts. *moderation.Service satisfies it.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.Request) (scoring.CombinedVerdict, error)
	EngineState() ocr.State
}

// EngineStats exposes OCR engine counters. *ocr.Engine satisfies it.
type EngineStats interface {
	Stats() ocr.Stats
}

// TaskRunner runs best-effort work. *tasks.Runner satisfies it.
type TaskRunner interface {
	Submit(name string, fn tasks.Task) bool
	Stats() tasks.Stats
}

// UploadCounter reports outbox sizes. *store.Database satisfies it.
type UploadCounter interface {
	CountUploads(status string) (int64, error)
}

// Config defines server dependencies.
type Config struct {
	Moderator      Moderator
	Engine         EngineStats
	Runner         TaskRunner
	Notifier       notify.Dispatcher
	Counters       *metrics.Counters
	Uploads        UploadCounter
	Verdicts       *VerdictNotifier
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server wires HTTP handlers with the moderation service and side effects.
type Server struct {
	moderator      Moderator
	engine         EngineStats
	runner         TaskRunner
	notifier       notify.Dispatcher
	counters       *metrics.Counters
	uploads        UploadCounter
	verdicts       *VerdictNotifier
	allowedOrigins []string
	maxUpload      int64
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Moderator == nil {
		return nil, errors.New("moderator required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("task runner required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		logrus.Info("notification channel not configured, logging social events")
		notifier = notify.LogDispatcher{}
	}
	verdicts := cfg.Verdicts
	if verdicts == nil {
		verdicts = NewVerdictNotifier()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Server{
		moderator:      cfg.Moderator,
		engine:         cfg.Engine,
		runner:         cfg.Runner,
		notifier:       notifier,
		counters:       cfg.Counters,
		uploads:        cfg.Uploads,
		verdicts:       verdicts,
		allowedOrigins: cfg.AllowedOrigins,
		maxUpload:      maxUpload,
	}, nil
}

// Verdicts returns the websocket broadcaster fed by moderation effects.
func (s *Server) Verdicts() *VerdictNotifier {
	return s.verdicts
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()
	r.MaxMultipartMemory = s.maxUpload + multipartOverheadB

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/", s.handleRoot)
	r.POST("/like", s.handleLike)

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/healthz", s.handleLiveness)
		api.GET("/test", s.handleTest)
		api.POST("/moderate/post", s.handleModerate)
		api.GET("/moderate/stream", s.handleVerdictStream)
		api.POST("/social/comment", s.handleComment)
		api.POST("/social/follow", s.handleFollow)
	}

	return r, nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "Welcome to OCR Content Moderation API",
		"description": "Extracts text from images and moderates content",
		"status":      "running",
		"endpoints": gin.H{
			"health":   "/api/health",
			"test":     "/api/test",
			"moderate": "/api/moderate/post",
			"stream":   "/api/moderate/stream",
			"like":     "/like",
			"comment":  "/api/social/comment",
			"follow":   "/api/social/follow",
		},
	})
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "OCR Content Moderation API is responding!",
		"version":   apiVersion,
		"status":    "operational",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	state := s.moderator.EngineState()
	resp := HealthResponse{
		Status:    "OK",
		Message:   "OCR Content Moderation Server is running",
		OCRReady:  state == ocr.Ready,
		OCRState:  state.String(),
		Monitors:  s.verdicts.Clients(),
		Timestamp: time.Now().UTC(),
	}
	if s.engine != nil {
		stats := s.engine.Stats()
		resp.OCR = &stats
	}
	taskStats := s.runner.Stats()
	resp.Tasks = &taskStats
	if s.counters != nil {
		snap := s.counters.Snapshot()
		resp.Metrics = &snap
	}
	if s.uploads != nil {
		counts, err := s.uploadCounts()
		if err != nil {
			logrus.WithError(err).Warn("count outbox uploads")
		} else {
			resp.Uploads = &counts
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) uploadCounts() (UploadCounts, error) {
	var (
		counts UploadCounts
		err    error
	)
	if counts.Pending, err = s.uploads.CountUploads(store.UploadPending); err != nil {
		return counts, err
	}
	if counts.Uploaded, err = s.uploads.CountUploads(store.UploadDone); err != nil {
		return counts, err
	}
	if counts.Failed, err = s.uploads.CountUploads(store.UploadFailed); err != nil {
		return counts, err
	}
	return counts, nil
}

func (s *Server) handleModerate(c *gin.Context) {
	req, status, err := s.bindModeration(c)
	if err != nil {
		s.renderError(c, status, err)
		return
	}

	verdict, err := s.moderator.Moderate(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, moderation.ErrUnavailable):
			s.renderError(c, http.StatusServiceUnavailable, errors.New(initializingMsg))
		default:
			logrus.WithError(err).Error("moderation failed")
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, FromVerdict(verdict))
}

// bindModeration accepts a JSON body or a multipart form with an optional
// image part.
func (s *Server) bindModeration(c *gin.Context) (moderation.Request, int, error) {
	var req moderation.Request
	if c.ContentType() == gin.MIMEJSON {
		var body ModerateJSONRequest
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			return req, http.StatusBadRequest, err
		}
		req.Text = body.Text
		return req, 0, nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+multipartOverheadB)
	if text, ok := c.GetPostForm("text"); ok {
		req.Text = &text
	}

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return req, 0, nil
		case errors.As(err, &tooLarge):
			return req, http.StatusBadRequest, errors.New(fileTooLargeMsg)
		default:
			return req, http.StatusBadRequest, err
		}
	}

	img, status, err := s.readImage(header)
	if err != nil {
		return req, status, err
	}
	req.Image = img
	return req, 0, nil
}

func (s *Server) readImage(header *multipart.FileHeader) (*moderation.Image, int, error) {
	if header.Size > s.maxUpload {
		return nil, http.StatusBadRequest, errors.New(fileTooLargeMsg)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !lo.Contains(allowedImageExts, ext) {
		return nil, http.StatusBadRequest, errors.New(imagesOnlyMsg)
	}

	src, err := header.Open()
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, s.maxUpload+1))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.maxUpload {
		return nil, http.StatusBadRequest, errors.New(fileTooLargeMsg)
	}
	detected := mimetype.Detect(data)
	if !lo.Contains(allowedImageTypes, detected.String()) {
		return nil, http.StatusBadRequest, errors.New(imagesOnlyMsg)
	}
	return &moderation.Image{Data: data, FileName: header.Filename, SizeBytes: int64(len(data))}, 0, nil
}

func (s *Server) handleVerdictStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			return lo.ContainsBy(s.allowedOrigins, func(allowed string) bool {
				return strings.EqualFold(origin, allowed)
			})
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.verdicts.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("verdict websocket connected")
	defer s.verdicts.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("verdict websocket closed")
			} else {
				logrus.WithError(err).Warn("verdict websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) handleLike(c *gin.Context) {
	var req LikeRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}

	event := notify.Event{
		Type:     lo.CoalesceOrEmpty(strings.TrimSpace(req.Type), notify.EventLike),
		Sender:   lo.CoalesceOrEmpty(strings.TrimSpace(req.Sender), "userA"),
		Receiver: lo.CoalesceOrEmpty(strings.TrimSpace(req.Receiver), "userB"),
		PostID:   lo.CoalesceOrEmpty(req.PostID, notify.PostID("123")),
	}
	logrus.WithFields(logrus.Fields{
		"type":     event.Type,
		"sender":   event.Sender,
		"receiver": event.Receiver,
		"post_id":  event.PostID,
	}).Info("like received")

	s.notify("notify-like", event)
	c.JSON(http.StatusOK, SocialResponse{OK: true, Message: "Like processed; notification triggered (best-effort)"})
}

func (s *Server) handleComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	s.notify("notify-comment", notify.Event{
		Type:        notify.EventComment,
		Sender:      req.Sender,
		Receiver:    req.Receiver,
		PostID:      req.PostID,
		CommentText: req.CommentText,
	})
	c.JSON(http.StatusOK, SocialResponse{OK: true, Message: "Comment processed; notification triggered (best-effort)"})
}

func (s *Server) handleFollow(c *gin.Context) {
	var req FollowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	s.notify("notify-follow", notify.Event{
		Type:     notify.EventFollow,
		Sender:   req.Sender,
		Receiver: req.Receiver,
	})
	c.JSON(http.StatusOK, SocialResponse{OK: true, Message: "Follow processed; notification triggered (best-effort)"})
}

// notify queues the event; delivery failures never reach the caller.
func (s *Server) notify(name string, event notify.Event) {
	queued := s.runner.Submit(name, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		return s.notifier.Notify(ctx, event)
	})
	if !queued {
		logrus.WithField("type", event.Type).Warn("notification dropped")
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
