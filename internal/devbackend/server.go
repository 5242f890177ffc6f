package devbackend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voiceia/internal/domain"
)

const (
	defaultPrefix       = "/api/v1"
	defaultMaxUpload    = 10 * 1024 * 1024
	defaultStepDelay    = 150 * time.Millisecond
	defaultPingInterval = 15 * time.Second
	writeWait           = 5 * time.Second
	closeGrace          = time.Second
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Options configures the development backend.
type Options struct {
	// PublicURL is the externally reachable origin used in presigned upload
	// URLs. When empty the request's Host is used.
	PublicURL      string
	Prefix         string
	MaxUploadBytes int64
	StepDelay      time.Duration
	PingInterval   time.Duration
	AllowOrigins   []string
	Transcriber    Transcriber
	Logger         zerolog.Logger
}

// Server simulates the transcription service: presigned uploads, job
// creation, status polling, e-mail delivery and the realtime job channel.
type Server struct {
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	uploads map[string]*upload
	jobs    map[string]*job
	emails  []EmailDelivery
}

type upload struct {
	filename    string
	contentType string
	data        []byte
	complete    bool
}

// EmailDelivery records one requested transcript e-mail.
type EmailDelivery struct {
	JobID string
	Email string
}

func New(opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = defaultStepDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Transcriber == nil {
		opts.Transcriber = EchoTranscriber{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts: opts,
		log:  opts.Logger.With().Str("component", "devbackend").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		uploads: make(map[string]*upload),
		jobs:    make(map[string]*job),
	}
}

// Handler returns the gin engine serving every route.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(s.opts.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = s.opts.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "voiceia-devbackend"})
	})

	api := router.Group(s.opts.Prefix)
	{
		api.GET("/audio/get_presigned_url", s.handlePresign)
		api.PUT("/upload/:key", s.handleUpload)
		api.POST("/audio/send_transcription_email", s.handleEmail)

		jobs := api.Group("/job")
		jobs.POST("/transcribe", s.handleTranscribe)
		jobs.GET("/status/:id", s.handleStatus)
		jobs.GET("/ws/:id", s.handleWS)
	}
	return router
}

// Close stops simulated workers and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Emails returns the e-mail deliveries requested so far.
func (s *Server) Emails() []EmailDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EmailDelivery(nil), s.emails...)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Str("request_id", c.GetHeader("X-Request-ID")).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func detail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": message})
}

func (s *Server) handlePresign(c *gin.Context) {
	filename := strings.TrimSpace(c.Query("filename"))
	contentType := strings.TrimSpace(c.Query("content_type"))
	if filename == "" {
		detail(c, http.StatusBadRequest, "filename is required")
		return
	}
	size, err := strconv.ParseInt(c.DefaultQuery("file_size", "0"), 10, 64)
	if err != nil || size < 0 {
		detail(c, http.StatusBadRequest, "file_size must be a non-negative integer")
		return
	}
	if size > s.opts.MaxUploadBytes {
		detail(c, http.StatusRequestEntityTooLarge, "File exceeds the maximum upload size")
		return
	}
	if contentType != "" && !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") &&
		contentType != "application/octet-stream" {
		detail(c, http.StatusUnsupportedMediaType, "Unsupported content type "+contentType)
		return
	}

	key := uuid.NewString()
	s.mu.Lock()
	s.uploads[key] = &upload{filename: filename, contentType: contentType}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"url": s.publicURL(c) + s.opts.Prefix + "/upload/" + key})
}

func (s *Server) handleUpload(c *gin.Context) {
	key := c.Param("key")
	s.mu.Lock()
	target, ok := s.uploads[key]
	s.mu.Unlock()
	if !ok {
		detail(c, http.StatusNotFound, "Unknown upload target")
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, s.opts.MaxUploadBytes+1))
	if err != nil {
		detail(c, http.StatusBadRequest, "Failed to read upload body")
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		detail(c, http.StatusRequestEntityTooLarge, "File exceeds the maximum upload size")
		return
	}

	s.mu.Lock()
	target.data = data
	target.complete = true
	if ct := c.GetHeader("Content-Type"); ct != "" {
		target.contentType = ct
	}
	s.mu.Unlock()
	s.log.Info().Str("key", key).Int("bytes", len(data)).Msg("upload stored")
	c.Status(http.StatusOK)
}

type transcribeRequest struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Mode     string `json:"mode"`
}

func (s *Server) handleTranscribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" || req.URL == "" {
		detail(c, http.StatusBadRequest, "filename and url are required")
		return
	}
	model := domain.DefaultModel
	if req.Mode != "" {
		parsed, err := domain.ParseModel(req.Mode)
		if err != nil {
			detail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		model = parsed
	}

	j := newJob(uuid.NewString(), req.Filename, req.URL, model, time.Now())
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.work(j)

	s.log.Info().Str("job_id", j.id).Str("model", string(model)).Msg("job accepted")
	c.JSON(http.StatusOK, gin.H{"id": j.id})
}

func (s *Server) handleStatus(c *gin.Context) {
	j, ok := s.job(c.Param("id"))
	if !ok {
		detail(c, http.StatusNotFound, "Job not found")
		return
	}
	c.JSON(http.StatusOK, j.report())
}

type emailRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !emailPattern.MatchString(req.Email) {
		detail(c, http.StatusBadRequest, "Invalid email address")
		return
	}
	j, ok := s.job(req.ID)
	if !ok {
		detail(c, http.StatusNotFound, "Job not found")
		return
	}
	if j.snapshot().Status != domain.JobStatusCompleted {
		detail(c, http.StatusConflict, "Transcription is not finished yet")
		return
	}

	s.mu.Lock()
	s.emails = append(s.emails, EmailDelivery{JobID: req.ID, Email: req.Email})
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "Transcription sent to " + req.Email})
}

func (s *Server) handleWS(c *gin.Context) {
	id := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log := s.log.With().Str("job_id", id).Logger()

	j, ok := s.job(id)
	if !ok {
		writeClose(conn, websocket.ClosePolicyViolation, "unknown job")
		return
	}
	updates, current := j.subscribe()
	defer j.unsubscribe(updates)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.Debug().RawJSON("frame", payload).Msg("client frame")
		}
	}()

	send := func(msg domain.ChannelMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}
	finish := func() {
		writeClose(conn, websocket.CloseNormalClosure, "job finished")
		select {
		case <-readDone:
		case <-time.After(closeGrace):
		}
	}

	if err := send(domain.ChannelMessage{Type: domain.MessageTypeConnected, JobID: id}); err != nil {
		return
	}
	if err := send(domain.ChannelMessage{Type: domain.MessageTypePing}); err != nil {
		return
	}
	if current.Status != nil && *current.Status != domain.JobStatusPending {
		if err := send(current); err != nil {
			return
		}
		if current.Status.IsTerminal() {
			finish()
			return
		}
	}

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			log.Debug().Msg("client went away")
			return
		case <-s.ctx.Done():
			writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			if err := send(domain.ChannelMessage{Type: domain.MessageTypePing}); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		case msg := <-updates:
			if err := send(msg); err != nil {
				log.Debug().Err(err).Msg("update write failed")
				return
			}
			if msg.Status != nil && msg.Status.IsTerminal() {
				finish()
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (s *Server) job(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// uploadFor resolves the upload a job URL points at.
func (s *Server) uploadFor(url string) (*upload, error) {
	idx := strings.LastIndex(url, "/upload/")
	if idx < 0 {
		return nil, errors.New("file url does not reference an upload")
	}
	key := url[idx+len("/upload/"):]
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[key]
	if !ok || !u.complete {
		return nil, errors.New("uploaded file not found")
	}
	return u, nil
}

func (s *Server) publicURL(c *gin.Context) string {
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
