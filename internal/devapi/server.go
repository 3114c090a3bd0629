// Package devapi exposes the capture agent over a device-local HTTP API.
// The host application (camera UI, debug tooling) talks to it on loopback;
// nothing here is meant to face a network.
package devapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/mediastore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/retention"
)

const (
	// DefaultHost binds to loopback only.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the agent control port.
	DefaultPort = 8787

	readHeaderTimeout = 10 * time.Second
	shutdownGrace     = 10 * time.Second
)

// MediaStore is the slice of the media store the API serves.
// *mediastore.Store satisfies it.
type MediaStore interface {
	Save(ctx context.Context, r io.Reader, origName string) (mediastore.Asset, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Path(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) (bool, error)
	Cleanup(ctx context.Context, maxAgeDays *int) (int, error)
	ClearAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (mediastore.Stats, error)
}

// SubmissionQueue is the slice of the outbox the API serves.
// *outbox.Queue satisfies it.
type SubmissionQueue interface {
	Enqueue(ctx context.Context, sub outbox.Submission) (outbox.Submission, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Pending(ctx context.Context) ([]outbox.Submission, error)
	Status() outbox.Status
	Sync(ctx context.Context) (outbox.Result, error)
	Subscribe() (<-chan outbox.Status, func())
}

// Network reports the current connectivity verdict for /health.
type Network interface {
	IsOnline() bool
}

// SweeperInfo reports retention sweeper state for /health.
type SweeperInfo interface {
	Snapshot() retention.Snapshot
}

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int
	// AllowedOrigins restricts CORS. Empty allows every origin, which is
	// acceptable only because the listener binds to loopback.
	AllowedOrigins []string
}

// Deps collects the components the API fronts. Media and Queue are
// required; Network and Sweeper enrich /health when present.
type Deps struct {
	Media   MediaStore
	Queue   SubmissionQueue
	Network Network
	Sweeper SweeperInfo
}

// Server is the device-local control API.
type Server struct {
	cfg  Config
	deps Deps

	engine     *gin.Engine
	httpServer *http.Server
	hub        *statusHub
	logger     logging.Logger
	tracer     *observability.TracerProvider
	startTime  time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// WithTracer attaches a tracer; every request then runs inside a span.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(s *Server) { s.tracer = tracer }
}

// NewServer builds the API server around its dependencies.
func NewServer(cfg Config, deps Deps, opts ...Option) (*Server, error) {
	if deps.Media == nil {
		return nil, fmt.Errorf("devapi: media store is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("devapi: submission queue is required")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logging.Nop(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = newStatusHub(deps.Queue, s.logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.recovery())
	engine.Use(s.requestLogger())
	if s.tracer != nil {
		engine.Use(s.tracing())
	}
	engine.Use(cors.New(s.corsConfig()))
	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
		// No write timeout: the status stream holds its socket open.
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

func (s *Server) corsConfig() cors.Config {
	cc := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		cc.AllowOrigins = s.cfg.AllowedOrigins
	} else {
		cc.AllowAllOrigins = true
	}
	cc.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "X-Filename"}
	cc.AllowWebSockets = true
	return cc
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api/v1")

	media := api.Group("/media")
	{
		media.POST("", s.handleSaveMedia)
		media.GET("/stats", s.handleMediaStats)
		media.GET("/:id", s.handleGetMedia)
		media.GET("/:id/path", s.handleMediaPath)
		media.DELETE("/:id", s.handleDeleteMedia)
		media.POST("/cleanup", s.handleCleanup)
		media.POST("/purge", s.handlePurge)
	}

	submissions := api.Group("/submissions")
	{
		submissions.POST("", s.handleEnqueue)
		submissions.GET("", s.handleListSubmissions)
		submissions.DELETE("/:id", s.handleCancelSubmission)
	}

	queue := api.Group("/queue")
	{
		queue.GET("/status", s.handleQueueStatus)
		queue.POST("/sync", s.handleTriggerSync)
		queue.GET("/status/ws", s.handleStatusWS)
	}
}

// Handler exposes the routing tree. Tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("Control API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("devapi: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, closes every status stream and
// stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("devapi: shutdown: %w", err)
	}
	s.logger.Info("Control API stopped")
	return nil
}

type healthResponse struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	Online    *bool               `json:"online,omitempty"`
	Media     *mediastore.Stats   `json:"media,omitempty"`
	Queue     outbox.Status       `json:"queue"`
	Retention *retention.Snapshot `json:"retention,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Queue:  s.deps.Queue.Status(),
	}
	if s.deps.Network != nil {
		online := s.deps.Network.IsOnline()
		resp.Online = &online
	}
	if stats, err := s.deps.Media.Stats(c.Request.Context()); err == nil {
		resp.Media = &stats
	} else {
		resp.Status = "degraded"
	}
	if s.deps.Sweeper != nil {
		snap := s.deps.Sweeper.Snapshot()
		resp.Retention = &snap
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// upgrader promotes /queue/status/ws requests. The listener binds to
// loopback, so origin checks add nothing here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleStatusWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	s.hub.serve(conn)
}
