// Package server exposes a ServiceDebugger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
)

// Config configures a Server.
type Config struct {
	// Prefix is the path the debug API is mounted under. Default: /debug.
	Prefix string
	Logger *slog.Logger
	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler
	// TracerProvider enables request tracing when set.
	TracerProvider trace.TracerProvider
	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

// Server routes debug API requests to a ServiceDebugger.
type Server struct {
	debugger *flowdebug.ServiceDebugger
	cfg      Config
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the router for d.
func New(d *flowdebug.ServiceDebugger, cfg Config) *Server {
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "/" {
		cfg.Prefix = "/debug"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		debugger: d,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if s.cfg.TracerProvider != nil {
		r.Use(otelgin.Middleware(s.debugger.ServiceName(), otelgin.WithTracerProvider(s.cfg.TracerProvider)))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.MetricsHandler))
	}

	api := r.Group(s.cfg.Prefix)
	api.GET("/", s.handleHome)
	api.GET("/flows", s.handleListFlows)
	api.GET("/flows/:flow_name", s.handleFlowDetail)
	api.DELETE("/flows/:flow_name", s.handleUnregisterFlow)
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:session_id", s.handleGetSession)
	api.DELETE("/sessions/:session_id", s.handleDeleteSession)
	api.GET("/sessions/:session_id/ws", s.handleWebsocket)
	api.GET("/ui", s.handleUI)

	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine.Handler()
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("debug server listening",
			slog.String("addr", addr),
			slog.String("prefix", s.cfg.Prefix),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Float64("duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
		)
	}
}

func (s *Server) wsURL(sessionID string) string {
	return s.cfg.Prefix + "/sessions/" + sessionID + "/ws"
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}
