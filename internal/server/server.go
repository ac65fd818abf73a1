package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server is the collector's local status API.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewEngine builds the gin router. metrics is served unauthenticated at /metrics.
func NewEngine(h *Handler, metrics http.Handler, secret string, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(AuthMiddleware(secret, "/ping", "/metrics"))

	router.GET("/ping", h.Ping)
	router.GET("/metrics", gin.WrapH(metrics))
	router.GET("/status", h.Status)
	router.GET("/instances", h.Instances)

	return router
}

func New(addr string, h *Handler, metrics http.Handler, secret string, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewEngine(h, metrics, secret, logger),
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("status server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
