// Package server - HTTP transport for uploads, downloads and refinement.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-cutout/common"
	"github.com/nvr-ai/go-cutout/controller"
	"github.com/nvr-ai/go-cutout/profiler"
)

// Service is the pipeline the handlers drive. *controller.Controller
// implements it.
type Service interface {
	Process(ctx context.Context, filename string, data []byte) (*controller.Result, error)
	Refine(ctx context.Context, sessionID, filename string, mask []byte) (*controller.RefineResult, error)
	FilePath(sessionID, filename string) (string, error)
	Cleanup(ctx context.Context) ([]string, error)
	Stats() profiler.Stats
}

// Config holds request limits.
type Config struct {
	// Mode is the gin mode: debug, release or test.
	Mode          string
	MaxUploadSize int64
	// AllowedExts are lower-case extensions without the dot.
	AllowedExts []string
}

// DefaultConfig returns the request limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		Mode:          gin.ReleaseMode,
		MaxUploadSize: 10 << 20,
		AllowedExts:   []string{"png", "jpg", "jpeg"},
	}
}

// Server wires the handlers to a Service.
type Server struct {
	svc     Service
	cfg     Config
	allowed map[string]struct{}
	logger  *zap.Logger
}

// New creates a Server. Zero config fields take their defaults.
func New(cfg Config, svc Service, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = def.MaxUploadSize
	}
	if len(cfg.AllowedExts) == 0 {
		cfg.AllowedExts = def.AllowedExts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedExts))
	for _, e := range cfg.AllowedExts {
		allowed[e] = struct{}{}
	}
	return &Server{svc: svc, cfg: cfg, allowed: allowed, logger: logger}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(s.cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(s.logger))
	r.Use(CORS())
	r.MaxMultipartMemory = s.cfg.MaxUploadSize

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.svc.Stats())
	})

	r.POST("/upload", s.Upload)
	r.GET("/download/:session_id/:filename", s.Download)
	r.POST("/refine", s.Refine)
	r.POST("/cleanup/:session_id", s.Cleanup)

	return r
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrRefinement), errors.Is(err, common.ErrMaskDecode):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
