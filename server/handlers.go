package server

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-cutout/segmentation"
)

// envelopeOverhead is the slack allowed on top of MaxUploadSize for the
// multipart or JSON envelope.
const envelopeOverhead = 1 << 20

type refineRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Mask      string `json:"mask"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// Upload accepts a multipart "file" field, runs the pipeline and returns the
// session with its cutout names.
func (s *Server) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize+envelopeOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, s.tooLargeMessage())
			return
		}
		badRequest(c, "No file part")
		return
	}
	if file.Filename == "" {
		badRequest(c, "No selected file")
		return
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	if _, ok := s.allowed[ext]; !ok {
		badRequest(c, "Invalid file type")
		return
	}
	if file.Size > s.cfg.MaxUploadSize {
		badRequest(c, s.tooLargeMessage())
		return
	}

	f, err := file.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadSize+1))
	if err != nil {
		s.fail(c, err)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		badRequest(c, s.tooLargeMessage())
		return
	}
	if len(data) == 0 {
		badRequest(c, "Empty file")
		return
	}

	s.logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.Int("size", len(data)))

	res, err := s.svc.Process(c.Request.Context(), file.Filename, data)
	if err != nil {
		s.fail(c, err)
		return
	}
	if res.Empty {
		c.JSON(http.StatusOK, gin.H{"error": "No objects detected."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": res.SessionID,
		"files":      res.Files,
		"zip_file":   res.Archive,
		"objects":    res.Objects,
	})
}

// Download serves one session file as an attachment.
func (s *Server) Download(c *gin.Context) {
	filename := c.Param("filename")
	path, err := s.svc.FilePath(c.Param("session_id"), filename)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.FileAttachment(path, filename)
}

// Refine applies an erasure mask to one cutout. The mask may be plain base64
// or a data URL.
func (s *Server) Refine(c *gin.Context) {
	limit := s.refineBodyLimit()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var req refineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("Request too large (max %d MB)", limit>>20),
			})
			return
		}
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.SessionID == "" || req.Filename == "" || req.Mask == "" {
		badRequest(c, "Missing data")
		return
	}

	mask, err := segmentation.DecodeBase64(req.Mask)
	if err != nil {
		badRequest(c, fmt.Sprintf("Invalid mask: %v", err))
		return
	}

	res, err := s.svc.Refine(c.Request.Context(), req.SessionID, req.Filename, mask)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "refined",
		"filename": res.Filename,
		"zip_file": res.Archive,
	})
}

// Cleanup sweeps idle sessions. The path session is only informational; idle
// sessions are removed regardless of which client asks.
func (s *Server) Cleanup(c *gin.Context) {
	removed, err := s.svc.Cleanup(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleaned", "removed": len(removed)})
}

// refineBodyLimit admits a base64 mask as large as an upload.
func (s *Server) refineBodyLimit() int64 {
	return (s.cfg.MaxUploadSize+2)/3*4 + envelopeOverhead
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("File too large (max %d MB)", s.cfg.MaxUploadSize>>20)
}
