package segmentation

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/common"
)

const (
	// DefaultBaseURL is the hosted inference router.
	DefaultBaseURL = "https://router.huggingface.co/hf-inference/models"
	// DefaultModelID is the instance segmentation model used when none is set.
	DefaultModelID = "facebook/mask2former-swin-large-coco-instance"
	// DefaultTimeout bounds one inference call.
	DefaultTimeout = 120 * time.Second

	maxResponseSize = 256 << 20
)

// Segmenter proposes object candidates for an encoded image.
type Segmenter interface {
	Segment(ctx context.Context, filename string, image []byte) ([]common.Candidate, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	ModelID string
	// Token is sent as a bearer token when non-empty.
	Token   string
	Timeout time.Duration
}

// Client calls a hosted inference endpoint over HTTP.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient creates a Client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.ModelID, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Endpoint returns the URL the client posts to.
func (c *Client) Endpoint() string { return c.endpoint }

// Segment posts the raw image bytes and parses the candidate list.
//
// Arguments:
// - ctx: Cancels the request.
// - filename: Used only to pick the Content-Type.
// - image: The encoded source image.
//
// Returns:
// - []common.Candidate: Candidates in service order.
// - error: common.ErrSegmentation for transport and HTTP failures, or the
// ParseResponse error for a malformed body.
func (c *Client) Segment(ctx context.Context, filename string, image []byte) ([]common.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, errors.Wrapf(common.ErrSegmentation, "build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType(filename))
	req.Header.Set("x-wait-for-model", "true")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(common.ErrSegmentation, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrapf(common.ErrSegmentation, "read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.Wrap(common.ErrSegmentation,
			"authentication failed: set a valid API token (HF_API_TOKEN)")
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Wrapf(common.ErrSegmentation, "status %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	return ParseResponse(body)
}

func contentType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
