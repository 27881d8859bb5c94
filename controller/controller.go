// Package controller - Routes uploads and refinement requests through the
// cut-out pipeline inside per-session workspaces.
package controller

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nvr-ai/go-cutout/archive"
	"github.com/nvr-ai/go-cutout/common"
	"github.com/nvr-ai/go-cutout/extract"
	"github.com/nvr-ai/go-cutout/images"
	"github.com/nvr-ai/go-cutout/profiler"
	"github.com/nvr-ai/go-cutout/refine"
	"github.com/nvr-ai/go-cutout/segmentation"
	"github.com/nvr-ai/go-cutout/session"
)

// Config bounds the work a Controller takes on.
type Config struct {
	// MaxConcurrent is the number of uploads and refinements processed at once.
	MaxConcurrent int
	// QueueTimeout is how long a request waits for a slot before ErrBusy.
	QueueTimeout time.Duration
	// MaxIdle is the idle age after which Cleanup removes a session.
	MaxIdle time.Duration
	// MaxImagePixels rejects uploads whose header declares a larger raster.
	MaxImagePixels int
	// Profiler receives stage timings. Nil disables them.
	Profiler *profiler.Profiler
}

// DefaultConfig returns the processing defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  3,
		QueueTimeout:   30 * time.Second,
		MaxIdle:        session.DefaultMaxIdle,
		MaxImagePixels: images.DefaultMaxPixels,
	}
}

// Object summarises one cutout produced by Process.
type Object struct {
	Name   string             `json:"name"`
	Label  string             `json:"label"`
	Score  float64            `json:"score"`
	Bounds common.BoundingBox `json:"bounds"`
}

// Result is the outcome of Process.
type Result struct {
	SessionID string   `json:"session_id"`
	Files     []string `json:"files"`
	Archive   string   `json:"zip_file"`
	Objects   []Object `json:"objects"`
	// Empty is set when no candidate produced a cutout. The session has
	// already been removed in that case.
	Empty bool `json:"-"`
}

// RefineResult is the outcome of Refine.
type RefineResult struct {
	Filename string             `json:"filename"`
	Archive  string             `json:"zip_file"`
	Bounds   common.BoundingBox `json:"bounds"`
}

// Controller ties the session store, segmentation and the pipeline together.
type Controller struct {
	store     *session.Store
	segmenter segmentation.Segmenter
	extractor *extract.Extractor
	refiner   *refine.Engine

	sem          *semaphore.Weighted
	queueTimeout time.Duration
	maxIdle      time.Duration
	maxPixels    int
	prof         *profiler.Profiler
	logger       *zap.Logger
}

// New creates a Controller. Zero config fields take their defaults.
//
// Arguments:
// - cfg: Concurrency and idle limits.
// - store: Session storage.
// - segmenter: Candidate source.
// - extractor: Builds cutouts from candidates.
// - refiner: Applies erasure masks.
// - logger: A nil logger disables logging.
//
// Returns:
// - *Controller: The controller.
func New(
	cfg Config,
	store *session.Store,
	segmenter segmentation.Segmenter,
	extractor *extract.Extractor,
	refiner *refine.Engine,
	logger *zap.Logger,
) *Controller {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = def.MaxIdle
	}
	if cfg.MaxImagePixels <= 0 {
		cfg.MaxImagePixels = def.MaxImagePixels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:        store,
		segmenter:    segmenter,
		extractor:    extractor,
		refiner:      refiner,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		queueTimeout: cfg.QueueTimeout,
		maxIdle:      cfg.MaxIdle,
		maxPixels:    cfg.MaxImagePixels,
		prof:         cfg.Profiler,
		logger:       logger,
	}
}

func (c *Controller) acquire(ctx context.Context) (func(), error) {
	qctx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	defer cancel()
	if err := c.sem.Acquire(qctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(common.ErrBusy, "no slot within %s", c.queueTimeout)
	}
	return func() { c.sem.Release(1) }, nil
}

// Process segments an uploaded image and extracts every detected object into
// a new session, then bundles the cutouts into the session archive.
//
// Arguments:
// - ctx: Cancels segmentation and extraction.
// - filename: The client-side file name. Only its extension is used.
// - data: The encoded image.
//
// Returns:
// - *Result: The session and its files. Result.Empty is set when nothing
// was extracted.
// - error: The tagged pipeline error; the session is removed on failure.
func (c *Controller) Process(ctx context.Context, filename string, data []byte) (*Result, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()

	src, format, err := images.DecodeImageLimit(data, c.maxPixels)
	if err != nil {
		return nil, errors.Wrapf(common.ErrExtraction, "unreadable source image: %v", err)
	}

	sess, err := c.store.Create()
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	log := c.logger.With(zap.String("session", sess.ID()))

	keep := false
	defer func() {
		if keep {
			return
		}
		if err := c.store.Remove(sess.ID()); err != nil {
			log.Warn("failed to remove session", zap.Error(err))
		}
	}()

	if err := sess.WriteFile(sourceName(filename), data); err != nil {
		return nil, errors.Wrap(err, "store source image")
	}

	done := c.prof.StartOperation("segment")
	candidates, err := c.segmenter.Segment(ctx, filename, data)
	done()
	if err != nil {
		log.Error("segmentation failed", zap.Error(err))
		return nil, err
	}

	log.Info("segmentation complete",
		zap.String("format", format),
		zap.Int("width", src.Bounds().Dx()),
		zap.Int("height", src.Bounds().Dy()),
		zap.Int("candidates", len(candidates)))

	c.prof.RecordMetric("candidates", float64(len(candidates)))

	done = c.prof.StartOperation("extract")
	cutouts, err := c.extractor.Extract(ctx, src, candidates, sess)
	done()
	if err != nil {
		log.Error("extraction failed", zap.Error(err))
		return nil, err
	}
	c.prof.RecordMetric("cutouts", float64(len(cutouts)))
	if len(cutouts) == 0 {
		log.Info("no objects extracted")
		return &Result{Empty: true, Files: []string{}, Objects: []Object{}}, nil
	}

	names := lo.Map(cutouts, func(ct common.Cutout, _ int) string { return ct.Name })
	if err := sess.SetCutouts(names); err != nil {
		return nil, errors.Wrapf(common.ErrExtraction, "record cutouts: %v", err)
	}
	if err := c.rebuildArchive(sess); err != nil {
		return nil, err
	}

	keep = true
	log.Info("image processed",
		zap.Int("objects", len(names)),
		zap.Duration("cost", time.Since(start)))

	return &Result{
		SessionID: sess.ID(),
		Files:     names,
		Archive:   sess.ArchiveName(),
		Objects: lo.Map(cutouts, func(ct common.Cutout, _ int) Object {
			return Object{Name: ct.Name, Label: ct.Label, Score: ct.Score, Bounds: ct.Bounds}
		}),
	}, nil
}

// Refine erases the masked pixels from one cutout of a session and rebuilds
// the session archive. Refinements of the same session run one at a time.
//
// Arguments:
// - ctx: Cancels the refinement.
// - sessionID: The session holding the cutout.
// - filename: The cutout name as returned by Process.
// - mask: The encoded erasure raster.
//
// Returns:
// - *RefineResult: The refined file and archive names.
// - error: common.ErrNotFound for an unknown session or cutout,
// common.ErrRefinement for malformed input, common.ErrArchive if the rebuild fails.
func (c *Controller) Refine(ctx context.Context, sessionID, filename string, mask []byte) (*RefineResult, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := c.store.Open(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	// A sweep may have removed the session between Open and Lock.
	if !sess.Alive() {
		return nil, errors.Wrapf(common.ErrNotFound, "session %s", sessionID)
	}

	listed, err := sess.HasCutout(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "session %s", sessionID)
	}
	if !listed {
		return nil, errors.Wrapf(common.ErrNotFound, "cutout %s in session %s", filename, sessionID)
	}

	done := c.prof.StartOperation("refine")
	cutout, err := c.refiner.Refine(ctx, sess, filename, mask)
	done()
	if err != nil {
		return nil, err
	}
	if err := c.rebuildArchive(sess); err != nil {
		return nil, err
	}
	if err := sess.Touch(); err != nil {
		c.logger.Warn("failed to touch session", zap.String("session", sessionID), zap.Error(err))
	}

	c.logger.Info("cutout refined",
		zap.String("session", sessionID),
		zap.String("filename", filename))

	return &RefineResult{
		Filename: filename,
		Archive:  sess.ArchiveName(),
		Bounds:   cutout.Bounds,
	}, nil
}

func (c *Controller) rebuildArchive(sess *session.Session) error {
	paths, err := sess.CutoutPaths()
	if err != nil {
		return errors.Wrap(common.ErrArchive, err.Error())
	}
	defer c.prof.StartOperation("archive")()
	_, err = archive.Build(paths, sess.ArchivePath())
	return err
}

// Stats returns the stage timings collected so far.
func (c *Controller) Stats() profiler.Stats {
	return c.prof.Snapshot()
}

// FilePath resolves a downloadable file of a session and marks the session
// as active.
func (c *Controller) FilePath(sessionID, filename string) (string, error) {
	sess, err := c.store.Open(sessionID)
	if err != nil {
		return "", err
	}
	if filename != sess.ArchiveName() {
		listed, err := sess.HasCutout(filename)
		if err != nil {
			return "", errors.Wrapf(err, "session %s", sessionID)
		}
		if !listed {
			return "", errors.Wrapf(common.ErrNotFound, "file %s in session %s", filename, sessionID)
		}
	}
	if !sess.Exists(filename) {
		return "", errors.Wrapf(common.ErrNotFound, "file %s in session %s", filename, sessionID)
	}
	p, err := sess.Path(filename)
	if err != nil {
		return "", errors.Wrap(common.ErrNotFound, err.Error())
	}
	if err := sess.Touch(); err != nil {
		c.logger.Warn("failed to touch session", zap.String("session", sessionID), zap.Error(err))
	}
	return p, nil
}

// Cleanup removes every session idle for longer than the configured limit.
func (c *Controller) Cleanup(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	removed, err := c.store.Sweep(c.maxIdle)
	if len(removed) > 0 {
		c.logger.Info("sessions cleaned", zap.Strings("sessions", removed))
	}
	return removed, err
}

func sourceName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = ".bin"
	}
	return session.SourcePrefix + ext
}
