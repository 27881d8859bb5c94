// Package extract - Turns segmentation candidates into cropped, alpha-matted
// cutouts.
package extract

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-cutout/common"
	"github.com/nvr-ai/go-cutout/images"
)

// Writer persists an encoded cutout under its name. Implementations must be
// safe for concurrent use when Options.Workers > 1.
type Writer interface {
	WriteFile(name string, data []byte) error
}

// Options configures an Extractor.
type Options struct {
	// Decoder controls mask decoding.
	Decoder images.DecoderOptions
	// MinScore skips candidates scoring below it. Zero disables filtering.
	MinScore float64
	// Workers is the number of candidates processed concurrently.
	Workers int
}

// DefaultOptions returns the extraction defaults: Lanczos resampling,
// noise floor on, no score filter, sequential processing.
func DefaultOptions() Options {
	return Options{
		Decoder: images.DefaultExtractionOptions(),
		Workers: 1,
	}
}

// Extractor produces one cutout per usable candidate.
type Extractor struct {
	decoder  *images.Decoder
	minScore float64
	workers  int
	logger   *zap.Logger
}

// New creates an Extractor. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Extractor{
		decoder:  images.NewDecoder(opts.Decoder),
		minScore: opts.MinScore,
		workers:  workers,
		logger:   logger,
	}
}

// ExtractFile loads the source image at path and runs Extract on it.
func (e *Extractor) ExtractFile(ctx context.Context, path string, candidates []common.Candidate, w Writer) ([]common.Cutout, error) {
	src, err := images.LoadImage(path)
	if err != nil {
		return nil, errors.Wrap(common.ErrExtraction, err.Error())
	}
	return e.Extract(ctx, src, candidates, w)
}

// Extract cuts every candidate out of source and persists each cutout through w.
//
// Candidates are numbered 1..N in input order. A candidate without a mask, with
// an undecodable mask, below MinScore, or whose mask covers no pixel is logged
// and dropped; it never aborts the batch. The returned slice keeps input order
// whatever the worker count, and is empty (not nil) when nothing survived.
//
// Arguments:
// - ctx: Cancels remaining candidates.
// - source: The image to cut from. It is not modified.
// - candidates: Segmentation output in model order.
// - w: Destination for the encoded PNG cutouts.
//
// Returns:
// - []common.Cutout: The produced cutouts in candidate order.
// - error: An error wrapping common.ErrExtraction for structural failures.
//
// @example
// ex := New(DefaultOptions(), logger)
// cutouts, err := ex.Extract(ctx, img, candidates, sess)
func (e *Extractor) Extract(ctx context.Context, source image.Image, candidates []common.Candidate, w Writer) ([]common.Cutout, error) {
	if source == nil || source.Bounds().Empty() {
		return nil, errors.Wrap(common.ErrExtraction, "source image is empty")
	}
	if w == nil {
		return nil, errors.Wrap(common.ErrExtraction, "no writer configured")
	}

	base := imaging.Clone(source)
	results := make([]*common.Cutout, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cutout, err := e.cutout(base, i+1, candidates[i], w)
			if err != nil {
				return err
			}
			results[i] = cutout
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, common.ErrExtraction) {
			return nil, err
		}
		return nil, errors.Wrap(common.ErrExtraction, err.Error())
	}

	cutouts := make([]common.Cutout, 0, len(candidates))
	for _, c := range results {
		if c != nil {
			cutouts = append(cutouts, *c)
		}
	}

	e.logger.Info("extraction finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("cutouts", len(cutouts)))
	return cutouts, nil
}

// cutout builds and persists a single cutout. A nil cutout with a nil error
// means the candidate was dropped.
func (e *Extractor) cutout(base *image.NRGBA, ordinal int, cand common.Candidate, w Writer) (*common.Cutout, error) {
	label := cand.Label
	if label == "" {
		label = common.DefaultLabel
	}
	log := e.logger.With(zap.String("label", label), zap.Int("ordinal", ordinal))

	if cand.Mask == nil {
		log.Warn("skipping candidate without mask")
		return nil, nil
	}
	if e.minScore > 0 && cand.Score < e.minScore {
		log.Info("skipping low-score candidate",
			zap.Float64("score", cand.Score),
			zap.Float64("min_score", e.minScore))
		return nil, nil
	}

	size := base.Bounds().Size()
	mask, err := e.decoder.Decode(cand.Mask, size.X, size.Y)
	if err != nil {
		log.Warn("skipping candidate with undecodable mask", zap.Error(err))
		return nil, nil
	}

	matted, err := images.ReplaceAlpha(base, mask)
	if err != nil {
		return nil, errors.Wrap(common.ErrExtraction, err.Error())
	}

	bounds := images.AlphaBounds(matted)
	if bounds.Empty() {
		log.Debug("skipping candidate with empty mask")
		return nil, nil
	}
	cropped := imaging.Crop(matted, bounds)

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, errors.Wrapf(common.ErrExtraction, "encode %s: %v", label, err)
	}

	name := common.CutoutName(label, ordinal)
	if err := w.WriteFile(name, buf.Bytes()); err != nil {
		return nil, errors.Wrapf(common.ErrExtraction, "write %s: %v", name, err)
	}

	log.Debug("cutout written",
		zap.String("name", name),
		zap.Stringer("bounds", bounds))

	return &common.Cutout{
		Name:    name,
		Label:   common.SanitizeLabel(label),
		Ordinal: ordinal,
		Score:   cand.Score,
		Bounds:  common.NewBoundingBox(bounds),
		Image:   cropped,
	}, nil
}
