// Package refine - Applies user-drawn erasure masks to stored cutouts.
package refine

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io/fs"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/common"
	"github.com/nvr-ai/go-cutout/images"
)

// DefaultThreshold is the erasure intensity at or below which a pixel is kept.
const DefaultThreshold uint8 = 10

// FileStore reads and writes cutouts by name. WriteFile must replace the file
// atomically so a concurrent reader never sees a partial cutout.
type FileStore interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
}

// Options configures an Engine.
type Options struct {
	// Decoder controls erasure decoding. Strokes are binary intent, so the
	// default resamples with nearest neighbor and skips the noise floor.
	Decoder images.DecoderOptions
	// Threshold is the intensity above which a pixel is erased.
	Threshold uint8
}

// DefaultOptions returns the refinement defaults.
func DefaultOptions() Options {
	return Options{
		Decoder:   images.DefaultRefinementOptions(),
		Threshold: DefaultThreshold,
	}
}

// Engine erases pixels from cutouts.
type Engine struct {
	decoder   *images.Decoder
	threshold uint8
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{
		decoder:   images.NewDecoder(opts.Decoder),
		threshold: opts.Threshold,
	}
}

// Refine loads the cutout called name from store, forces alpha to 0 wherever
// erasure is above the threshold and writes the result back under the same
// name. Applying the same erasure twice changes nothing the second time; there
// is no way to restore erased pixels short of extracting again.
//
// The caller is responsible for rebuilding any archive that bundles the cutout.
//
// Arguments:
// - ctx: Checked before the write.
// - store: Where the cutout lives.
// - name: The cutout identity, e.g. "cat_1.png".
// - erasure: Encoded erasure raster; resampled to the cutout size if needed.
//
// Returns:
// - *common.Cutout: The refined cutout.
// - error: common.ErrNotFound if the cutout is missing, common.ErrRefinement for
// malformed erasure input or an undecodable cutout.
func (e *Engine) Refine(ctx context.Context, store FileStore, name string, erasure []byte) (*common.Cutout, error) {
	data, err := store.ReadFile(name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(common.ErrNotFound, "cutout %s", name)
		}
		return nil, errors.Wrapf(common.ErrRefinement, "read %s: %v", name, err)
	}

	src, _, err := images.DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(common.ErrRefinement, "cutout %s is not an image: %v", name, err)
	}
	img := imaging.Clone(src)

	changed, err := e.Apply(img, erasure)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(common.ErrRefinement, err.Error())
	}

	if changed > 0 {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, errors.Wrapf(common.ErrRefinement, "encode %s: %v", name, err)
		}
		if err := store.WriteFile(name, buf.Bytes()); err != nil {
			return nil, errors.Wrapf(common.ErrRefinement, "write %s: %v", name, err)
		}
	}

	cutout := &common.Cutout{
		Name:   name,
		Bounds: common.NewBoundingBox(img.Bounds()),
		Image:  img,
	}
	if label, ordinal, ok := common.ParseCutoutName(name); ok {
		cutout.Label = label
		cutout.Ordinal = ordinal
	}
	return cutout, nil
}

// Apply erases img in place and returns the number of pixels that changed.
//
// Arguments:
// - img: The cutout raster.
// - erasure: Encoded erasure raster of any size.
//
// Returns:
// - int: Pixels whose alpha went to 0.
// - error: An error wrapping common.ErrRefinement for malformed erasure input.
func (e *Engine) Apply(img *image.NRGBA, erasure []byte) (int, error) {
	if len(erasure) == 0 {
		return 0, errors.Wrap(common.ErrRefinement, "empty erasure mask")
	}

	size := img.Bounds().Size()
	mask, err := e.decoder.Decode(erasure, size.X, size.Y)
	if err != nil {
		return 0, errors.Wrap(common.ErrRefinement, err.Error())
	}

	changed, err := images.EraseAlpha(img, mask, e.threshold)
	if err != nil {
		return 0, errors.Wrap(common.ErrRefinement, err.Error())
	}
	return changed, nil
}
