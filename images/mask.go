package images

import (
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/common"
)

// DefaultNoiseFloor is the intensity below which decoded mask values are
// treated as background bleed.
const DefaultNoiseFloor uint8 = 10

// MaskRaster is a single-channel coverage grid: 0 is background, 255 is
// foreground, anything in between is partial coverage.
type MaskRaster struct {
	*image.Gray
}

// Size returns the raster dimensions.
func (m *MaskRaster) Size() image.Point {
	return m.Bounds().Size()
}

// Value returns the coverage at (x, y) relative to the raster origin.
func (m *MaskRaster) Value(x, y int) uint8 {
	return m.Pix[y*m.Stride+x]
}

// DecoderOptions controls how masks are decoded.
type DecoderOptions struct {
	// Filter is used when the mask size differs from the target size.
	Filter Filter
	// NoiseFloor is the intensity below which values are clamped to 0.
	NoiseFloor uint8
	// NoiseFloorEnabled toggles the noise-floor pass.
	NoiseFloorEnabled bool
	// MaxPixels rejects encoded masks declaring more pixels. Zero means
	// DefaultMaxPixels.
	MaxPixels int
}

// DefaultExtractionOptions keeps soft edges: Lanczos resampling plus the
// noise floor.
func DefaultExtractionOptions() DecoderOptions {
	return DecoderOptions{
		Filter:            Lanczos,
		NoiseFloor:        DefaultNoiseFloor,
		NoiseFloorEnabled: true,
		MaxPixels:         DefaultMaxPixels,
	}
}

// DefaultRefinementOptions treats rasters as binary strokes: nearest-neighbor
// resampling and no noise floor.
func DefaultRefinementOptions() DecoderOptions {
	return DecoderOptions{
		Filter:            NearestNeighbor,
		NoiseFloor:        DefaultNoiseFloor,
		NoiseFloorEnabled: false,
		MaxPixels:         DefaultMaxPixels,
	}
}

// Decoder turns encoded mask bytes into a MaskRaster of a requested size.
// It holds no mutable state and is safe for concurrent use.
type Decoder struct {
	opts DecoderOptions
}

// NewDecoder creates a decoder with the given options.
func NewDecoder(opts DecoderOptions) *Decoder {
	return &Decoder{opts: opts}
}

// Options returns the decoder configuration.
func (d *Decoder) Options() DecoderOptions {
	return d.opts
}

// Decode decodes raw into a MaskRaster of exactly width x height.
//
// The encoded raster is reduced to intensity, resampled with the configured
// filter if its size differs from the target and, if enabled, passed through
// the noise floor. The mask is always resampled, never the image it belongs to.
//
// Arguments:
// - raw: Encoded raster bytes of any supported container and size.
// - width: Target width in pixels.
// - height: Target height in pixels.
//
// Returns:
// - *MaskRaster: The decoded mask.
// - error: An error wrapping common.ErrMaskDecode on any failure.
//
// @example
// dec := NewDecoder(DefaultExtractionOptions())
// mask, err := dec.Decode(maskPNG, 640, 480)
func (d *Decoder) Decode(raw []byte, width, height int) (*MaskRaster, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(common.ErrMaskDecode, "invalid target size %dx%d", width, height)
	}

	limit := d.opts.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	img, _, err := DecodeImageLimit(raw, limit)
	if err != nil {
		return nil, errors.Wrap(common.ErrMaskDecode, err.Error())
	}

	gray := ToGray(img)
	if gray.Bounds().Dx() != width || gray.Bounds().Dy() != height {
		gray, err = ResampleGray(gray, width, height, d.opts.Filter)
		if err != nil {
			return nil, errors.Wrapf(common.ErrMaskDecode, "resample with %s: %v", d.opts.Filter, err)
		}
	}

	mask := &MaskRaster{Gray: gray}
	if d.opts.NoiseFloorEnabled {
		ApplyNoiseFloor(mask, d.opts.NoiseFloor)
	}
	return mask, nil
}

// ApplyNoiseFloor clamps every value strictly below floor to 0 in place.
// Values at or above the floor keep their soft coverage.
func ApplyNoiseFloor(m *MaskRaster, floor uint8) {
	if floor == 0 {
		return
	}
	height := m.Bounds().Dy()
	width := m.Bounds().Dx()
	Parallel(height, func(start, end int) {
		for y := start; y < end; y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+width]
			for x, v := range row {
				if v < floor {
					row[x] = 0
				}
			}
		}
	})
}
