package images

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// interpolations maps the kernel-based filters onto nfnt/resize.
var interpolations = map[Filter]resize.InterpolationFunction{
	Bilinear:          resize.Bilinear,
	Bicubic:           resize.Bicubic,
	MitchellNetravali: resize.MitchellNetravali,
	Lanczos:           resize.Lanczos3,
}

// ResampleGray brings a single-channel raster to width x height with the given
// filter. Inputs that already have the target size are copied unchanged.
//
// Arguments:
// - src: The raster to resample.
// - width: Target width in pixels.
// - height: Target height in pixels.
// - filter: The resampling filter.
//
// Returns:
// - A new *image.Gray of exactly width x height, anchored at the origin.
// - An error for non-positive target sizes, empty sources or an unavailable filter.
//
// @example
// mask, err := ResampleGray(coarse, 640, 480, NearestNeighbor)
func ResampleGray(src *image.Gray, width, height int, filter Filter) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	if src.Bounds().Empty() {
		return nil, errors.New("empty source raster")
	}

	// nfnt/resize assumes rasters anchored at the origin.
	src = ToGray(src)
	if src.Bounds().Dx() == width && src.Bounds().Dy() == height {
		return src, nil
	}

	switch filter {
	case NearestNeighbor:
		return resizeNearestGray(src, width, height), nil
	case Area:
		return resizeAreaGray(src, width, height)
	}

	interp, ok := interpolations[filter]
	if !ok {
		return nil, errors.Errorf("unsupported resampling filter: %d", filter)
	}
	out := resize.Resize(uint(width), uint(height), src, interp)
	if gray, ok := out.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray, nil
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), out, out.Bounds().Min, draw.Src)
	return dst, nil
}
