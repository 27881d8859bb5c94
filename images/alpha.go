package images

import (
	"image"

	"github.com/pkg/errors"
)

// ReplaceAlpha returns a copy of src whose alpha channel is mask. Colour
// channels are kept as straight (non-premultiplied) values.
//
// Arguments:
// - src: The source raster, anchored at the origin.
// - mask: A mask with exactly the size of src.
//
// Returns:
// - *image.NRGBA: The matted copy.
// - error: An error if the sizes differ.
func ReplaceAlpha(src *image.NRGBA, mask *MaskRaster) (*image.NRGBA, error) {
	size := src.Bounds().Size()
	if size != mask.Size() {
		return nil, errors.Errorf("mask size %v does not match image size %v", mask.Size(), size)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	Parallel(size.Y, func(start, end int) {
		for y := start; y < end; y++ {
			srcOff := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
			dstOff := y * dst.Stride
			copy(dst.Pix[dstOff:dstOff+size.X*4], src.Pix[srcOff:srcOff+size.X*4])
			for x := 0; x < size.X; x++ {
				dst.Pix[dstOff+x*4+3] = mask.Value(x, y)
			}
		}
	})
	return dst, nil
}

// AlphaBounds returns the smallest rectangle holding every pixel with alpha
// above zero. The result is empty if the image is fully transparent.
func AlphaBounds(img *image.NRGBA) image.Rectangle {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x, off = x+1, off+4 {
			if img.Pix[off+3] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}

	if maxX < minX || maxY < minY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// EraseAlpha forces alpha to 0 wherever the erasure mask is strictly above
// threshold and leaves every other pixel untouched.
//
// Arguments:
// - img: The raster to modify in place.
// - erasure: A mask with exactly the size of img.
// - threshold: Intensities at or below this value keep the pixel.
//
// Returns:
// - int: The number of pixels whose alpha actually changed.
// - error: An error if the sizes differ.
func EraseAlpha(img *image.NRGBA, erasure *MaskRaster, threshold uint8) (int, error) {
	size := img.Bounds().Size()
	if size != erasure.Size() {
		return 0, errors.Errorf("erasure size %v does not match image size %v", erasure.Size(), size)
	}

	changed := 0
	for y := 0; y < size.Y; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		for x := 0; x < size.X; x, off = x+1, off+4 {
			if erasure.Value(x, y) > threshold && img.Pix[off+3] != 0 {
				img.Pix[off+3] = 0
				changed++
			}
		}
	}
	return changed, nil
}
