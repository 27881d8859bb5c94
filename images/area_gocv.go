//go:build gocv
// +build gocv

package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// AreaAvailable reports whether the Area filter is compiled in.
const AreaAvailable = true

// resizeAreaGray resamples with OpenCV's pixel-area relation. src must be
// anchored at the origin with a compact stride.
func resizeAreaGray(src *image.Gray, width, height int) (*image.Gray, error) {
	b := src.Bounds()
	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, src.Pix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap mask in mat")
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	if resized.Empty() {
		return nil, errors.New("area resize produced an empty mat")
	}

	pix := resized.ToBytes()
	if len(pix) != width*height {
		return nil, errors.Errorf("area resize produced %d bytes, want %d", len(pix), width*height)
	}
	return &image.Gray{Pix: pix, Stride: width, Rect: image.Rect(0, 0, width, height)}, nil
}
