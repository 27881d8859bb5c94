//go:build !gocv
// +build !gocv

package images

import (
	"image"

	"github.com/pkg/errors"
)

// AreaAvailable reports whether the Area filter is compiled in.
const AreaAvailable = false

// resizeAreaGray returns an error if the build lacks the gocv tag.
func resizeAreaGray(*image.Gray, int, int) (*image.Gray, error) {
	return nil, errors.New("area filter requires the gocv build tag")
}
