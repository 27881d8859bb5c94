//go:build !gocv
// +build !gocv

package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAreaFilterUnavailable(t *testing.T) {
	assert.False(t, AreaAvailable)

	src := grayRect(10, 10, image.Rect(0, 0, 5, 5), 255)
	_, err := ResampleGray(src, 5, 5, Area)
	assert.ErrorContains(t, err, "gocv")
}
