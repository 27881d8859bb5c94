package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-cutout/common"
)

func TestDecoderNoiseFloor(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix = []uint8{5, 10, 200}
	raw := encodePNG(t, src)

	tests := []struct {
		name string
		opts DecoderOptions
		want []uint8
	}{
		{name: "extraction clamps below floor", opts: DefaultExtractionOptions(), want: []uint8{0, 10, 200}},
		{name: "refinement keeps raw values", opts: DefaultRefinementOptions(), want: []uint8{5, 10, 200}},
		{name: "custom floor", opts: DecoderOptions{Filter: Lanczos, NoiseFloor: 11, NoiseFloorEnabled: true}, want: []uint8{0, 0, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := NewDecoder(tt.opts).Decode(raw, 3, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mask.Pix)
		})
	}
}

func TestDecoderResamplesToTarget(t *testing.T) {
	raw := encodePNG(t, grayRect(50, 50, image.Rect(10, 10, 40, 40), 255))

	mask, err := NewDecoder(DefaultExtractionOptions()).Decode(raw, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 200, Y: 100}, mask.Size())
	assert.Equal(t, uint8(255), mask.Value(100, 50))
	assert.Equal(t, uint8(0), mask.Value(0, 0))
}

func TestDecoderReducesColour(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{A: 255})
	// Straight colour is used, so a half-transparent white is still white.
	src.SetNRGBA(2, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 128})

	mask, err := NewDecoder(DefaultRefinementOptions()).Decode(encodePNG(t, src), 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 255}, mask.Pix)
}

func TestDecoderErrors(t *testing.T) {
	dec := NewDecoder(DefaultExtractionOptions())
	valid := encodePNG(t, grayRect(4, 4, image.Rect(0, 0, 2, 2), 255))

	tests := []struct {
		name          string
		raw           []byte
		width, height int
	}{
		{name: "garbage", raw: []byte("definitely not a png"), width: 4, height: 4},
		{name: "empty", raw: nil, width: 4, height: 4},
		{name: "zero width", raw: valid, width: 0, height: 4},
		{name: "negative height", raw: valid, width: 4, height: -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := dec.Decode(tt.raw, tt.width, tt.height)
			assert.Nil(t, mask)
			assert.True(t, errors.Is(err, common.ErrMaskDecode), "got %v", err)
		})
	}
}

func TestDecoderPixelLimit(t *testing.T) {
	opts := DefaultRefinementOptions()
	opts.MaxPixels = 100
	dec := NewDecoder(opts)

	mask, err := dec.Decode(encodePNG(t, grayRect(20, 20, image.Rect(0, 0, 5, 5), 255)), 4, 4)
	assert.Nil(t, mask)
	assert.True(t, errors.Is(err, common.ErrMaskDecode), "got %v", err)

	mask, err = NewDecoder(DefaultExtractionOptions()).Decode(pngHeader(20_000, 20_000), 64, 64)
	assert.Nil(t, mask)
	assert.True(t, errors.Is(err, common.ErrMaskDecode), "got %v", err)
	assert.ErrorContains(t, err, "pixel limit")

	mask, err = dec.Decode(encodePNG(t, grayRect(10, 10, image.Rect(0, 0, 5, 5), 255)), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(4, 4), mask.Size())
}

func TestApplyNoiseFloor(t *testing.T) {
	m := &MaskRaster{Gray: image.NewGray(image.Rect(0, 0, 4, 1))}
	m.Pix = []uint8{0, 9, 10, 255}

	ApplyNoiseFloor(m, 0)
	assert.Equal(t, []uint8{0, 9, 10, 255}, m.Pix, "floor 0 is a no-op")

	ApplyNoiseFloor(m, 10)
	assert.Equal(t, []uint8{0, 0, 10, 255}, m.Pix)
}
