package refine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-cutout/common"
)

type memStore struct {
	files  map[string][]byte
	writes int
}

func (m *memStore) ReadFile(name string) ([]byte, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *memStore) WriteFile(name string, data []byte) error {
	m.files[name] = data
	m.writes++
	return nil
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidCutout(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 30, 120, 200, 255
	}
	return img
}

func squareErasure(w, h int, r image.Rectangle) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return m
}

func alphaAt(t *testing.T, data []byte, x, y int) uint8 {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
}

func TestRefineSquare(t *testing.T) {
	store := &memStore{files: map[string][]byte{"obj_1.png": encode(t, solidCutout(100, 100))}}
	erasure := encode(t, squareErasure(100, 100, image.Rect(25, 25, 75, 75)))

	cutout, err := New(DefaultOptions()).Refine(context.Background(), store, "obj_1.png", erasure)
	require.NoError(t, err)

	assert.Equal(t, "obj_1.png", cutout.Name)
	assert.Equal(t, "obj", cutout.Label)
	assert.Equal(t, 1, cutout.Ordinal)
	assert.Equal(t, common.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, cutout.Bounds, "dimensions never change")

	stored := store.files["obj_1.png"]
	assert.Equal(t, uint8(0), alphaAt(t, stored, 50, 50))
	assert.Equal(t, uint8(255), alphaAt(t, stored, 0, 0))
	assert.Equal(t, uint8(255), alphaAt(t, stored, 24, 24))
	assert.Equal(t, uint8(0), alphaAt(t, stored, 25, 25))
	assert.Equal(t, uint8(0), alphaAt(t, stored, 74, 74))
	assert.Equal(t, uint8(255), alphaAt(t, stored, 75, 75))
}

func TestRefineIdempotent(t *testing.T) {
	store := &memStore{files: map[string][]byte{"obj_1.png": encode(t, solidCutout(40, 40))}}
	erasure := encode(t, squareErasure(40, 40, image.Rect(0, 0, 20, 40)))
	engine := New(DefaultOptions())

	_, err := engine.Refine(context.Background(), store, "obj_1.png", erasure)
	require.NoError(t, err)
	first := append([]byte(nil), store.files["obj_1.png"]...)
	require.Equal(t, 1, store.writes)

	_, err = engine.Refine(context.Background(), store, "obj_1.png", erasure)
	require.NoError(t, err)
	assert.Equal(t, first, store.files["obj_1.png"])
	assert.Equal(t, 1, store.writes, "no-op refinement should not rewrite the file")
}

func TestRefineResizesErasure(t *testing.T) {
	store := &memStore{files: map[string][]byte{"cat_2.png": encode(t, solidCutout(80, 60))}}
	// Left half of a 40x30 canvas maps onto the left half of the cutout.
	erasure := encode(t, squareErasure(40, 30, image.Rect(0, 0, 20, 30)))

	_, err := New(DefaultOptions()).Refine(context.Background(), store, "cat_2.png", erasure)
	require.NoError(t, err)

	stored := store.files["cat_2.png"]
	assert.Equal(t, uint8(0), alphaAt(t, stored, 0, 0))
	assert.Equal(t, uint8(0), alphaAt(t, stored, 39, 59))
	assert.Equal(t, uint8(255), alphaAt(t, stored, 40, 0))
	assert.Equal(t, uint8(255), alphaAt(t, stored, 79, 59))
}

func TestRefineThreshold(t *testing.T) {
	src := solidCutout(3, 1)
	erasure := image.NewGray(image.Rect(0, 0, 3, 1))
	erasure.Pix = []uint8{10, 11, 0}

	changed, err := New(DefaultOptions()).Apply(src, encode(t, erasure))
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, []uint8{255, 0, 255}, []uint8{src.Pix[3], src.Pix[7], src.Pix[11]})
}

func TestRefineErrors(t *testing.T) {
	good := encode(t, squareErasure(10, 10, image.Rect(0, 0, 5, 5)))
	store := &memStore{files: map[string][]byte{
		"obj_1.png": encode(t, solidCutout(10, 10)),
		"bad_1.png": []byte("not a png"),
	}}

	tests := []struct {
		name    string
		file    string
		erasure []byte
		want    error
	}{
		{name: "unknown cutout", file: "nope_1.png", erasure: good, want: common.ErrNotFound},
		{name: "empty erasure", file: "obj_1.png", erasure: nil, want: common.ErrRefinement},
		{name: "garbage erasure", file: "obj_1.png", erasure: []byte("xx"), want: common.ErrRefinement},
		{name: "corrupt cutout", file: "bad_1.png", erasure: good, want: common.ErrRefinement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := store.writes
			_, err := New(DefaultOptions()).Refine(context.Background(), store, tt.file, tt.erasure)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, before, store.writes, "failed refinement must not write")
		})
	}
}

func TestRefinePixelLimit(t *testing.T) {
	store := &memStore{files: map[string][]byte{"obj_1.png": encode(t, solidCutout(10, 10))}}
	opts := DefaultOptions()
	opts.Decoder.MaxPixels = 400
	engine := New(opts)

	_, err := engine.Refine(context.Background(), store, "obj_1.png",
		encode(t, squareErasure(200, 200, image.Rect(0, 0, 100, 100))))
	assert.True(t, errors.Is(err, common.ErrRefinement), "got %v", err)
	assert.Zero(t, store.writes)

	_, err = engine.Refine(context.Background(), store, "obj_1.png",
		encode(t, squareErasure(20, 20, image.Rect(0, 0, 10, 10))))
	require.NoError(t, err)
	assert.Equal(t, 1, store.writes)
}

func TestRefineCancelled(t *testing.T) {
	store := &memStore{files: map[string][]byte{"obj_1.png": encode(t, solidCutout(10, 10))}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultOptions()).Refine(ctx, store, "obj_1.png", encode(t, squareErasure(10, 10, image.Rect(0, 0, 10, 10))))
	assert.Error(t, err)
	assert.Zero(t, store.writes)
}
