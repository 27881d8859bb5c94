package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-cutout/common"
)

type memWriter struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  error
}

func newMemWriter() *memWriter {
	return &memWriter{files: make(map[string][]byte)}
}

func (m *memWriter) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func inCircle(x, y int) bool {
	dx := float64(x) + 0.5 - 100
	dy := float64(y) + 0.5 - 100
	return dx*dx+dy*dy <= 2500
}

// sceneImage draws a red circle inscribed in (50,50)-(150,150) and a blue
// square at (10,10)-(40,40) on white.
func sceneImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			switch {
			case inCircle(x, y):
				c = color.NRGBA{R: 255, A: 255}
			case x >= 10 && x < 40 && y >= 10 && y < 40:
				c = color.NRGBA{B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func circleMask() *image.Gray {
	m := image.NewGray(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			if inCircle(x, y) {
				m.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return m
}

func squareMask(w, h int, r image.Rectangle) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return m
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeNRGBA(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok, "cutouts are stored as NRGBA, got %T", img)
	return nrgba
}

func TestExtractCircle(t *testing.T) {
	w := newMemWriter()
	ex := New(DefaultOptions(), nil)

	cutouts, err := ex.Extract(context.Background(), sceneImage(), []common.Candidate{
		{Label: "obj", Score: 0.9, Mask: encode(t, circleMask())},
	}, w)
	require.NoError(t, err)
	require.Len(t, cutouts, 1)

	c := cutouts[0]
	assert.Equal(t, "obj_1.png", c.Name)
	assert.Equal(t, "obj", c.Label)
	assert.Equal(t, 1, c.Ordinal)
	assert.Equal(t, 0.9, c.Score)
	assert.Equal(t, common.BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}, c.Bounds)

	stored := decodeNRGBA(t, w.files["obj_1.png"])
	require.Equal(t, image.Rect(0, 0, 100, 100), stored.Bounds())
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			px := stored.NRGBAAt(x, y)
			if inCircle(x+50, y+50) {
				require.Equal(t, uint8(255), px.A, "inside at %d,%d", x, y)
				require.Equal(t, uint8(255), px.R)
				require.Equal(t, uint8(0), px.B)
			} else {
				require.Equal(t, uint8(0), px.A, "outside at %d,%d", x, y)
			}
		}
	}
}

func TestExtractDropsUnusableCandidates(t *testing.T) {
	src := sceneImage()
	good := encode(t, squareMask(200, 200, image.Rect(10, 10, 40, 40)))

	tests := []struct {
		name      string
		candidate common.Candidate
	}{
		{name: "missing mask", candidate: common.Candidate{Label: "ghost", Score: 0.8}},
		{name: "empty mask", candidate: common.Candidate{Label: "blank", Mask: encode(t, image.NewGray(image.Rect(0, 0, 200, 200)))}},
		{name: "undecodable mask", candidate: common.Candidate{Label: "junk", Mask: []byte("not a png")}},
		{name: "below noise floor", candidate: common.Candidate{Label: "faint", Mask: encode(t, func() *image.Gray {
			m := image.NewGray(image.Rect(0, 0, 200, 200))
			for i := range m.Pix {
				m.Pix[i] = 9
			}
			return m
		}())}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newMemWriter()
			cutouts, err := New(DefaultOptions(), nil).Extract(context.Background(), src, []common.Candidate{
				{Label: "square", Mask: good},
				tt.candidate,
				{Label: "square", Mask: good},
			}, w)
			require.NoError(t, err)
			require.Len(t, cutouts, 2)
			assert.Equal(t, "square_1.png", cutouts[0].Name)
			assert.Equal(t, "square_3.png", cutouts[1].Name, "ordinals follow input positions")
			assert.Len(t, w.files, 2)
		})
	}
}

func TestExtractEmptyInput(t *testing.T) {
	cutouts, err := New(DefaultOptions(), nil).Extract(context.Background(), sceneImage(), nil, newMemWriter())
	require.NoError(t, err)
	assert.NotNil(t, cutouts)
	assert.Empty(t, cutouts)
}

func TestExtractResamplesSmallMask(t *testing.T) {
	src := sceneImage()
	mask := encode(t, squareMask(100, 100, image.Rect(35, 35, 65, 65)))

	cutouts, err := New(DefaultOptions(), nil).Extract(context.Background(), src, []common.Candidate{
		{Label: "box", Mask: mask},
	}, newMemWriter())
	require.NoError(t, err)
	require.Len(t, cutouts, 1)

	b := cutouts[0].Bounds
	assert.InDelta(t, 60, b.Width(), 4)
	assert.InDelta(t, 60, b.Height(), 4)
	assert.InDelta(t, 70, b.X1, 3)
	assert.InDelta(t, 70, b.Y1, 3)
}

func TestExtractOffsetSourceKeepsStraightColour(t *testing.T) {
	big := image.NewNRGBA(image.Rect(0, 0, 120, 120))
	for i := 0; i < len(big.Pix); i += 4 {
		copy(big.Pix[i:i+4], []byte{200, 100, 50, 255})
	}
	source := big.SubImage(image.Rect(10, 10, 110, 110))

	mask := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 20; y < 40; y++ {
		for x := 20; x < 40; x++ {
			mask.SetGray(x, y, color.Gray{Y: 128})
		}
	}

	w := newMemWriter()
	cutouts, err := New(DefaultOptions(), nil).Extract(context.Background(), source,
		[]common.Candidate{{Label: "half", Mask: encode(t, mask)}}, w)
	require.NoError(t, err)
	require.Len(t, cutouts, 1)

	assert.Equal(t, common.BoundingBox{X1: 20, Y1: 20, X2: 40, Y2: 40}, cutouts[0].Bounds)
	assert.Equal(t, image.Rect(0, 0, 20, 20), cutouts[0].Image.Bounds())

	stored := decodeNRGBA(t, w.files["half_1.png"])
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 128}, stored.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 128}, stored.NRGBAAt(19, 19))
}

func TestExtractNamesAndCollisions(t *testing.T) {
	mask := encode(t, squareMask(200, 200, image.Rect(0, 0, 5, 5)))
	cands := []common.Candidate{
		{Label: "cat", Mask: mask},
		{Label: "cat", Mask: mask},
		{Label: "traffic light", Mask: mask},
		{Label: "", Mask: mask},
		{Label: "../etc/passwd", Mask: mask},
		{Label: "chat noir", Mask: mask},
		{Label: "коробка", Mask: mask},
	}

	w := newMemWriter()
	cutouts, err := New(DefaultOptions(), nil).Extract(context.Background(), sceneImage(), cands, w)
	require.NoError(t, err)

	var names []string
	for _, c := range cutouts {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"cat_1.png", "cat_2.png", "traffic light_3.png", "object_4.png",
		"etc_passwd_5.png", "chat noir_6.png", "коробка_7.png",
	}, names)
	assert.Len(t, w.files, 7)
}

func TestExtractWorkersKeepOrder(t *testing.T) {
	var cands []common.Candidate
	for i := 0; i < 12; i++ {
		cands = append(cands, common.Candidate{
			Label: fmt.Sprintf("o%d", i),
			Mask:  encode(t, squareMask(200, 200, image.Rect(i*10, i*10, i*10+8, i*10+8))),
		})
	}
	cands[5].Mask = nil

	opts := DefaultOptions()
	opts.Workers = 4
	cutouts, err := New(opts, nil).Extract(context.Background(), sceneImage(), cands, newMemWriter())
	require.NoError(t, err)
	require.Len(t, cutouts, 11)

	for i := 1; i < len(cutouts); i++ {
		assert.Less(t, cutouts[i-1].Ordinal, cutouts[i].Ordinal)
	}
	assert.Equal(t, image.Rect(0, 0, 8, 8), cutouts[0].Image.Bounds())
}

func TestExtractMinScore(t *testing.T) {
	mask := encode(t, squareMask(200, 200, image.Rect(0, 0, 5, 5)))
	opts := DefaultOptions()
	opts.MinScore = 0.5

	cutouts, err := New(opts, nil).Extract(context.Background(), sceneImage(), []common.Candidate{
		{Label: "low", Score: 0.2, Mask: mask},
		{Label: "high", Score: 0.7, Mask: mask},
	}, newMemWriter())
	require.NoError(t, err)
	require.Len(t, cutouts, 1)
	assert.Equal(t, "high_2.png", cutouts[0].Name)
}

func TestExtractFailures(t *testing.T) {
	mask := encode(t, squareMask(200, 200, image.Rect(0, 0, 5, 5)))
	cands := []common.Candidate{{Label: "a", Mask: mask}}
	ex := New(DefaultOptions(), nil)

	t.Run("writer error", func(t *testing.T) {
		w := newMemWriter()
		w.fail = errors.New("disk full")
		_, err := ex.Extract(context.Background(), sceneImage(), cands, w)
		assert.True(t, errors.Is(err, common.ErrExtraction), "got %v", err)
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := ex.Extract(context.Background(), image.NewNRGBA(image.Rectangle{}), cands, newMemWriter())
		assert.True(t, errors.Is(err, common.ErrExtraction), "got %v", err)
	})

	t.Run("missing source file", func(t *testing.T) {
		_, err := ex.ExtractFile(context.Background(), "/nonexistent/source.png", cands, newMemWriter())
		assert.True(t, errors.Is(err, common.ErrExtraction), "got %v", err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ex.Extract(ctx, sceneImage(), cands, newMemWriter())
		assert.Error(t, err)
	})
}

func TestExtractDoesNotModifySource(t *testing.T) {
	src := sceneImage()
	before := append([]uint8(nil), src.Pix...)

	_, err := New(DefaultOptions(), nil).Extract(context.Background(), src, []common.Candidate{
		{Label: "obj", Mask: encode(t, circleMask())},
	}, newMemWriter())
	require.NoError(t, err)
	assert.Equal(t, before, src.Pix)
}

func TestDir(t *testing.T) {
	d := Dir(t.TempDir())
	require.NoError(t, d.WriteFile("a_1.png", []byte("x")))

	data, err := d.ReadFile("a_1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	assert.Error(t, d.WriteFile("../escape.png", nil))
	_, err = d.ReadFile("sub/a.png")
	assert.Error(t, err)
}
