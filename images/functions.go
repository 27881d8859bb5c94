// Package images - Mask decoding, channel reduction and resampling for the
// cut-out pipeline.
package images

import (
	"image"
	"image/color"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Filter selects the resampling algorithm used when a raster has to be
// brought to a different size.
type Filter int

const (
	// NearestNeighbor copies the closest source pixel. It never invents
	// intermediate values, so hard mask edges and binary strokes stay binary.
	NearestNeighbor Filter = iota
	// Bilinear uses a triangle kernel.
	Bilinear
	// Bicubic uses a Catmull-Rom cubic kernel.
	Bicubic
	// MitchellNetravali uses the B=1/3, C=1/3 cubic kernel.
	MitchellNetravali
	// Lanczos uses a Lanczos kernel with a=3. Preserves soft, antialiased edges.
	Lanczos
	// Area averages covered source pixels (OpenCV INTER_AREA). Only available
	// in builds with the gocv tag.
	Area
)

var filterNames = map[Filter]string{
	NearestNeighbor:   "nearest",
	Bilinear:          "bilinear",
	Bicubic:           "bicubic",
	MitchellNetravali: "mitchell",
	Lanczos:           "lanczos",
	Area:              "area",
}

func (f Filter) String() string {
	if name, ok := filterNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParseFilter resolves a filter by its configuration name.
//
// Arguments:
// - name: One of nearest, bilinear, bicubic, mitchell, lanczos, area (case-insensitive).
//
// Returns:
// - The matching Filter.
// - An error if the name is unknown.
//
// @example
// f, err := ParseFilter("lanczos")
func ParseFilter(name string) (Filter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range filterNames {
		if n == name {
			return f, nil
		}
	}
	return NearestNeighbor, errors.Errorf("unknown resampling filter %q", name)
}

// Parallel splits [0, dataSize) into one contiguous partition per CPU and runs
// fn on each partition concurrently. Small inputs run on the calling goroutine.
//
// Arguments:
// - dataSize: The number of rows (or items) to process.
// - fn: Function receiving the half-open partition [partStart, partEnd).
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	workers := runtime.NumCPU()
	if dataSize < workers*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		start := i * partSize
		end := start + partSize
		if i == workers-1 {
			end = dataSize
		}
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// Clamp restricts value to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// ITU-R BT.709 luma coefficients.
const (
	redWeight   = 0.2126
	greenWeight = 0.7152
	blueWeight  = 0.0722
)

// Luma reduces a straight (non-premultiplied) RGB triple to 8-bit intensity.
func Luma(r, g, b uint8) uint8 {
	y := float64(r)*redWeight + float64(g)*greenWeight + float64(b)*blueWeight
	return uint8(Clamp(y+0.5, 0, 255))
}

// ToGray reduces any image to a single-channel intensity raster anchored at
// the origin. Gray inputs are copied as-is; colour inputs go through Luma on
// their straight colour, so alpha never darkens the result.
//
// Arguments:
// - img: The image to reduce.
//
// Returns:
// - A new *image.Gray with the same dimensions as img.
//
// @example
// gray := ToGray(decodedMask)
func ToGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	dst := image.NewGray(image.Rect(0, 0, width, height))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			srcOff := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+width], src.Pix[srcOff:srcOff+width])
		}
		return dst
	case *image.Gray16:
		Parallel(height, func(start, end int) {
			for y := start; y < end; y++ {
				for x := 0; x < width; x++ {
					v := src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
					dst.Pix[y*dst.Stride+x] = uint8(v >> 8)
				}
			}
		})
		return dst
	case *image.NRGBA:
		Parallel(height, func(start, end int) {
			for y := start; y < end; y++ {
				off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
				for x := 0; x < width; x++ {
					p := src.Pix[off+x*4 : off+x*4+3 : off+x*4+3]
					dst.Pix[y*dst.Stride+x] = Luma(p[0], p[1], p[2])
				}
			}
		})
		return dst
	}

	Parallel(height, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				dst.Pix[y*dst.Stride+x] = Luma(c.R, c.G, c.B)
			}
		}
	})
	return dst
}

// resizeNearestGray samples the source pixel whose center is closest to each
// destination pixel center.
func resizeNearestGray(src *image.Gray, width, height int) *image.Gray {
	bounds := src.Bounds()
	srcWidth, srcHeight := bounds.Dx(), bounds.Dy()
	dst := image.NewGray(image.Rect(0, 0, width, height))

	xRatio := float64(srcWidth) / float64(width)
	yRatio := float64(srcHeight) / float64(height)

	// Column lookups are shared by every row.
	cols := make([]int, width)
	for x := range cols {
		sx := int((float64(x) + 0.5) * xRatio)
		if sx >= srcWidth {
			sx = srcWidth - 1
		}
		cols[x] = sx
	}

	Parallel(height, func(start, end int) {
		for y := start; y < end; y++ {
			sy := int((float64(y) + 0.5) * yRatio)
			if sy >= srcHeight {
				sy = srcHeight - 1
			}
			srcRow := src.Pix[src.PixOffset(bounds.Min.X, bounds.Min.Y+sy):]
			dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+width]
			for x, sx := range cols {
				dstRow[x] = srcRow[sx]
			}
		}
	})
	return dst
}
