package images

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
)

// FormatWebP is the format name reported for WebP containers.
const FormatWebP = "webp"

// DefaultMaxPixels caps the declared size of a raster before it is decoded.
// It is the usual decompression-bomb limit (about 89.5 megapixels).
const DefaultMaxPixels = 89_478_485

// ErrTooLarge marks a raster whose header declares more pixels than allowed.
var ErrTooLarge = errors.New("image exceeds pixel limit")

// IsWebP reports whether data starts with a RIFF/WEBP container header.
func IsWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// DecodeImage decodes an encoded raster of any supported container
// (PNG, JPEG, GIF, BMP, TIFF, WebP) no larger than DefaultMaxPixels.
//
// @example
// img, format, err := DecodeImage(pngBytes)
func DecodeImage(data []byte) (image.Image, string, error) {
	return DecodeImageLimit(data, DefaultMaxPixels)
}

// DecodeImageLimit decodes an encoded raster after checking the size its
// header declares. Nothing is allocated for the pixels of a rejected raster.
//
// Arguments:
// - data: The encoded bytes.
// - maxPixels: Largest accepted width*height. Zero or less disables the check.
//
// Returns:
// - image.Image: The decoded raster.
// - string: The container format name.
// - error: An error wrapping ErrTooLarge for oversized rasters, or an error
// if data is empty or not a supported raster.
//
// @example
// img, _, err := DecodeImageLimit(upload, 40_000_000)
func DecodeImageLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("empty image data")
	}
	if maxPixels > 0 {
		if err := checkPixels(data, maxPixels); err != nil {
			return nil, "", err
		}
	}

	if IsWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to decode webp")
		}
		return img, FormatWebP, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to decode image")
	}
	return img, format, nil
}

func checkPixels(data []byte, maxPixels int) error {
	var (
		cfg image.Config
		err error
	)
	if IsWebP(data) {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return errors.Wrap(err, "failed to read image header")
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return errors.Wrapf(ErrTooLarge, "%dx%d is more than %d pixels", cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// LoadImage reads and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return img, nil
}
