// Package imageprep normalizes uploaded query images before they are sent to
// the embedding provider.
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Defaults for Prepare.
const (
	DefaultMaxSide  = 1024
	DefaultQuality  = 90
	DefaultMaxBytes = 10 << 20
)

// ErrEmptyImage is returned for a zero-length upload.
var ErrEmptyImage = errors.New("imageprep: empty image")

// ErrTooLarge is returned when the upload exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("imageprep: image too large")

// ErrUnsupported is returned when the upload cannot be decoded.
var ErrUnsupported = errors.New("imageprep: unsupported image")

// Options bound the output image.
type Options struct {
	MaxSide  int
	Quality  int
	MaxBytes int
}

func (o Options) withDefaults() Options {
	if o.MaxSide <= 0 {
		o.MaxSide = DefaultMaxSide
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// Prepare decodes raw, applies EXIF orientation, fits it inside a
// MaxSide x MaxSide box and re-encodes it as JPEG. Images already within the
// box are not upscaled.
func Prepare(raw []byte, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if len(raw) == 0 {
		return nil, ErrEmptyImage
	}
	if len(raw) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	img = fit(img, opts.MaxSide)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("imageprep: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
}
