package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF format
	_ "image/jpeg" // Register JPEG format
	_ "image/png"  // Register PNG format

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format
	_ "golang.org/x/image/webp" // Register WebP format
)

// ErrInvalidImageFormat is returned when the payload cannot be decoded.
var ErrInvalidImageFormat = errors.New("invalid image format")

const (
	binarizeThreshold = 128
	sharpenSigma      = 1.0
)

// MaxPixels bounds width*height of an image accepted for decoding. Every step
// of the pipeline holds a full-size copy, so the budget caps memory per request.
const MaxPixels = 24_000_000

// Prepare converts an uploaded image into a high-contrast black and white PNG
// suitable for text recognition. The steps always run in the same order:
// grayscale, contrast stretch, sharpen, binarize.
func Prepare(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image data is empty", ErrInvalidImageFormat)
	}
	w, h, err := Dimensions(data)
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 || int64(w)*int64(h) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImageFormat, w, h, MaxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}

	gray := imaging.Grayscale(img)
	stretched := stretchContrast(gray)
	sharpened := imaging.Sharpen(stretched, sharpenSigma)
	binary := binarize(sharpened, binarizeThreshold)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, binary, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions reads the image header without decoding pixel data.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}
	return cfg.Width, cfg.Height, nil
}

// stretchContrast maps the darkest pixel to 0 and the brightest to 255.
func stretchContrast(img *image.NRGBA) *image.NRGBA {
	bounds := img.Bounds()
	lo, hi := uint8(255), uint8(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := img.NRGBAAt(x, y).R
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi <= lo {
		return img
	}

	scale := 255.0 / float64(hi-lo)
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := img.NRGBAAt(x, y)
			v := uint8(float64(px.R-lo)*scale + 0.5)
			out.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: px.A})
		}
	}
	return out
}

func binarize(img *image.NRGBA, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := uint8(0)
			if img.NRGBAAt(x, y).R >= threshold {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return out
}
