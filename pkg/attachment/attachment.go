// Package attachment sizes and shrinks the image attached to a transaction.
// Attachments travel as data URLs, so their stored size is the size of the
// base64 text, not of the image bytes.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Errors returned by attachment processing.
var (
	// ErrTooLarge is returned when the image does not fit the target size
	// even at the minimum quality.
	ErrTooLarge = errors.New("attachment: image too large to compress further")

	// ErrUploadTooLarge is returned for source files over Options.MaxUploadBytes.
	ErrUploadTooLarge = errors.New("attachment: upload exceeds size limit")

	// ErrNotImage is returned when the input cannot be decoded as an image.
	ErrNotImage = errors.New("attachment: not an image")
)

const jpegPrefix = "data:image/jpeg;base64,"

// Options controls the compression loop.
type Options struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`

	// Quality is the starting JPEG quality in (0, 1].
	Quality float64 `yaml:"quality"`

	// MinQuality is the floor. Reaching it without fitting is an error.
	MinQuality float64 `yaml:"min_quality"`

	// QualityStep and ScaleStep multiply quality and dimensions on every retry.
	QualityStep float64 `yaml:"quality_step"`
	ScaleStep   float64 `yaml:"scale_step"`

	// TargetBytes is the largest accepted estimated size.
	TargetBytes int `yaml:"target_bytes"`

	// MaxUploadBytes rejects source files before decoding.
	MaxUploadBytes int `yaml:"max_upload_bytes"`
}

// DefaultOptions keeps attachments comfortably under a 1 MB document limit.
func DefaultOptions() Options {
	return Options{
		MaxWidth:       800,
		MaxHeight:      600,
		Quality:        0.8,
		MinQuality:     0.3,
		QualityStep:    0.7,
		ScaleStep:      0.8,
		TargetBytes:    900 * 1024,
		MaxUploadBytes: 2 * 1024 * 1024,
	}
}

// EstimateSize returns the number of bytes a base64 text of this length decodes to.
func EstimateSize(dataURL string) int {
	return int(math.Round(float64(len(dataURL)) * 3 / 4))
}

// Compress decodes an image file and re-encodes it as a JPEG data URL that
// fits opts.TargetBytes. Each attempt that does not fit lowers the quality
// and shrinks the bounding box.
func Compress(src []byte, opts Options) (string, error) {
	if opts.MaxUploadBytes > 0 && len(src) > opts.MaxUploadBytes {
		return "", ErrUploadTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotImage, err)
	}

	if opts.QualityStep <= 0 || opts.QualityStep >= 1 {
		opts.QualityStep = 0.7
	}
	if opts.ScaleStep <= 0 || opts.ScaleStep > 1 {
		opts.ScaleStep = 0.8
	}

	quality := opts.Quality
	maxW, maxH := float64(opts.MaxWidth), float64(opts.MaxHeight)

	for {
		out, err := encode(fit(img, maxW, maxH), quality)
		if err != nil {
			return "", err
		}
		if EstimateSize(out) <= opts.TargetBytes {
			return out, nil
		}
		if quality <= opts.MinQuality {
			return "", ErrTooLarge
		}

		quality = math.Max(opts.MinQuality, quality*opts.QualityStep)
		maxW *= opts.ScaleStep
		maxH *= opts.ScaleStep
	}
}

// Normalize returns dataURL unchanged when it already fits, otherwise the
// compressed JPEG rendition of the image it carries.
func Normalize(dataURL string, opts Options) (string, error) {
	if dataURL == "" || EstimateSize(dataURL) <= opts.TargetBytes {
		return dataURL, nil
	}

	raw, err := Decode(dataURL)
	if err != nil {
		return "", err
	}
	return Compress(raw, Options{
		MaxWidth:    opts.MaxWidth,
		MaxHeight:   opts.MaxHeight,
		Quality:     opts.Quality,
		MinQuality:  opts.MinQuality,
		QualityStep: opts.QualityStep,
		ScaleStep:   opts.ScaleStep,
		TargetBytes: opts.TargetBytes,
	})
}

// Decode returns the bytes carried by a base64 data URL.
func Decode(dataURL string) ([]byte, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: malformed data URL", ErrNotImage)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	return raw, nil
}

func encode(img image.Image, quality float64) (string, error) {
	var buf bytes.Buffer
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return "", fmt.Errorf("attachment: encode: %w", err)
	}
	return jpegPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fit scales img down to the bounding box, keeping its aspect ratio.
func fit(img image.Image, maxW, maxH float64) image.Image {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w <= maxW && h <= maxH {
		return img
	}

	ratio := math.Min(maxW/w, maxH/h)
	nw := max(1, int(w*ratio))
	nh := max(1, int(h*ratio))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
