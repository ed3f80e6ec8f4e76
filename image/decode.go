// SPDX-License-Identifier: GPL-2.0-or-later

package image

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const DefaultMaxPixels = 1 << 26

var maxPixels atomic.Int64

func init() {
	maxPixels.Store(DefaultMaxPixels)
}

// MaxPixels bounds the size of a single decoded bitmap.
func MaxPixels() int64 {
	return maxPixels.Load()
}

// SetMaxPixels changes the bound for decodes starting afterwards. It
// ignores n <= 0.
func SetMaxPixels(n int64) {
	if n > 0 {
		maxPixels.Store(n)
	}
}

var errTooLarge = errors.New("image too large")

// DecodeFunc turns encoded data into an image and names its format.
type DecodeFunc func(data []byte) (image.Image, string, error)

// Decode is the default DecodeFunc. It uses every format registered with
// the image package, which includes png, jpeg, gif, bmp, tiff, webp and tga.
func Decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, format, err
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels.Load() {
		return nil, format, errors.Wrapf(errTooLarge, "%dx%d", cfg.Width, cfg.Height)
	}
	return image.Decode(bytes.NewReader(data))
}

// Sniff names the container of data without decoding it. It returns ""
// when the data is not recognised.
func Sniff(data []byte) string {
	if t, err := filetype.Match(data); err == nil && t != filetype.Unknown {
		return t.Extension
	}
	if looksLikeTGA(data) {
		return "tga"
	}
	return ""
}

// forceDecode copies img into a freshly allocated buffer so nothing the
// codec allocated stays reachable through the bitmap.
func forceDecode(img image.Image, scale float32) *Bitmap {
	r := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return &Bitmap{
		Width:  r.Dx(),
		Height: r.Dy(),
		Scale:  scale,
		Pix:    dst.Pix,
	}
}

func decodeError(format string, err error) *DecodeError {
	reason := "corrupt data"
	switch {
	case errors.Is(err, image.ErrFormat):
		reason = "unsupported container"
	case errors.Is(err, errTooLarge):
		reason = "pixel buffer too large"
	}
	return &DecodeError{Format: format, Reason: reason, Err: err}
}
