// SPDX-License-Identifier: GPL-2.0-or-later

package image

import (
	"image"
	"image/png"
	"os"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Bitmap is a decoded raster owned by a Lazy image. Pix holds premultiplied
// RGBA samples, 4 bytes per pixel, with a stride of 4*Width.
//
// A Bitmap is read-only for its callers and must not be used after the
// owning image was evicted or released.
type Bitmap struct {
	Width  int
	Height int
	Scale  float32
	Pix    []byte
}

// Size returns the logical size in points, rounded up.
func (b *Bitmap) Size() (float32, float32) {
	return math32.Ceil(float32(b.Width) / b.Scale), math32.Ceil(float32(b.Height) / b.Scale)
}

// Bytes is the amount of pixel memory held by the bitmap.
func (b *Bitmap) Bytes() int {
	return len(b.Pix)
}

// RGBA returns an image view sharing the bitmap's samples.
func (b *Bitmap) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: 4 * b.Width,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Write stores the bitmap as png.
func Write(name string, b *Bitmap) error {
	if len(b.Pix) < b.Width*b.Height*4 {
		return errors.Errorf("bitmap %dx%d has only %d bytes", b.Width, b.Height, len(b.Pix))
	}

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, b.RGBA()); err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	return nil
}
