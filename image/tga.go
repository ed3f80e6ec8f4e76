// SPDX-License-Identifier: GPL-2.0-or-later

package image

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"io"

	"github.com/pkg/errors"
)

func init() {
	image.RegisterFormat("tga", "?\x00\x02", decodeTGA, decodeTGAConfig)
	image.RegisterFormat("tga", "?\x00\x0a", decodeTGA, decodeTGAConfig)
}

const (
	tgaTypeRGB    = 2
	tgaTypeRLERGB = 10

	tgaTopLeft = 1 << 5
)

var tgaFooter = []byte("TRUEVISION-XFILE.\x00")

type tgaHeader struct {
	IDLength       uint8
	ColormapType   uint8
	ImageType      uint8
	ColormapIndex  uint16
	ColormapLength uint16
	ColormapSize   uint8
	XOrigin        uint16
	YOrigin        uint16
	Width          uint16
	Height         uint16
	PixelSize      uint8
	Attributes     uint8
}

func (h *tgaHeader) check() error {
	if h.ImageType != tgaTypeRGB && h.ImageType != tgaTypeRLERGB {
		return errors.Errorf("tga type %d is not 2 or 10", h.ImageType)
	}
	if h.ColormapType != 0 || (h.PixelSize != 32 && h.PixelSize != 24) {
		return errors.Errorf("tga is not 24bit or 32bit")
	}
	return nil
}

func looksLikeTGA(data []byte) bool {
	if len(data) >= 26 && bytes.Equal(data[len(data)-len(tgaFooter):], tgaFooter) {
		return true
	}
	if len(data) < 18 {
		return false
	}
	var h tgaHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return false
	}
	return h.check() == nil && h.Width > 0 && h.Height > 0
}

func readTGAHeader(r io.Reader) (tgaHeader, error) {
	var h tgaHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, errors.Wrap(err, "invalid tga header")
	}
	return h, h.check()
}

func decodeTGAConfig(r io.Reader) (image.Config, error) {
	h, err := readTGAHeader(r)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      int(h.Width),
		Height:     int(h.Height),
	}, nil
}

func decodeTGA(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readTGAHeader(br)
	if err != nil {
		return nil, err
	}
	if h.IDLength != 0 {
		// skip Image ID
		if _, err := br.Discard(int(h.IDLength)); err != nil {
			return nil, errors.Wrap(err, "tga image id")
		}
	}

	width, height := int(h.Width), int(h.Height)
	bpp := int(h.PixelSize) / 8
	// file order, bottom row first unless tgaTopLeft is set
	raw := make([]byte, width*height*bpp)
	if h.ImageType == tgaTypeRGB {
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, errors.Wrap(err, "not enough pixels")
		}
	} else if err := readTGARLE(br, raw, bpp); err != nil {
		return nil, err
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := y
		if h.Attributes&tgaTopLeft == 0 {
			row = height - 1 - y
		}
		src := raw[row*width*bpp:]
		dst := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < width; x++ {
			p := src[x*bpp:]
			// BGR(A) to RGBA
			dst[x*4+0] = p[2]
			dst[x*4+1] = p[1]
			dst[x*4+2] = p[0]
			if bpp == 4 {
				dst[x*4+3] = p[3]
			} else {
				dst[x*4+3] = 255
			}
		}
	}
	return nrgba, nil
}

// readTGARLE expands run-length packets until dst is full. Packets may
// cross scanline boundaries.
func readTGARLE(r *bufio.Reader, dst []byte, bpp int) error {
	px := make([]byte, bpp)
	for len(dst) > 0 {
		c, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(err, "tga rle packet")
		}
		n := int(c&0x7f) + 1
		if n*bpp > len(dst) {
			return errors.New("tga rle packet overflows image")
		}
		if c&0x80 != 0 {
			if _, err := io.ReadFull(r, px); err != nil {
				return errors.Wrap(err, "tga rle pixel")
			}
			for i := 0; i < n; i++ {
				copy(dst[i*bpp:], px)
			}
		} else if _, err := io.ReadFull(r, dst[:n*bpp]); err != nil {
			return errors.Wrap(err, "tga raw packet")
		}
		dst = dst[n*bpp:]
	}
	return nil
}
