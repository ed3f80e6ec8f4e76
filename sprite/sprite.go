// SPDX-License-Identifier: GPL-2.0-or-later

package sprite

import (
	"svgaplayer/conlog"
	"svgaplayer/image"
)

// Entity is the part of a sprite the layer builder needs. Frame data is
// owned by the animation description and never touched here.
type Entity struct {
	ImageKey string
	MatteKey string
}

// Layer carries the bitmap a sprite is composited with.
type Layer struct {
	ImageKey string
	MatteKey string
	Bitmap   *image.Bitmap
}

// Images looks up images by key, *imagecache.Cache implements it.
type Images interface {
	Image(key string) (*image.Lazy, bool)
}

// RequestLayer decodes img just before compositing. A missing image, nil
// or a nil *image.Lazy, or a failed decode yields no layer.
func (e *Entity) RequestLayer(img image.Decodable) (*Layer, bool) {
	if img == nil {
		return nil, false
	}
	if l, ok := img.(*image.Lazy); ok && l == nil {
		return nil, false
	}
	b, err := img.EnsureDecoded()
	if err != nil {
		l := conlog.Logger()
		l.Debug().Str("key", e.ImageKey).Err(err).Msg("no layer for sprite")
		return nil, false
	}
	return &Layer{
		ImageKey: e.ImageKey,
		MatteKey: e.MatteKey,
		Bitmap:   b,
	}, true
}

// RequestLayerFrom resolves the sprite's image in imgs first.
func (e *Entity) RequestLayerFrom(imgs Images) (*Layer, bool) {
	img, ok := imgs.Image(e.ImageKey)
	if !ok {
		return nil, false
	}
	return e.RequestLayer(img)
}
