// SPDX-License-Identifier: GPL-2.0-or-later

package cvars

import (
	"svgaplayer/cvar"
)

var (
	ImageScale       *cvar.Cvar
	ImageCacheBudget *cvar.Cvar
	ImageMaxPixels   *cvar.Cvar
	LogLevel         *cvar.Cvar
	ImageFormats     *cvar.Cvar
)

func init() {
	ImageScale = cvar.MustRegister("image_scale", "1", cvar.ARCHIVE)
	ImageCacheBudget = cvar.MustRegister("image_cache_budget", "67108864", cvar.ARCHIVE) // 64 MiB of decoded pixels
	ImageMaxPixels = cvar.MustRegister("image_max_pixels", "67108864", cvar.NONE)
	LogLevel = cvar.MustRegister("log_level", "info", cvar.ARCHIVE)
	ImageFormats = cvar.MustRegister("image_formats", "png jpg gif bmp tif webp tga", cvar.ROM)
}
