// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"strconv"

	"github.com/caarlos0/env/v9"
	"github.com/chewxy/math32"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"svgaplayer/cvar"
	"svgaplayer/cvars"
	"svgaplayer/image"
)

const prefix = "SVGA_"

type Config struct {
	// device scale used for images without an explicit one
	Scale float32 `env:"IMAGE_SCALE" envDefault:"1"`
	// decoded bytes kept by the image cache, <= 0 disables eviction
	CacheBudget int64 `env:"IMAGE_CACHE_BUDGET" envDefault:"67108864"`
	// largest image decoded, in pixels
	MaxPixels int64  `env:"IMAGE_MAX_PIXELS" envDefault:"67108864"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the given .env files, or .env if none are given and it
// exists, and parses SVGA_* environment variables into a Config.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrap(err, "load .env")
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, errors.Wrap(err, "load env files")
	}
	return parse(env.Options{Prefix: prefix})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	if !(cfg.Scale > 0) || math32.IsInf(cfg.Scale, 0) {
		return Config{}, errors.Wrapf(image.ErrInvalidInput, "%sIMAGE_SCALE %v", prefix, cfg.Scale)
	}
	return cfg, nil
}

// Apply stores the configuration in the library cvars.
func (c Config) Apply() {
	cvars.ImageScale.SetValue(c.Scale)
	cvars.ImageCacheBudget.SetByString(strconv.FormatInt(c.CacheBudget, 10))
	cvars.ImageMaxPixels.SetByString(strconv.FormatInt(c.MaxPixels, 10))
	cvars.LogLevel.SetByString(c.LogLevel)
}

func init() {
	cvars.ImageMaxPixels.SetCallback(func(cv *cvar.Cvar) {
		image.SetMaxPixels(cv.Int64())
	})
}
