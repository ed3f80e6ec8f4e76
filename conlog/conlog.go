// SPDX-License-Identifier: GPL-2.0-or-later

package conlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	p      = func(format string, v ...interface{}) { fmt.Fprintf(os.Stdout, format, v...) }
	logger = newLogger(os.Stderr, zerolog.InfoLevel)
)

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	cw := zerolog.NewConsoleWriter(func(c *zerolog.ConsoleWriter) {
		c.Out = w
		c.TimeFormat = time.RFC3339
	})
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// Setup replaces the structured logger. level is a zerolog level name,
// an empty level keeps info.
func Setup(w io.Writer, level string) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		l, err := zerolog.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = l
	}
	zerolog.TimeFieldFormat = time.RFC3339
	logger = newLogger(w, lvl)
	return nil
}

// Logger returns the structured logger for diagnostics.
func Logger() zerolog.Logger {
	return logger
}

// SetPrintf replaces the user facing output.
func SetPrintf(f func(string, ...interface{})) {
	p = f
}

func Printf(format string, v ...interface{}) {
	p(format, v...)
}
