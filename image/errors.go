// SPDX-License-Identifier: GPL-2.0-or-later

package image

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned by New for empty data or a non-positive scale.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("decode failed")
	// ErrReleased is returned by EnsureDecoded after Release.
	ErrReleased = errors.New("image released")
)

// DecodeError reports why encoded data could not be turned into a bitmap.
// The image stays undecoded and the decode may be retried.
type DecodeError struct {
	Format string // sniffed container, empty if unknown
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	f := e.Format
	if f == "" {
		f = "unknown"
	}
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", f, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", f, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
