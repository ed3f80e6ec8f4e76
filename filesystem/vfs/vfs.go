// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vfs defines an abstract read only file system for asset lookup
// and a union name space over several of them.
package vfs

import (
	"io"
	"os"
)

// FileSystem is what an asset source has to provide to be mounted.
type FileSystem interface {
	Open(name string) (io.ReadSeekCloser, error)
	Stat(path string) (os.FileInfo, error)
	String() string
}
