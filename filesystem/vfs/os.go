// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vfs

import (
	"io"
	"os"
	pathpkg "path"
	"path/filepath"
)

// OS returns a FileSystem reading from the tree rooted at root.
func OS(root string) FileSystem {
	return osFS(root)
}

type osFS string

func (root osFS) String() string {
	return "os(" + string(root) + ")"
}

func (root osFS) resolve(path string) string {
	// Clean the path so that it cannot possibly begin with ../.
	path = pathpkg.Clean("/" + path)
	return filepath.Join(string(root), path)
}

func (root osFS) Open(path string) (io.ReadSeekCloser, error) {
	f, err := os.Open(root.resolve(path))
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	return f, nil
}

func (root osFS) Stat(path string) (os.FileInfo, error) {
	return os.Stat(root.resolve(path))
}
