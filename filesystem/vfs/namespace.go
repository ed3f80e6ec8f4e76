// SPDX-License-Identifier: GPL-2.0-or-later

package vfs

import (
	"io"
	"os"
	pathpkg "path"
)

// A NameSpace is an ordered union of file systems. Lookups try them in
// order and the first hit wins.
//
// Asset directories use it to put the newest pack files in front of older
// ones and of the plain directory:
//
//	var ns NameSpace
//	ns.Bind(OS(dir), BindReplace)
//	ns.Bind(packFS(pak0), BindBefore)
//	ns.Bind(packFS(pak1), BindBefore)
type NameSpace struct {
	fss []FileSystem
}

type BindMode int

const (
	BindReplace BindMode = iota
	BindBefore
	BindAfter
)

// Bind adds fs to the union. BindReplace drops everything bound before,
// BindBefore puts fs in front of it and BindAfter behind it.
func (ns *NameSpace) Bind(fs FileSystem, mode BindMode) {
	switch mode {
	case BindReplace:
		ns.fss = []FileSystem{fs}
	case BindBefore:
		ns.fss = append([]FileSystem{fs}, ns.fss...)
	case BindAfter:
		ns.fss = append(ns.fss, fs)
	}
}

// Len is the number of bound file systems.
func (ns *NameSpace) Len() int {
	return len(ns.fss)
}

func (ns *NameSpace) String() string {
	return "ns"
}

// clean returns a rooted path without . and .. elements.
func clean(path string) string {
	return pathpkg.Clean("/" + path)
}

// Open returns the file from the first file system that has it.
func (ns *NameSpace) Open(path string) (io.ReadSeekCloser, error) {
	path = clean(path)
	var err error
	for _, fs := range ns.fss {
		r, err1 := fs.Open(path)
		if err1 == nil {
			return r, nil
		}
		// a missing file in a front file system must not hide a real
		// error further back
		if err == nil || os.IsNotExist(err) {
			err = err1
		}
	}
	if err == nil {
		err = &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return nil, err
}

func (ns *NameSpace) Stat(path string) (os.FileInfo, error) {
	path = clean(path)
	var err error
	for _, fs := range ns.fss {
		fi, err1 := fs.Stat(path)
		if err1 == nil {
			return fi, nil
		}
		if err == nil || os.IsNotExist(err) {
			err = err1
		}
	}
	if err == nil {
		err = &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
	return nil, err
}
