// SPDX-License-Identifier: GPL-2.0-or-later

// Package filesystem resolves asset names against a directory and the pack
// files inside it.
package filesystem

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"svgaplayer/filesystem/vfs"
	"svgaplayer/pack"
)

type File interface {
	io.ReadSeekCloser
	io.ReaderAt
}

type packFileSystem struct {
	p *pack.Pack
}

type closer struct {
	*io.SectionReader
}

func (*closer) Close() error {
	return nil
}

type fileInfo struct {
	name string // base name of the file
	size int64  // length in bytes for regular files; system-dependent for others
}

func (f *fileInfo) Name() string {
	return f.name
}
func (f *fileInfo) Size() int64 {
	return f.size
}
func (f *fileInfo) Mode() fs.FileMode {
	return 0
}
func (f *fileInfo) ModTime() time.Time {
	return time.Time{}
}
func (f *fileInfo) IsDir() bool {
	return false
}
func (f *fileInfo) Sys() any {
	return nil
}

func (p packFileSystem) Open(path string) (io.ReadSeekCloser, error) {
	// inside a pack file there is no 'root'. all files are relative to '.'
	path = strings.TrimPrefix(path, "/")
	f, err := p.p.Open(path)
	if err != nil {
		return nil, err
	}
	return &closer{f}, nil
}

func (p packFileSystem) Stat(path string) (os.FileInfo, error) {
	path = strings.TrimPrefix(path, "/")
	f, err := p.p.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileInfo{
		name: path,
		size: f.Size(),
	}, nil
}

func (p packFileSystem) String() string {
	return p.p.String()
}

// FS is a union of asset directories and their pack files. Later mounts
// take precedence over earlier ones.
type FS struct {
	mutex sync.RWMutex
	ns    vfs.NameSpace
	packs []*pack.Pack
	dirs  []string
}

func New() *FS {
	return &FS{}
}

// Mount binds dir and its pak0.pak, pak1.pak, ... files in front of
// everything mounted before. Higher pak numbers win over lower ones and
// all paks win over loose files in dir.
func (fsys *FS) Mount(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.Errorf("%s is not a directory", dir)
	}
	fsys.mutex.Lock()
	defer fsys.mutex.Unlock()
	mode := vfs.BindBefore
	if len(fsys.dirs) == 0 {
		mode = vfs.BindReplace
	}
	fsys.ns.Bind(vfs.OS(dir), mode)
	for i := 0; ; i++ {
		pfp := filepath.Join(dir, fmt.Sprintf("pak%d.pak", i))
		p, err := pack.NewPackReader(pfp)
		if err != nil {
			break
		}
		fsys.packs = append(fsys.packs, p)
		fsys.ns.Bind(packFileSystem{p}, vfs.BindBefore)
	}
	fsys.dirs = append(fsys.dirs, dir)
	return nil
}

// MountPack binds a single pack file in front of everything mounted before.
func (fsys *FS) MountPack(name string) error {
	p, err := pack.NewPackReader(name)
	if err != nil {
		return err
	}
	fsys.mutex.Lock()
	defer fsys.mutex.Unlock()
	mode := vfs.BindBefore
	if len(fsys.dirs) == 0 && len(fsys.packs) == 0 {
		mode = vfs.BindReplace
	}
	fsys.packs = append(fsys.packs, p)
	fsys.ns.Bind(packFileSystem{p}, mode)
	return nil
}

// Packs lists the mounted pack files, most recent last.
func (fsys *FS) Packs() []*pack.Pack {
	fsys.mutex.RLock()
	defer fsys.mutex.RUnlock()
	return append([]*pack.Pack(nil), fsys.packs...)
}

// Close closes all pack files and unmounts everything.
func (fsys *FS) Close() error {
	fsys.mutex.Lock()
	defer fsys.mutex.Unlock()
	var first error
	for _, p := range fsys.packs {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	fsys.packs = nil
	fsys.dirs = nil
	fsys.ns = vfs.NameSpace{}
	return first
}

func (fsys *FS) Stat(path string) (os.FileInfo, error) {
	fsys.mutex.RLock()
	defer fsys.mutex.RUnlock()
	return fsys.ns.Stat(path)
}

func (fsys *FS) Open(name string) (File, error) {
	fsys.mutex.RLock()
	defer fsys.mutex.RUnlock()
	nf, err := fsys.ns.Open(filepath.Join("/", name))
	if err != nil {
		return nil, err
	}
	f, ok := nf.(File)
	if !ok {
		nf.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func (fsys *FS) ReadFile(name string) ([]byte, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func isSep(c uint8) bool {
	return c == '/' || c == '\\'
}

func Ext(path string) string {
	for i := len(path) - 1; i >= 0 && !isSep(path[i]); i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func StripExt(path string) string {
	for i := len(path) - 1; i >= 0 && !isSep(path[i]); i-- {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return path
}
