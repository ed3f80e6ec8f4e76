// SPDX-License-Identifier: GPL-2.0-or-later

package pack

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

const (
	entrySize  = 64
	headerSize = 12
	maxNameLen = 55
)

var magic = [4]byte{'P', 'A', 'C', 'K'}

type header struct {
	ID     [4]byte
	Offset int32
	Size   int32
}

type entry struct {
	Name   [56]byte
	Offset int32
	Size   int32
}

// Pack is a read only PAK archive of encoded assets.
type Pack struct {
	r     io.ReaderAt
	c     io.Closer
	files map[string]*qfile
	name  string
}

type qfile struct {
	offset int64
	size   int64
}

// Open returns a io.SectionReader for the entry name or os.ErrNotExist.
func (p *Pack) Open(name string) (*io.SectionReader, error) {
	q, ok := p.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}

	return io.NewSectionReader(p.r, q.offset, q.size), nil
}

// ReadFile returns a copy of the entry name.
func (p *Pack) ReadFile(name string) ([]byte, error) {
	f, err := p.Open(name)
	if err != nil {
		return nil, err
	}
	b := make([]byte, f.Size())
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, errors.Wrapf(err, "%s: read %s", p.name, name)
	}
	return b, nil
}

// Names lists all entries sorted.
func (p *Pack) Names() []string {
	n := make([]string, 0, len(p.files))
	for k := range p.files {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

func (p *Pack) String() string {
	return p.name
}

func (p *Pack) Close() error {
	if p.c == nil {
		return nil
	}
	return p.c.Close()
}

func (p *Pack) init() error {
	var h header
	if err := binary.Read(io.NewSectionReader(p.r, 0, headerSize), binary.LittleEndian, &h); err != nil {
		return err
	}
	if h.ID != magic {
		return errors.New("not a pack")
	}
	if h.Offset < 0 || h.Size < 0 {
		return errors.New("invalid directory")
	}
	filenum := h.Size / entrySize
	dir := io.NewSectionReader(p.r, int64(h.Offset), int64(h.Size))
	p.files = make(map[string]*qfile, filenum)
	for i := int32(0); i < filenum; i++ {
		var e entry
		if err := binary.Read(dir, binary.LittleEndian, &e); err != nil {
			return errors.Wrap(err, "not long enough")
		}
		n := bytes.IndexByte(e.Name[:], 0)
		if n < 0 {
			n = len(e.Name)
		}
		name := string(e.Name[:n])
		if p.files[name] != nil {
			return errors.Errorf("file %s in pack is not unique", name)
		}
		p.files[name] = &qfile{
			offset: int64(e.Offset),
			size:   int64(e.Size),
		}
	}
	return nil
}

// NewReader reads the directory of a pack held by r.
func NewReader(r io.ReaderAt, name string) (*Pack, error) {
	p := &Pack{r: r, name: name}
	if err := p.init(); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return p, nil
}

func NewPackReader(name string) (*Pack, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	p, err := NewReader(f, name)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.c = f
	return p, nil
}

// Writer creates a pack. Entries are streamed, the directory is written
// by Close.
type Writer struct {
	w       io.WriteSeeker
	offset  int64
	entries []entry
	names   map[string]bool
}

func NewWriter(w io.WriteSeeker) (*Writer, error) {
	// placeholder header, rewritten by Close
	if err := binary.Write(w, binary.LittleEndian, &header{ID: magic}); err != nil {
		return nil, err
	}
	return &Writer{w: w, offset: headerSize, names: make(map[string]bool)}, nil
}

func (w *Writer) Add(name string, data []byte) error {
	if name == "" || len(name) > maxNameLen {
		return errors.Errorf("invalid pack entry name %q", name)
	}
	if w.names[name] {
		return errors.Errorf("file %s in pack is not unique", name)
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	var e entry
	copy(e.Name[:], name)
	e.Offset = int32(w.offset)
	e.Size = int32(len(data))
	w.entries = append(w.entries, e)
	w.names[name] = true
	w.offset += int64(len(data))
	return nil
}

// Close writes the directory and the final header. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	for i := range w.entries {
		if err := binary.Write(w.w, binary.LittleEndian, &w.entries[i]); err != nil {
			return err
		}
	}
	h := header{
		ID:     magic,
		Offset: int32(w.offset),
		Size:   int32(len(w.entries) * entrySize),
	}
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w.w, binary.LittleEndian, &h)
}
