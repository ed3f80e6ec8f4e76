// SPDX-License-Identifier: GPL-2.0-or-later

// Package bundle reads and writes image tables in protobuf wire format.
//
// A table is a message whose field 3 is a map<string, bytes> from image key
// to encoded image, optionally zlib compressed. That is the layout of the
// images table of an SVGA 2.x movie file. All other fields are skipped
// without being interpreted.
package bundle

import (
	"bytes"
	"io"
	"sort"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	imagesField protowire.Number = 3

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2
)

// Bundle maps image keys to encoded images.
type Bundle struct {
	images map[string][]byte
}

func New(images map[string][]byte) *Bundle {
	b := &Bundle{images: make(map[string][]byte, len(images))}
	for k, v := range images {
		b.images[k] = v
	}
	return b
}

func (b *Bundle) Len() int {
	return len(b.images)
}

// Keys returns all image keys sorted.
func (b *Bundle) Keys() []string {
	keys := make([]string, 0, len(b.images))
	for k := range b.images {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Bundle) Data(key string) ([]byte, bool) {
	d, ok := b.images[key]
	return d, ok
}

func isZlib(data []byte) bool {
	return len(data) >= 2 && data[0]&0x0f == 8 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

// Read parses a table from r. Compressed input is detected by its zlib
// header.
func Read(r io.Reader) (*Bundle, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if isZlib(raw) {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "bundle: zlib")
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, errors.Wrap(err, "bundle: inflate")
		}
	}
	return Parse(raw)
}

// Parse reads an uncompressed table.
func Parse(b []byte) (*Bundle, error) {
	bn := &Bundle{images: make(map[string][]byte)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "bundle: tag")
		}
		b = b[n:]
		if num == imagesField && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "bundle: image entry")
			}
			key, data, err := parseEntry(v)
			if err != nil {
				return nil, err
			}
			bn.images[key] = data
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "bundle: field %d", num)
		}
		b = b[n:]
	}
	return bn, nil
}

func parseEntry(b []byte) (string, []byte, error) {
	var (
		key  string
		data []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, errors.Wrap(protowire.ParseError(n), "bundle: entry tag")
		}
		b = b[n:]
		switch {
		case num == entryKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", nil, errors.Wrap(protowire.ParseError(n), "bundle: entry key")
			}
			key = v
			b = b[n:]
		case num == entryValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", nil, errors.Wrap(protowire.ParseError(n), "bundle: entry value")
			}
			data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, errors.Wrap(protowire.ParseError(n), "bundle: entry field")
			}
			b = b[n:]
		}
	}
	return key, data, nil
}

// Marshal encodes the table, keys in sorted order.
func (b *Bundle) Marshal() []byte {
	var out []byte
	for _, k := range b.Keys() {
		var e []byte
		e = protowire.AppendTag(e, entryKey, protowire.BytesType)
		e = protowire.AppendString(e, k)
		e = protowire.AppendTag(e, entryValue, protowire.BytesType)
		e = protowire.AppendBytes(e, b.images[k])
		out = protowire.AppendTag(out, imagesField, protowire.BytesType)
		out = protowire.AppendBytes(out, e)
	}
	return out
}

// Write encodes the table to w, zlib compressed if compress is set.
func (b *Bundle) Write(w io.Writer, compress bool) error {
	data := b.Marshal()
	if !compress {
		_, err := w.Write(data)
		return err
	}
	zw := zlib.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return errors.Wrap(err, "bundle: deflate")
	}
	return zw.Close()
}
