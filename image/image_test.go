// SPDX-License-Identifier: GPL-2.0-or-later

package image

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadsBack(t *testing.T) {
	l, err := New(makePNG(t, 6, 3), WithScale(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := l.EnsureDecoded()
	if err != nil {
		t.Fatalf("EnsureDecoded: %v", err)
	}
	name := filepath.Join(t.TempDir(), "out.png")
	if err := Write(name, b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	l2, err := New(data, WithScale(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b2, err := l2.EnsureDecoded()
	if err != nil {
		t.Fatalf("EnsureDecoded: %v", err)
	}
	if b2.Width != 6 || b2.Height != 3 {
		t.Errorf("size %dx%d", b2.Width, b2.Height)
	}
	if w, h := b2.Size(); w != 2 || h != 1 {
		t.Errorf("Size() = %v, %v", w, h)
	}
}

func TestWriteShortBitmap(t *testing.T) {
	b := &Bitmap{Width: 2, Height: 2, Scale: 1, Pix: make([]byte, 3)}
	if err := Write(filepath.Join(t.TempDir(), "x.png"), b); err == nil {
		t.Error("expected error for short bitmap")
	}
}
