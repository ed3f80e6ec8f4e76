// SPDX-License-Identifier: GPL-2.0-or-later

package vfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, ns *NameSpace, name string) string {
	t.Helper()
	f, err := ns.Open(name)
	if err != nil {
		t.Fatalf("Open(%s): %v", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(b)
}

func TestBindOrder(t *testing.T) {
	low, high := t.TempDir(), t.TempDir()
	writeFile(t, low, "a.png", "low a")
	writeFile(t, low, "b.png", "low b")
	writeFile(t, high, "a.png", "high a")

	ns := &NameSpace{}
	ns.Bind(OS(low), BindReplace)
	ns.Bind(OS(high), BindBefore)

	if got := readAll(t, ns, "a.png"); got != "high a" {
		t.Errorf("a.png = %q", got)
	}
	if got := readAll(t, ns, "/b.png"); got != "low b" {
		t.Errorf("b.png = %q", got)
	}
	if _, err := ns.Open("c.png"); !os.IsNotExist(err) {
		t.Errorf("Open(c.png) err = %v", err)
	}
	fi, err := ns.Stat("b.png")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != int64(len("low b")) {
		t.Errorf("size %d", fi.Size())
	}
}

func TestBindModes(t *testing.T) {
	a, b, c := t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, a, "x.png", "a")
	writeFile(t, b, "x.png", "b")
	writeFile(t, c, "x.png", "c")
	writeFile(t, c, "y.png", "c y")

	ns := &NameSpace{}
	ns.Bind(OS(a), BindReplace)
	ns.Bind(OS(b), BindAfter)
	if got := readAll(t, ns, "x.png"); got != "a" {
		t.Errorf("after BindAfter x.png = %q", got)
	}
	ns.Bind(OS(c), BindBefore)
	if got := readAll(t, ns, "/sub/../x.png"); got != "c" {
		t.Errorf("after BindBefore x.png = %q", got)
	}
	ns.Bind(OS(b), BindReplace)
	if ns.Len() != 1 {
		t.Errorf("Len() = %d after BindReplace", ns.Len())
	}
	if got := readAll(t, ns, "x.png"); got != "b" {
		t.Errorf("after BindReplace x.png = %q", got)
	}
	if _, err := ns.Stat("y.png"); !os.IsNotExist(err) {
		t.Errorf("Stat(y.png) err = %v", err)
	}
}

func TestEmptyNameSpace(t *testing.T) {
	var ns NameSpace
	if _, err := ns.Open("x.png"); !os.IsNotExist(err) {
		t.Errorf("Open err = %v", err)
	}
	if _, err := ns.Stat("x.png"); !os.IsNotExist(err) {
		t.Errorf("Stat err = %v", err)
	}
}

func TestOSNoEscape(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "in.png", "x")
	fs := OS(filepath.Join(dir, "sub"))
	if _, err := fs.Open("../in.png"); err == nil {
		t.Error("path escaped the root")
	}
	if _, err := OS(dir).Open("/"); err == nil {
		t.Error("opened a directory")
	}
}
