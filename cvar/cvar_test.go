// SPDX-License-Identifier: GPL-2.0-or-later

package cvar

import "testing"

func TestRegister(t *testing.T) {
	cv := MustRegister("test_scale", "2", ARCHIVE)
	if cv.Value() != 2 || cv.String() != "2" || !cv.Archive() {
		t.Errorf("got %v %q %v", cv.Value(), cv.String(), cv.Archive())
	}
	if cv.Name() != "test_scale" || cv.Default() != "2" {
		t.Errorf("name %q default %q", cv.Name(), cv.Default())
	}
	if _, err := Register("test_scale", "3", NONE); err == nil {
		t.Error("registered twice")
	}
	got, ok := Get("test_scale")
	if !ok || got != cv {
		t.Error("Get did not return the registered cvar")
	}
}

func TestAll(t *testing.T) {
	first := MustRegister("test_all_a", "a", NONE)
	second := MustRegister("test_all_b", "b", ARCHIVE)
	all := All()
	pos := map[*Cvar]int{}
	for i, cv := range all {
		pos[cv] = i + 1
	}
	if pos[first] == 0 || pos[second] == 0 {
		t.Fatal("All misses registered variables")
	}
	if pos[first] > pos[second] {
		t.Error("All is not in registration order")
	}
	all[0] = nil
	if All()[0] == nil {
		t.Error("All returned the registry itself")
	}
}

func TestSetAndCallback(t *testing.T) {
	cv := MustRegister("test_budget", "1024", NONE)
	var seen string
	cv.SetCallback(func(c *Cvar) {
		seen = c.String()
	})
	if err := Set("test_budget", "0x800"); err != nil {
		t.Fatal(err)
	}
	if seen != "0x800" {
		t.Errorf("callback saw %q", seen)
	}
	if cv.Int64() != 2048 {
		t.Errorf("Int64() = %d", cv.Int64())
	}
	cv.SetValue(1.5)
	if cv.String() != "1.5" {
		t.Errorf("String() = %q", cv.String())
	}
	cv.Reset()
	if cv.Int64() != 1024 {
		t.Errorf("after Reset %d", cv.Int64())
	}
	if err := Set("test_missing", "1"); err == nil {
		t.Error("Set of unknown cvar succeeded")
	}
}

func TestROM(t *testing.T) {
	cv := MustRegister("test_rom", "1", ROM)
	cv.SetByString("0")
	if cv.String() != "1" {
		t.Error("rom cvar changed")
	}
	if err := Set("test_rom", "0"); err == nil {
		t.Error("Set of rom cvar succeeded")
	}
}
