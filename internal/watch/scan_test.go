package watch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseRequires(t *testing.T) {
	src := `
local a = require("a")
local b = require 'lib.b'
local c = require"c"
local again = require("a")
local notreq = myrequire("x")
`
	got := ParseRequires(src)
	want := []string{"a", "lib.b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestModuleID(t *testing.T) {
	if got := ModuleID(filepath.Join("ui", "view.lua"), ".lua"); got != "ui/view" {
		t.Errorf("unexpected id %q", got)
	}
}

func TestHashCoversDeps(t *testing.T) {
	a := Hash("return 1", map[string]string{"x": "x"})
	b := Hash("return 1", map[string]string{"x": "lib/x"})
	if a == b {
		t.Error("dependency map should affect the hash")
	}
	if a != Hash("return 1", map[string]string{"x": "x"}) {
		t.Error("hash should be deterministic")
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.lua"), `local v = require("ui.view") local s = require("string")`)
	writeFile(t, filepath.Join(dir, "ui", "view.lua"), `return {}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `require("main")`)

	set, err := Scan(dir, ".lua")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 modules, got %v", set.IDs())
	}
	main := set["main"]
	if main == nil {
		t.Fatal("main not scanned")
	}
	if main.Deps["ui.view"] != "ui/view" {
		t.Errorf("dotted import should resolve to ui/view, got %q", main.Deps["ui.view"])
	}
	if main.Deps["string"] != "string" {
		t.Errorf("unknown import should pass through, got %q", main.Deps["string"])
	}
	if main.Meta.Hash == "" || main.Compiled() {
		t.Errorf("expected hashed uncompiled record, got %+v", main)
	}
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.lua"), "return 1")
	writeFile(t, filepath.Join(dir, "b.lua"), "return 2")
	prev, _ := Scan(dir, ".lua")

	writeFile(t, filepath.Join(dir, "b.lua"), "return 3")
	writeFile(t, filepath.Join(dir, "c.lua"), "return 4")
	next, _ := Scan(dir, ".lua")

	changed := Diff(prev, next)
	if strings.Join(changed.IDs(), ",") != "b,c" {
		t.Errorf("expected b,c changed, got %v", changed.IDs())
	}
}
