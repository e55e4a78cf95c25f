package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/zot/hotmod/internal/module"
)

// reRequire matches require("x"), require 'x' and require "x".
var reRequire = regexp.MustCompile(`\brequire\s*\(?\s*['"]([^'"]+)['"]`)

// ParseRequires returns the distinct import strings of source in order of
// first use.
func ParseRequires(source string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range reRequire.FindAllStringSubmatch(source, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ModuleID derives a module id from a path relative to the source root.
func ModuleID(rel, ext string) string {
	return strings.TrimSuffix(filepath.ToSlash(rel), ext)
}

// Hash fingerprints a module's source together with its resolved
// dependency map.
func Hash(source string, deps map[string]string) string {
	h := sha256.New()
	h.Write([]byte(source))
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k + "=" + deps[k]))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Scan reads every module under dir whose name ends in ext.
// Import strings resolve to the module of the same id, then to the id with
// dots read as directory separators; anything else is left for the host.
func Scan(dir, ext string) (module.RecordSet, error) {
	sources := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sources[ModuleID(rel, ext)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	set := make(module.RecordSet, len(sources))
	for id, src := range sources {
		deps := make(map[string]string)
		for _, name := range ParseRequires(src) {
			deps[name] = resolveName(name, sources)
		}
		set[id] = &module.Record{
			ID:     id,
			Source: src,
			Deps:   deps,
			Meta:   module.Meta{Hash: Hash(src, deps)},
		}
	}
	return set, nil
}

func resolveName(name string, sources map[string]string) string {
	if _, ok := sources[name]; ok {
		return name
	}
	if dotted := strings.ReplaceAll(name, ".", "/"); dotted != name {
		if _, ok := sources[dotted]; ok {
			return dotted
		}
	}
	return name
}

// Diff returns the records of next that are new or whose hash differs from prev.
func Diff(prev, next module.RecordSet) module.RecordSet {
	out := make(module.RecordSet)
	for id, r := range next {
		if old, ok := prev[id]; !ok || old.Meta.Hash != r.Meta.Hash {
			out[id] = r
		}
	}
	return out
}
