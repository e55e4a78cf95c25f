package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zot/hotmod/internal/module"
)

// WireMeta is the metadata element of a wire record.
type WireMeta struct {
	ID        string `json:"id"`
	Hash      string `json:"hash"`
	SourceMap string `json:"sourcemap,omitempty"`
}

// WireRecord is one record on the wire, encoded as the tuple
// [source, dependencyMap, meta].
type WireRecord struct {
	Source string
	Deps   map[string]string
	Meta   WireMeta
}

// MarshalJSON encodes the record as a three element array.
func (w WireRecord) MarshalJSON() ([]byte, error) {
	deps := w.Deps
	if deps == nil {
		deps = map[string]string{}
	}
	return json.Marshal([]any{w.Source, deps, w.Meta})
}

// UnmarshalJSON decodes the three element array form. A source element that
// is not a string (a precompiled payload) decodes as empty source.
func (w *WireRecord) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("record tuple has %d elements, want 3", len(parts))
	}
	w.Source = ""
	if src := bytes.TrimSpace(parts[0]); len(src) > 0 && src[0] == '"' {
		if err := json.Unmarshal(src, &w.Source); err != nil {
			return fmt.Errorf("record source: %w", err)
		}
	}
	w.Deps = nil
	if err := json.Unmarshal(parts[1], &w.Deps); err != nil {
		return fmt.Errorf("record deps: %w", err)
	}
	if err := json.Unmarshal(parts[2], &w.Meta); err != nil {
		return fmt.Errorf("record meta: %w", err)
	}
	return nil
}

// EncodeRecords encodes a record set as a JSON object keyed by id.
func EncodeRecords(set module.RecordSet) ([]byte, error) {
	wire := make(map[string]WireRecord, len(set))
	for id, r := range set {
		source := r.Source
		if source == "" {
			source = r.Meta.SourceText
		}
		wire[id] = WireRecord{
			Source: source,
			Deps:   r.Deps,
			Meta:   WireMeta{ID: id, Hash: r.Meta.Hash, SourceMap: r.Meta.SourceMap},
		}
	}
	return json.Marshal(wire)
}

// DecodeRecords decodes a JSON object of wire records. Records come back
// uncompiled.
func DecodeRecords(data []byte) (module.RecordSet, error) {
	var wire map[string]WireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	set := make(module.RecordSet, len(wire))
	for id, w := range wire {
		if w.Meta.Hash == "" {
			return nil, fmt.Errorf("decode records: module %s has no hash", id)
		}
		deps := w.Deps
		if deps == nil {
			deps = map[string]string{}
		}
		set[id] = &module.Record{
			ID:     id,
			Source: w.Source,
			Deps:   deps,
			Meta:   module.Meta{Hash: w.Meta.Hash, SourceMap: w.Meta.SourceMap},
		}
	}
	return set, nil
}
