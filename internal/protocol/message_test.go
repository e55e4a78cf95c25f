package protocol

import (
	"strings"
	"testing"

	"github.com/zot/hotmod/internal/module"
)

// === Messages ===

func TestParseMessageTypes(t *testing.T) {
	for _, typ := range []string{"change", "error", "bundle_error"} {
		if _, err := ParseMessage([]byte(`{"type":"` + typ + `"}`)); err != nil {
			t.Errorf("%s: unexpected error %v", typ, err)
		}
	}
	if _, err := ParseMessage([]byte(`{"data":{}}`)); err == nil || !strings.Contains(err.Error(), "missing type") {
		t.Errorf("expected missing type error, got %v", err)
	}
	if _, err := ParseMessage([]byte(`{"type":"reload"}`)); err == nil {
		t.Error("expected unknown type error")
	}
	if _, err := ParseMessage([]byte(`not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestErrorMessage(t *testing.T) {
	msg := NewError("boom")
	if !msg.IsError() || msg.ErrorText() != "boom" {
		t.Errorf("unexpected error message %s %s", msg.Type, msg.Data)
	}
	legacy, err := ParseMessage([]byte(`{"type":"bundle_error","data":"plain text"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !legacy.IsError() || legacy.ErrorText() != `"plain text"` {
		t.Errorf("unexpected legacy text %q", legacy.ErrorText())
	}
	if _, err := msg.Records(); err == nil {
		t.Error("error messages carry no records")
	}
}

// === Records ===

func TestChangeCarriesRecords(t *testing.T) {
	msg, err := NewChange(module.RecordSet{
		"a": {ID: "a", Source: "return 1", Deps: map[string]string{"b": "b"}, Meta: module.Meta{Hash: "h", SourceMap: "a.map"}},
		"b": {ID: "b", Meta: module.Meta{Hash: "hb", SourceText: "return 2"}},
	})
	if err != nil {
		t.Fatalf("NewChange failed: %v", err)
	}
	set, err := msg.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	a := set["a"]
	if a.Source != "return 1" || a.Deps["b"] != "b" || a.Meta.SourceMap != "a.map" {
		t.Errorf("unexpected record a %+v", a)
	}
	if set["b"].Source != "return 2" {
		t.Errorf("expected source text fallback, got %q", set["b"].Source)
	}
	if set["b"].Deps == nil {
		t.Error("decoded deps should never be nil")
	}
}

func TestDecodeRecordsTupleForm(t *testing.T) {
	set, err := DecodeRecords([]byte(`{"m":[{"compiled":true},{"x":"y"},{"id":"m","hash":"h1"}]}`))
	if err != nil {
		t.Fatalf("DecodeRecords failed: %v", err)
	}
	if set["m"].Source != "" || set["m"].Deps["x"] != "y" {
		t.Errorf("unexpected record %+v", set["m"])
	}
}

func TestDecodeRecordsRejects(t *testing.T) {
	cases := map[string]string{
		"short tuple": `{"m":["src",{}]}`,
		"no hash":     `{"m":["src",{},{"id":"m"}]}`,
		"not object":  `[1,2]`,
	}
	for name, data := range cases {
		if _, err := DecodeRecords([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
