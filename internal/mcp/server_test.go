package mcp

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/host"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *host.Host) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Verbosity = 0
	cfg.SetOutput(io.Discard)
	h, err := host.New(cfg, storage.NewMemoryStorage())
	if err != nil {
		t.Fatalf("host.New failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	_, err = h.Start(module.RecordSet{
		"main": {ID: "main", Source: `local util = require("util")
exports.answer = util.value * 2`, Deps: map[string]string{"util": "util"}, Meta: module.Meta{Hash: "m1"}},
		"util": {ID: "util", Source: `exports.value = 21`, Meta: module.Meta{Hash: "u1"}},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return NewServer(cfg, h), h
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text, result.IsError
}

// === Tools ===

func TestListModules(t *testing.T) {
	s, _ := newTestServer(t)
	text, isErr := call(t, s.handleListModules, nil)
	if isErr {
		t.Fatalf("unexpected error result: %s", text)
	}
	var mods []host.ModuleInfo
	if err := json.Unmarshal([]byte(text), &mods); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(mods) != 2 || mods[0].ID != "main" || !mods[1].Loaded {
		t.Errorf("unexpected modules %+v", mods)
	}
}

func TestInspectModule(t *testing.T) {
	s, _ := newTestServer(t)
	text, isErr := call(t, s.handleInspectModule, map[string]any{"id": "main"})
	if isErr {
		t.Fatalf("unexpected error result: %s", text)
	}
	if !strings.Contains(text, `"answer": 42`) {
		t.Errorf("expected live exports in %s", text)
	}
}

func TestInspectModuleMissingID(t *testing.T) {
	s, _ := newTestServer(t)
	_, isErr := call(t, s.handleInspectModule, map[string]any{})
	if !isErr {
		t.Error("expected error result without id")
	}
	text, isErr := call(t, s.handleInspectModule, map[string]any{"id": "nope"})
	if !isErr || !strings.Contains(text, "nope") {
		t.Errorf("expected not found error, got %s", text)
	}
}

func TestUpdateModuleReloads(t *testing.T) {
	s, h := newTestServer(t)
	text, isErr := call(t, s.handleUpdateModule, map[string]any{
		"id":     "util",
		"source": `exports.value = 5`,
	})
	if isErr {
		t.Fatalf("unexpected error result: %s", text)
	}
	if !strings.Contains(text, "reloaded") {
		t.Errorf("expected reload summary, got %s", text)
	}
	info, _ := h.Module("main")
	if info.Exports.(map[string]any)["answer"] != float64(10) {
		t.Errorf("expected answer 10, got %v", info.Exports)
	}

	text, _ = call(t, s.handleReloadHistory, map[string]any{"limit": 1})
	var entries []*storage.Entry
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != storage.KindReload {
		t.Errorf("unexpected history %s", text)
	}
}

func TestUpdateModuleCompileError(t *testing.T) {
	s, _ := newTestServer(t)
	text, isErr := call(t, s.handleUpdateModule, map[string]any{
		"id":     "util",
		"source": `local = =`,
	})
	if !isErr || !strings.Contains(text, "util") {
		t.Errorf("expected compile error result, got %s", text)
	}
}

func TestEngineState(t *testing.T) {
	s, _ := newTestServer(t)
	text, _ := call(t, s.handleEngineState, nil)
	if !strings.Contains(text, `"idle"`) || !strings.Contains(text, `"main"`) {
		t.Errorf("unexpected state %s", text)
	}
}

// === Resources ===

func TestJSONContents(t *testing.T) {
	contents, err := jsonContents(ModulesURI, []string{"a"})
	if err != nil {
		t.Fatalf("jsonContents failed: %v", err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok || text.URI != ModulesURI || text.Text != `["a"]` {
		t.Errorf("unexpected contents %+v", contents[0])
	}
}
