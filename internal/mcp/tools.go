package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
	"github.com/zot/hotmod/internal/storage"
	"github.com/zot/hotmod/internal/watch"
)

// ListModulesTool lists managed modules.
func ListModulesTool() mcp.Tool {
	return mcp.NewTool("list_modules",
		mcp.WithDescription("List managed modules with their hash, dependencies, and whether they are loaded"),
	)
}

// InspectModuleTool shows one module.
func InspectModuleTool() mcp.Tool {
	return mcp.NewTool("inspect_module",
		mcp.WithDescription("Show a module's record and its live exports"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Module id")),
	)
}

// ReloadHistoryTool lists journal entries.
func ReloadHistoryTool() mcp.Tool {
	return mcp.NewTool("reload_history",
		mcp.WithDescription("List recent reloads, build errors, and compile errors, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	)
}

// EngineStateTool reports the reload state.
func EngineStateTool() mcp.Tool {
	return mcp.NewTool("engine_state",
		mcp.WithDescription("Report the engine's reload state and loaded modules"),
	)
}

// UpdateModuleTool replaces one module's source and reloads.
func UpdateModuleTool() mcp.Tool {
	return mcp.NewTool("update_module",
		mcp.WithDescription("Replace a module's Lua source and hot reload it"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Module id")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Lua source code")),
	)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(ListModulesTool(), s.handleListModules)
	s.mcp.AddTool(InspectModuleTool(), s.handleInspectModule)
	s.mcp.AddTool(ReloadHistoryTool(), s.handleReloadHistory)
	s.mcp.AddTool(EngineStateTool(), s.handleEngineState)
	s.mcp.AddTool(UpdateModuleTool(), s.handleUpdateModule)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleListModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.host.Modules())
}

func (s *Server) handleInspectModule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.host.Module(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (s *Server) handleReloadHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	entries, err := s.host.History(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if entries == nil {
		entries = []*storage.Entry{}
	}
	return jsonResult(entries)
}

func (s *Server) handleEngineState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"state":  s.host.State().String(),
		"loaded": s.host.Loaded(),
	})
}

func (s *Server) handleUpdateModule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deps := make(map[string]string)
	for _, name := range watch.ParseRequires(source) {
		deps[name] = name
	}
	msg, err := protocol.NewChange(module.RecordSet{
		id: {ID: id, Source: source, Deps: deps, Meta: module.Meta{Hash: watch.Hash(source, deps)}},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.host.Submit(msg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", report.Summary(), err)), nil
	}
	return mcp.NewToolResultText(report.Summary()), nil
}
