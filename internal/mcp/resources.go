package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs.
const (
	ModulesURI = "hotmod://modules"
	HistoryURI = "hotmod://history"
)

// ModulesResource lists managed modules.
func ModulesResource() mcp.Resource {
	return mcp.NewResource(ModulesURI, "Modules",
		mcp.WithResourceDescription("Managed modules with hash, dependencies, and load state"),
		mcp.WithMIMEType("application/json"),
	)
}

// HistoryResource lists recent journal entries.
func HistoryResource() mcp.Resource {
	return mcp.NewResource(HistoryURI, "Reload History",
		mcp.WithResourceDescription("Recent reloads and errors, newest first"),
		mcp.WithMIMEType("application/json"),
	)
}

func (s *Server) registerResources() {
	s.mcp.AddResource(ModulesResource(), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonContents(ModulesURI, s.host.Modules())
	})
	s.mcp.AddResource(HistoryResource(), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := s.host.History(s.config.Storage.History)
		if err != nil {
			return nil, err
		}
		return jsonContents(HistoryURI, entries)
	})
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
