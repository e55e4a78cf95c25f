// Package mcp exposes a running host to AI assistants over the Model
// Context Protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/engine"
	"github.com/zot/hotmod/internal/host"
	"github.com/zot/hotmod/internal/protocol"
	"github.com/zot/hotmod/internal/storage"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Host is the part of a running host the tools use.
type Host interface {
	Modules() []host.ModuleInfo
	Module(id string) (host.ModuleInfo, error)
	Loaded() []string
	State() engine.State
	History(limit int) ([]*storage.Entry, error)
	Submit(msg protocol.Message) (engine.Report, error)
}

// Server serves the hotmod tools and resources.
type Server struct {
	config *config.Config
	host   Host
	mcp    *server.MCPServer
}

// NewServer creates an MCP server bound to h.
func NewServer(cfg *config.Config, h Host) *Server {
	s := &Server{
		config: cfg,
		host:   h,
		mcp: server.NewMCPServer("hotmod", Version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves requests on stdin and stdout until stdin closes.
func (s *Server) ServeStdio() error {
	s.config.Log(1, "MCP server on stdio")
	return server.ServeStdio(s.mcp)
}
