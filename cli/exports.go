package cli

import (
	"github.com/zot/hotmod/internal/engine"
	"github.com/zot/hotmod/internal/host"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
)

// Re-export engine types for embedding hotmod in another program
type (
	Engine    = engine.Engine
	Options   = engine.Options
	Report    = engine.Report
	Record    = module.Record
	RecordSet = module.RecordSet
	Host      = host.Host
	Message   = protocol.Message
)

// Re-export constructors
var (
	NewEngine = engine.New
	NewHost   = host.New
)
