package cli

import (
	"github.com/zot/hotmod/internal/config"
)

// Re-export config types for public API
type (
	Config          = config.Config
	EngineConfig    = config.EngineConfig
	SourceConfig    = config.SourceConfig
	TransportConfig = config.TransportConfig
	StorageConfig   = config.StorageConfig
	LoggingConfig   = config.LoggingConfig
	Duration        = config.Duration
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	LoadConfig    = config.Load
)
