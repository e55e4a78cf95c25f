// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for hotmod.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Source    SourceConfig    `toml:"source"`
	Transport TransportConfig `toml:"transport"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	MCP       MCPConfig       `toml:"mcp"`

	Dir  string   `toml:"-"` // Project directory (CLI only, not in config file)
	Args []string `toml:"-"` // Positional arguments left after flags

	logger *log.Logger
}

// EngineConfig holds reload engine settings.
type EngineConfig struct {
	Entry             string `toml:"entry"`
	HostModulesRoot   string `toml:"host_modules_root"`
	DetectTransparent bool   `toml:"detect_transparent"`
}

// SourceConfig holds module source settings.
type SourceConfig struct {
	Dir      string   `toml:"dir"` // Relative to the project directory
	Ext      string   `toml:"ext"`
	Debounce Duration `toml:"debounce"`
}

// TransportConfig holds change notification transport settings.
type TransportConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Path          string `toml:"path"`
	Secure        bool   `toml:"secure"` // wss instead of ws
	ClientEnabled bool   `toml:"client_enabled"`
}

// StorageConfig holds reload journal settings.
type StorageConfig struct {
	Type    string `toml:"type"` // "memory", "sqlite", "postgresql"
	Path    string `toml:"path"` // SQLite file path
	URL     string `toml:"url"`  // PostgreSQL connection URL
	History int    `toml:"history"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // 0=errors, 1=reloads, 2=modules, 3=traversal
}

// MCPConfig holds MCP tool server settings.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Entry:             "main",
			DetectTransparent: true,
		},
		Source: SourceConfig{
			Dir:      "lua",
			Ext:      ".lua",
			Debounce: Duration(100 * time.Millisecond),
		},
		Transport: TransportConfig{
			Host:          "localhost",
			Port:          4474,
			Path:          "/hotmod",
			ClientEnabled: true,
		},
		Storage: StorageConfig{
			Type:    "memory",
			Path:    "hotmod.db",
			History: 100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: 1,
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("hotmod", flag.ContinueOnError)
	dir := fs.String("dir", "", "Project directory containing config/ and the module sources")

	entry := fs.String("entry", "", "Entry module id")
	hostRoot := fs.String("host-root", "", "Id prefix of modules outside the managed graph")

	sourceDir := fs.String("source", "", "Module source directory, relative to --dir")
	ext := fs.String("ext", "", "Module source file extension")
	debounce := fs.Duration("debounce", 0, "Delay before a file change is applied")

	host := fs.String("host", "", "Change server host")
	port := fs.Int("port", 0, "Change server port")
	path := fs.String("path", "", "Change server websocket path")
	secure := fs.Bool("secure", false, "Use wss:// to reach the change server")

	storage := fs.String("storage", "", "Journal storage type: memory, sqlite, postgresql")
	storagePath := fs.String("storage-path", "", "SQLite database path")
	storageURL := fs.String("storage-url", "", "PostgreSQL connection URL")

	mcp := fs.Bool("mcp", false, "Serve MCP inspection tools on stdio")

	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	configPath := filepath.Join(*dir, "config", "hotmod.toml")
	if err := cfg.loadTOML(configPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	if *entry != "" {
		cfg.Engine.Entry = *entry
	}
	if *hostRoot != "" {
		cfg.Engine.HostModulesRoot = *hostRoot
	}
	if *sourceDir != "" {
		cfg.Source.Dir = *sourceDir
	}
	if *ext != "" {
		cfg.Source.Ext = *ext
	}
	if *debounce != 0 {
		cfg.Source.Debounce = Duration(*debounce)
	}
	if *host != "" {
		cfg.Transport.Host = *host
	}
	if *port != 0 {
		cfg.Transport.Port = *port
	}
	if *path != "" {
		cfg.Transport.Path = *path
	}
	if *secure {
		cfg.Transport.Secure = true
	}
	if *storage != "" {
		cfg.Storage.Type = *storage
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *storageURL != "" {
		cfg.Storage.URL = *storageURL
	}
	if *mcp {
		cfg.MCP.Enabled = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	cfg.Dir = *dir
	cfg.Args = fs.Args()

	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("HOTMOD_ENTRY"); v != "" {
		c.Engine.Entry = v
	}
	if v := os.Getenv("HOTMOD_HOST_ROOT"); v != "" {
		c.Engine.HostModulesRoot = v
	}
	if v := os.Getenv("HOTMOD_SOURCE"); v != "" {
		c.Source.Dir = v
	}
	if v := os.Getenv("HOTMOD_HOST"); v != "" {
		c.Transport.Host = v
	}
	if v := os.Getenv("HOTMOD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Transport.Port = port
		}
	}
	if v := os.Getenv("HOTMOD_CLIENT"); v != "" {
		c.Transport.ClientEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HOTMOD_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("HOTMOD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("HOTMOD_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("HOTMOD_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Source.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("HOTMOD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HOTMOD_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Verbosity returns the configured verbosity level (0-3).
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// SetOutput redirects log output.
func (c *Config) SetOutput(w io.Writer) {
	c.logger = log.New(w, "", log.LstdFlags)
}

// Log prints a message when level is within the configured verbosity.
// Level 0 always prints.
func (c *Config) Log(level int, format string, args ...any) {
	if level > c.Logging.Verbosity {
		return
	}
	if c.logger != nil {
		c.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// SourceDir returns the module source directory.
func (c *Config) SourceDir() string {
	if filepath.IsAbs(c.Source.Dir) {
		return c.Source.Dir
	}
	return filepath.Join(c.Dir, c.Source.Dir)
}

// ListenAddr returns the address the change server listens on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Transport.Host, strconv.Itoa(c.Transport.Port))
}

// ClientURL returns the websocket URL attached processes dial.
// Port 80 is left out of the URL.
func (c *Config) ClientURL() string {
	scheme := "ws"
	if c.Transport.Secure {
		scheme = "wss"
	}
	host := c.Transport.Host
	if c.Transport.Port != 80 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Transport.Port))
	}
	return scheme + "://" + host + c.Transport.Path
}
