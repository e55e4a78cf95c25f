// Package cli provides the command-line interface for hotmod.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zot/hotmod/internal/client"
	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/host"
	"github.com/zot/hotmod/internal/lua"
	"github.com/zot/hotmod/internal/mcp"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
	"github.com/zot/hotmod/internal/server"
	"github.com/zot/hotmod/internal/storage"
	"github.com/zot/hotmod/internal/watch"
)

// Version is the hotmod release.
const Version = "0.1.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// stdout and stderr are swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runDev(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "run":
		return runDev(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "attach":
		return runAttach(cmdArgs)
	case "check":
		return runCheck(cmdArgs)
	case "history":
		return runHistory(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		if len(command) > 0 && command[0] == '-' {
			return runDev(args)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func loadConfig(args []string) (*config.Config, bool) {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	return cfg, true
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// checkRecord rejects records whose Lua source does not compile.
func checkRecord(r *module.Record) error {
	_, err := lua.CompileProto(r)
	return err
}

func shutdown(cfg *config.Config, srv *server.Server) {
	cfg.Log(0, "Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// runDev watches the source tree, runs the engine in this process, and
// serves changes to attached processes.
func runDev(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	journal, err := storage.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	h, err := host.New(cfg, journal)
	if err != nil {
		journal.Close()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer h.Close()

	var w *watch.Watcher
	srv := server.New(cfg, func() module.RecordSet { return w.Snapshot() })
	w, err = watch.New(cfg, func(msg protocol.Message) {
		if _, err := h.Submit(msg); err != nil {
			cfg.Log(0, "Reload error: %v", err)
		}
		srv.Hub().Broadcast(msg)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	w.Check = checkRecord
	if err := w.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer w.Stop()

	if _, err := h.Start(w.Snapshot()); err != nil {
		cfg.Log(0, "Start error: %v", err)
	}
	if _, err := srv.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer shutdown(cfg, srv)

	ctx, stop := signalContext()
	defer stop()
	if cfg.MCP.Enabled {
		go func() {
			if err := mcp.NewServer(cfg, h).ServeStdio(); err != nil {
				cfg.Log(0, "MCP server error: %v", err)
			}
			stop()
		}()
	}
	<-ctx.Done()
	return 0
}

// runServe watches the source tree and serves changes without running an
// engine.
func runServe(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	var w *watch.Watcher
	srv := server.New(cfg, func() module.RecordSet { return w.Snapshot() })
	w, err := watch.New(cfg, func(msg protocol.Message) {
		srv.Hub().Broadcast(msg)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	w.Check = checkRecord
	if err := w.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer w.Stop()
	if _, err := srv.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer shutdown(cfg, srv)

	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()
	return 0
}

// runAttach runs an engine fed by a remote change server.
func runAttach(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	journal, err := storage.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	h, err := host.New(cfg, journal)
	if err != nil {
		journal.Close()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer h.Close()

	sigCtx, stop := signalContext()
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)
	if cfg.MCP.Enabled {
		g.Go(func() error {
			defer stop()
			return mcp.NewServer(cfg, h).ServeStdio()
		})
	}
	c := client.New(cfg, func(msg protocol.Message) {
		if _, err := h.Submit(msg); err != nil {
			cfg.Log(0, "Reload error: %v", err)
		}
	})
	cfg.Log(0, "Attaching to %s", c.URL())
	g.Go(func() error {
		return c.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runCheck compiles every module once and reports failures.
func runCheck(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	set, err := watch.Scan(cfg.SourceDir(), cfg.Source.Ext)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	failed := 0
	for _, id := range set.IDs() {
		if err := checkRecord(set[id]); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Fprintf(stdout, "%s %s\n", id, set[id].Meta.Hash)
	}
	if _, ok := set[cfg.Engine.Entry]; !ok {
		fmt.Fprintf(stderr, "entry module %q not found\n", cfg.Engine.Entry)
		failed++
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// runHistory prints the newest journal entries.
func runHistory(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	journal, err := storage.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer journal.Close()
	entries, err := journal.Recent(cfg.Storage.History)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s %-13s %s\n", e.Time.Format(time.RFC3339), e.Kind, describeEntry(e))
	}
	return 0
}

func describeEntry(e *storage.Entry) string {
	s := fmt.Sprintf("added=%d reloaded=%v accepted=%v", len(e.Added), e.Reloaded, e.Accepted)
	if e.Restored {
		s += " restored"
	}
	if e.Error != "" {
		s += " error=" + e.Error
	}
	return s
}

func printHelp(hooks *Hooks) {
	fmt.Fprintln(stdout, `hotmod - module hot reloading for Lua

Usage: hotmod [command] [options]

Commands:
  run             Watch sources, run the entry module, and serve changes (default)
  serve           Watch sources and serve changes only
  attach          Run the entry module from a remote change server
  check           Compile every module once and report errors
  history         Print the reload journal
  help            Show this help
  version         Show the version

Options:
  --dir           Project directory containing config/hotmod.toml
  --source        Module source directory (default: lua)
  --ext           Module file extension (default: .lua)
  --entry         Entry module id (default: main)
  --host-root     Id prefix of modules never reloaded
  --debounce      Delay before a file change is applied (default: 100ms)
  --host          Change server host (default: localhost)
  --port          Change server port (default: 4474)
  --path          Change server websocket path (default: /hotmod)
  --secure        Attach over wss://
  --storage       Journal storage: memory, sqlite, postgresql
  --storage-path  SQLite database path
  --storage-url   PostgreSQL connection URL
  --mcp           Serve MCP inspection tools on stdio
  -v, -vv, -vvv   Verbosity

Examples:
  hotmod run --dir myapp -vv
  hotmod serve --port 4474
  hotmod attach --host devbox --port 4474 --storage sqlite`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Fprintln(stdout, hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Fprintf(stdout, "hotmod v%s\n", Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Fprintln(stdout, hooks.CustomVersion())
	}
}
