// Vercade is a conversational agent that lives on a chat platform.
//
// Incoming messages and an idle timer trigger a reasoning loop in which
// the model acts only through tools: reading channels, sending
// messages, reacting, remembering, and whatever MCP servers provide.
// Configuration comes from an optional YAML file (see
// [config.DefaultSearchPaths]) and VERCADE_* environment variables.
//
// Usage:
//
//	vercade serve            Connect to Discord and run the agent
//	vercade tools            List the tool catalog and exit
//	vercade version          Print version and build information
//	vercade -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nugget/vercade/internal/buildinfo"
	"github.com/nugget/vercade/internal/chat"
	"github.com/nugget/vercade/internal/config"
	"github.com/nugget/vercade/internal/mcp"
	"github.com/nugget/vercade/internal/memory"
	"github.com/nugget/vercade/internal/tools"
)

// main builds the OS-level environment and hands off to [run], keeping
// os.Exit and os.Args out of the testable code.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Logs go to stdout. It returns nil on a
// clean shutdown.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Manual parsing avoids the flag package's global state, so tests
	// can call run concurrently.
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "platform"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Vercade - a conversational agent for Discord")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vercade [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Connect to Discord and run the agent")
	fmt.Fprintln(w, "  tools        List the tool catalog (built-ins and MCP) and exit")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	fmt.Fprintln(w, "Without a config file, settings come from VERCADE_* environment variables.")
	return nil
}

// loadConfig finds and loads the configuration. When no explicit path
// is given and no file is found, the environment alone is used.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" || !errors.Is(err, config.ErrNoConfigFile) {
			return nil, "", err
		}
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if cfgPath == "" {
			return nil, "", fmt.Errorf("load config from environment: %w", err)
		}
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// buildCatalog assembles the tool registry: built-ins, the platform
// tools over hub, memory tools when mem is non-nil, and every tool of
// the configured MCP servers. A name collision is a startup error. The
// returned clients must be closed by the caller.
func buildCatalog(ctx context.Context, cfg *config.Config, hub chat.Hub, mem tools.MemoryStore, logger *slog.Logger) (*tools.Registry, []*mcp.Client, error) {
	registry := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(registry, time.Now); err != nil {
		return nil, nil, err
	}
	if err := tools.RegisterPlatformTools(registry, hub); err != nil {
		return nil, nil, err
	}
	if mem != nil {
		if err := tools.RegisterMemoryTools(registry, mem); err != nil {
			return nil, nil, err
		}
	}

	if cfg.MCP.Path == "" {
		return registry, nil, nil
	}
	servers, err := mcp.LoadServers(cfg.MCP.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("load mcp servers: %w", err)
	}
	clients, err := mcp.Connect(ctx, servers, logger)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range clients {
		n, err := mcp.BridgeTools(ctx, c, registry, logger)
		if err != nil {
			mcp.CloseAll(clients)
			return nil, nil, fmt.Errorf("mcp server %s: %w", c.Name(), err)
		}
		serverName, serverVersion := c.ServerInfo()
		logger.Info("mcp server connected",
			"server", c.Name(),
			"server_name", serverName,
			"server_version", serverVersion,
			"tools", n,
		)
	}
	return registry, clients, nil
}

// runTools prints the merged catalog. Platform and memory tools are
// listed but never called, so no Discord connection or memory store is
// opened.
func runTools(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stderr)

	registry, clients, err := buildCatalog(ctx, cfg, nil, listOnlyMemory(cfg), logger)
	if err != nil {
		return err
	}
	defer mcp.CloseAll(clients)

	list := registry.List()
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Source, firstLine(t.Description))
	}
	return tw.Flush()
}

// listOnlyMemory stands in for the memory store when the catalog is only
// being listed.
func listOnlyMemory(cfg *config.Config) tools.MemoryStore {
	if !cfg.Memory.Enabled() {
		return nil
	}
	return noMemory{}
}

type noMemory struct{}

func (noMemory) Remember(context.Context, string, map[string]string) (string, error) {
	return "", errors.New("memory is not open")
}

func (noMemory) Recall(context.Context, string, int) ([]memory.Recollection, error) {
	return nil, errors.New("memory is not open")
}

func (noMemory) Forget(context.Context, string) error {
	return errors.New("memory is not open")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
