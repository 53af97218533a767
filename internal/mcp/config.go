package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"
)

// ServerConfig is one entry of the mcpServers map. A server has either a
// Command (stdio) or a URL (streamable HTTP).
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Servers maps a server name to its configuration.
type Servers map[string]ServerConfig

// Names returns the server names in sorted order.
func (s Servers) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type serversFile struct {
	MCPServers Servers `json:"mcpServers"`
}

// LoadServers reads a JSON file of the form {"mcpServers": {...}}.
// Env and header values beginning with "$" name a variable of the
// process environment; a variable that is not set is an error.
func LoadServers(path string) (Servers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read MCP config: %w", err)
	}

	var f serversFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse MCP config %s: %w", path, err)
	}
	if f.MCPServers == nil {
		return nil, fmt.Errorf("parse MCP config %s: missing mcpServers", path)
	}

	var errs []error
	for _, name := range f.MCPServers.Names() {
		sc := f.MCPServers[name]
		if err := sc.resolve(); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", name, err))
			continue
		}
		if err := sc.validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", name, err))
			continue
		}
		f.MCPServers[name] = sc
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.MCPServers, nil
}

func (sc *ServerConfig) resolve() error {
	var err error
	if sc.Env, err = resolveVars(sc.Env); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if sc.Headers, err = resolveVars(sc.Headers); err != nil {
		return fmt.Errorf("headers: %w", err)
	}
	return nil
}

func resolveVars(in map[string]string) (map[string]string, error) {
	if len(in) == 0 {
		return in, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		name, ok := strings.CutPrefix(v, "$")
		if !ok {
			out[k] = v
			continue
		}
		val, set := os.LookupEnv(name)
		if !set {
			return nil, fmt.Errorf("%s: environment variable %s is not set", k, name)
		}
		out[k] = val
	}
	return out, nil
}

func (sc ServerConfig) validate() error {
	switch {
	case sc.Command != "" && sc.URL != "":
		return errors.New("command and url are mutually exclusive")
	case sc.Command == "" && sc.URL == "":
		return errors.New("one of command or url is required")
	}
	return nil
}

// Transport builds the transport the config describes.
func (sc ServerConfig) Transport(logger *slog.Logger) Transport {
	if sc.URL != "" {
		return NewHTTPTransport(HTTPConfig{URL: sc.URL, Headers: sc.Headers, Logger: logger})
	}
	env := make([]string, 0, len(sc.Env))
	for k, v := range sc.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return NewStdioTransport(StdioConfig{Command: sc.Command, Args: sc.Args, Env: env, Logger: logger})
}

// initTimeout bounds the handshake with one server.
const initTimeout = 30 * time.Second

// Connect starts and initializes a client for every server. On any
// failure the clients already started are closed.
func Connect(ctx context.Context, servers Servers, logger *slog.Logger) ([]*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clients := make([]*Client, 0, len(servers))
	for _, name := range servers.Names() {
		sc := servers[name]
		l := logger.With("mcp_server", name)
		c := NewClient(name, sc.Transport(l), logger)

		initCtx, cancel := context.WithTimeout(ctx, initTimeout)
		err := c.Initialize(initCtx)
		cancel()
		if err != nil {
			_ = c.Close()
			CloseAll(clients)
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// CloseAll closes every client, ignoring errors.
func CloseAll(clients []*Client) {
	for _, c := range clients {
		_ = c.Close()
	}
}
