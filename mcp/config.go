// MCP server configuration file support.
//
// Supports the common mcpServers configuration format:
//
//	{
//	  "mcpServers": {
//	    "calculator": {
//	      "command": "python",
//	      "args": ["-m", "calculator_server"]
//	    },
//	    "text": {
//	      "command": "./text-tools",
//	      "env": {"LOG_LEVEL": "warn"}
//	    }
//	  }
//	}
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/richinex/agentgate/tools"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for name, server := range config.MCPServers {
		if server.Command == "" {
			return nil, fmt.Errorf("server %q has no command", name)
		}
	}

	return &config, nil
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session is a set of running MCP servers exposed as one tools.Invoker.
// The caller must call Close when done.
type Session struct {
	*tools.Multi
	clients []*Client
}

// StartAll starts every configured server in name order. If any server
// fails to start, the ones already running are stopped.
func (c *Config) StartAll(ctx context.Context) (*Session, error) {
	session := &Session{}
	invokers := make([]tools.Invoker, 0, len(c.MCPServers))
	for _, name := range c.Names() {
		client, err := Start(ctx, c.MCPServers[name])
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("start MCP server %q: %w", name, err)
		}
		session.clients = append(session.clients, client)
		invokers = append(invokers, client)
	}
	session.Multi = tools.NewMulti(invokers...)
	return session, nil
}

// Close stops every server in the session.
func (s *Session) Close() error {
	var errs []error
	for _, client := range s.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
