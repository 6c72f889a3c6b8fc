// Package config loads the CLI layer's YAML configuration. The core packages
// never read files; hosts hand them constructed values from here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomlabs/loom/internal/agent/providers"
	"github.com/loomlabs/loom/internal/mcp"
	"github.com/loomlabs/loom/internal/subagent"
	"github.com/loomlabs/loom/pkg/models"
)

// Config is the root configuration document.
type Config struct {
	Agent models.AgentConfig `yaml:"agent"`

	// Provider selects the descriptor key to use; defaults to the first
	// entry in Providers.
	Provider  string                 `yaml:"provider"`
	Providers []providers.Descriptor `yaml:"providers"`

	MCPServers []mcp.ServerConfig  `yaml:"mcp_servers"`
	Subagents  []subagent.Template `yaml:"subagents"`

	Memory  MemoryConfig  `yaml:"memory"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MemoryConfig selects the conversation store backend.
type MemoryConfig struct {
	// Backend is one of "memory", "file" or "sqlite"; empty means "memory".
	Backend string `yaml:"backend"`
	// Path is the file or database path for durable backends.
	Path string `yaml:"path"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Load reads, env-expands and strictly parses the configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes a single-document YAML configuration.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("config: expected a single document")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("config: at least one provider required")
	}
	if c.Provider == "" {
		c.Provider = c.Providers[0].Key
	}
	if _, err := c.Descriptor(); err != nil {
		return err
	}
	switch c.Memory.Backend {
	case "", "memory":
	case "file", "sqlite":
		if c.Memory.Path == "" {
			return fmt.Errorf("config: memory backend %q requires a path", c.Memory.Backend)
		}
	default:
		return fmt.Errorf("config: unknown memory backend %q", c.Memory.Backend)
	}
	return nil
}

// Descriptor resolves the selected provider descriptor.
func (c *Config) Descriptor() (providers.Descriptor, error) {
	for _, d := range c.Providers {
		if d.Key == c.Provider {
			return d, nil
		}
	}
	return providers.Descriptor{}, fmt.Errorf("config: unknown provider %q", c.Provider)
}
