// Package config loads the fog dispatcher's static configuration: its
// local resource capacity, the remote node registry, and execution
// limits, from a YAML manifest.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/fogdispatch/pkg/types"
)

// Config is the dispatcher's static configuration, read once at startup.
type Config struct {
	Ledger struct {
		CPU float64 `yaml:"cpu"`
		RAM float64 `yaml:"ram"`
		GPU float64 `yaml:"gpu"`
	} `yaml:"ledger"`

	Nodes []NodeConfig `yaml:"nodes"`

	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	ScratchRoot        string `yaml:"scratch_root"`
	ContainerdSocket   string `yaml:"containerd_socket"`

	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// NodeConfig describes one statically configured remote node.
type NodeConfig struct {
	ID     string  `yaml:"id"`
	Host   string  `yaml:"host"`
	Port   int     `yaml:"port"`
	CPU    float64 `yaml:"cpu"`
	RAM    float64 `yaml:"ram"`
	GPU    float64 `yaml:"gpu"`
	Active bool    `yaml:"active"`
}

// Default returns a Config with conservative defaults for single-host use.
func Default() *Config {
	c := &Config{
		MaxConcurrentTasks: 8,
		ScratchRoot:        "/var/lib/fogdispatch/scratch",
		ContainerdSocket:   "/run/containerd/containerd.sock",
		MetricsAddr:        ":9090",
		LogLevel:           "info",
		LogJSON:            true,
	}
	c.Ledger.CPU = 4
	c.Ledger.RAM = 8
	return c
}

// Load reads and parses a YAML config file at path, layered over Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Ledger.CPU < 0 || c.Ledger.RAM < 0 || c.Ledger.GPU < 0 {
		return fmt.Errorf("ledger capacity must be non-negative")
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be positive, got %d", c.MaxConcurrentTasks)
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node entry missing id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// LedgerCapacity returns the configured local resource ceiling.
func (c *Config) LedgerCapacity() types.ResourceEstimate {
	return types.ResourceEstimate{CPU: c.Ledger.CPU, RAM: c.Ledger.RAM, GPU: c.Ledger.GPU}
}

// NodeDescriptors converts the configured nodes into registry entries.
func (c *Config) NodeDescriptors() []types.NodeDescriptor {
	nodes := make([]types.NodeDescriptor, len(c.Nodes))
	for i, n := range c.Nodes {
		nodes[i] = types.NodeDescriptor{
			ID: n.ID, Host: n.Host, Port: n.Port,
			CPU: n.CPU, RAM: n.RAM, GPU: n.GPU,
			Active: n.Active,
		}
	}
	return nodes
}
