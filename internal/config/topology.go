package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// PluginEntry is one plugin in the topology file. Order in the file is
// chain order: the first entry sits nearest the emulated device.
type PluginEntry struct {
	// Name selects the plugin implementation.
	Name string `yaml:"name"`
	// Label distinguishes multiple instances of the same plugin.
	Label string `yaml:"label"`
	// Enabled entries are attached; disabled ones stay in the file for
	// quick toggling.
	Enabled bool `yaml:"enabled"`
	// Options is the plugin's read-only configuration dictionary.
	Options map[string]string `yaml:"options"`
}

// Topology is the declarative pipeline layout.
type Topology struct {
	Plugins []PluginEntry `yaml:"plugins"`
}

// Enabled returns the entries to attach, in chain order.
func (t *Topology) Enabled() []PluginEntry {
	out := make([]PluginEntry, 0, len(t.Plugins))
	for _, p := range t.Plugins {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// LoadTopology reads and parses a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology parses topology YAML.
func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	for i, p := range t.Plugins {
		if p.Name == "" {
			return nil, fmt.Errorf("topology entry %d has no name", i)
		}
	}
	return &t, nil
}

// DefaultTopology is the built-in chain used when no file is given: a
// display device with a presentation plugin above it.
func DefaultTopology() *Topology {
	return &Topology{
		Plugins: []PluginEntry{
			{Name: "display", Label: "gpu0", Enabled: true, Options: map[string]string{}},
			{Name: "presentation", Label: "console", Enabled: true, Options: map[string]string{}},
		},
	}
}
