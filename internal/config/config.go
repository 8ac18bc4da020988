// Package config holds the daemon's runtime configuration: the
// storage root and the TCP/discovery network endpoints. It follows
// the teacher's config shape (defaults in code, optional JSON-file
// persistence under a mutex) but carries only the fields this
// protocol needs.
package config

import (
	"encoding/json"
	"os"
	"sync"
)

// Config is the daemon's runtime configuration.
type Config struct {
	// Root is the storage root directory; users/, groups/, and
	// history/ live directly underneath it.
	Root string `json:"root"`

	// TCPAddr is the address the connection acceptor listens on.
	TCPAddr string `json:"tcp_addr"`

	// DiscoveryGroup is the IPv4 multicast group the discovery
	// responder joins.
	DiscoveryGroup string `json:"discovery_group"`

	// DiscoveryPort is the UDP port the discovery responder binds.
	DiscoveryPort int `json:"discovery_port"`

	mu         sync.RWMutex
	configFile string
}

// Default network and storage settings, per SPEC_FULL.md §6.
const (
	DefaultTCPAddr        = ":6000"
	DefaultDiscoveryGroup = "239.0.0.1"
	DefaultDiscoveryPort  = 5000
	DefaultRoot           = "/var/lib/chat_server"
)

// New returns a Config populated with defaults and, if filename is
// non-empty, an associated config file path for later Load/Save
// calls.
func New(filename string) *Config {
	return &Config{
		Root:           DefaultRoot,
		TCPAddr:        DefaultTCPAddr,
		DiscoveryGroup: DefaultDiscoveryGroup,
		DiscoveryPort:  DefaultDiscoveryPort,
		configFile:     filename,
	}
}

// Load reads the config file into c, leaving defaults in place for
// any field the file doesn't set. A missing file is not an error: the
// defaults from New stand unmodified.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

// Save persists the current configuration to the config file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.configFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Snapshot returns a copy of the configuration's current field
// values, safe to read without holding c's lock afterward.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Root:           c.Root,
		TCPAddr:        c.TCPAddr,
		DiscoveryGroup: c.DiscoveryGroup,
		DiscoveryPort:  c.DiscoveryPort,
	}
}
