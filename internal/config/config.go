// Package config loads and persists the per-service config.json described
// in the system's persisted-state layout: node identity, role, public
// endpoint, UPnP opt-in, and bootstrap registries. The Node Controller
// binary is the only service that loads one.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Role mirrors node.Role but is declared here too so config can be loaded
// before the node package's HTTP types are in scope.
type Role string

const (
	RoleExecutor Role = "executor"
	RoleCreator  Role = "creator"
	RoleRegistry Role = "registry"
)

// Registry is one bootstrap peer a node hands its own identity to on
// startup, and subsequently gossips against.
type Registry struct {
	IPv4Address string `json:"ipv4_address"`
	Port        int    `json:"port"`
}

// Config is the on-disk shape of config/config.json.
type Config struct {
	NodeUID     string     `json:"node_uid"`
	Role        Role       `json:"role"`
	PublicIP    string     `json:"public_ip,omitempty"`
	PublicPort  int        `json:"public_port,omitempty"`
	UseUPnP     bool       `json:"use_upnp"`
	ListenAddr  string     `json:"listen_addr"`
	Registries  []Registry `json:"registries"`
	path        string
}

// Load reads config.json at path, minting a fresh node_uid and persisting
// a default config if the file does not yet exist. This is the "own-identity
// bootstrap" step 1 the Node Controller performs on startup.
func Load(path string, role Role, listenAddr string) (*Config, error) {
	cfg, err := read(path)
	if err == nil {
		cfg.path = path
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg = &Config{
		NodeUID:    uuid.NewString(),
		Role:       role,
		UseUPnP:    true,
		ListenAddr: listenAddr,
		path:       path,
	}
	if err := cfg.Save(); err != nil {
		return nil, fmt.Errorf("persist initial config: %w", err)
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save persists the config back to its source path, creating parent
// directories as needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// SetEndpoint updates the public endpoint fields and persists the change.
// Called after UPnP port mapping or after reading the endpoint from config
// when use_upnp is false.
func (c *Config) SetEndpoint(ip string, port int) error {
	c.PublicIP = ip
	c.PublicPort = port
	return c.Save()
}
