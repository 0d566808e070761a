// Package config provides configuration management for the input
// sharing service.
package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orz-ai/mkshare/internal/device"
)

// Config is the application configuration, stored as YAML.
type Config struct {
	Network      NetworkConfig     `yaml:"network"`
	ScreenSwitch ScreenSwitch      `yaml:"screen_switch"`
	Input        InputConfig       `yaml:"input"`
	Devices      map[string]string `yaml:"devices,omitempty"` // device name -> position
	API          APIConfig         `yaml:"api"`
}

// NetworkConfig groups the listener and dialer settings.
type NetworkConfig struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig is the listener side (controller role).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ClientConfig is the dialer side (controlled role).
type ClientConfig struct {
	ServerHost        string `yaml:"server_host"`
	ServerPort        int    `yaml:"server_port"`
	AutoReconnect     bool   `yaml:"auto_reconnect"`
	ReconnectInterval int    `yaml:"reconnect_interval"` // seconds
}

// ScreenSwitch controls edge-trigger behavior.
type ScreenSwitch struct {
	EdgeThreshold int     `yaml:"edge_threshold"` // pixels
	EdgeDelay     float64 `yaml:"edge_delay"`     // seconds
}

// InputConfig holds input forwarding settings.
type InputConfig struct {
	Mouse MouseConfig `yaml:"mouse"`
	// EscapeKeyCode is the key that returns control to the local
	// device while a remote device owns focus. Defaults to Esc.
	EscapeKeyCode uint16 `yaml:"escape_key_code"`
}

// MouseConfig holds pointer settings.
type MouseConfig struct {
	Sensitivity float64 `yaml:"sensitivity"`
}

// APIConfig controls the local status API.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default values.
const (
	DefaultPort              = 41234
	DefaultReconnectInterval = 5
	DefaultEdgeThreshold     = 5
	DefaultEdgeDelay         = 0.3
	DefaultEscapeKeyCode     = 0x1B // Esc
	DefaultAPIPort           = 18080
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Server: ServerConfig{Host: "0.0.0.0", Port: DefaultPort},
			Client: ClientConfig{
				ServerHost:        "127.0.0.1",
				ServerPort:        DefaultPort,
				AutoReconnect:     true,
				ReconnectInterval: DefaultReconnectInterval,
			},
		},
		ScreenSwitch: ScreenSwitch{
			EdgeThreshold: DefaultEdgeThreshold,
			EdgeDelay:     DefaultEdgeDelay,
		},
		Input: InputConfig{
			Mouse:         MouseConfig{Sensitivity: 1.0},
			EscapeKeyCode: DefaultEscapeKeyCode,
		},
		API: APIConfig{Enabled: false, Port: DefaultAPIPort},
	}
}

// EdgeDelayDuration returns the edge dwell delay as a Duration.
func (c *Config) EdgeDelayDuration() time.Duration {
	return time.Duration(c.ScreenSwitch.EdgeDelay * float64(time.Second))
}

// ReconnectIntervalDuration returns the reconnect spacing as a
// Duration.
func (c *Config) ReconnectIntervalDuration() time.Duration {
	return time.Duration(c.Network.Client.ReconnectInterval) * time.Second
}

// Validate checks value ranges. Ranges match what the deployment
// tooling accepts.
func (c *Config) Validate() error {
	if p := c.Network.Server.Port; p < 1 || p > 65535 {
		return fmt.Errorf("config: server port %d out of range", p)
	}
	if p := c.Network.Client.ServerPort; p < 1 || p > 65535 {
		return fmt.Errorf("config: client server_port %d out of range", p)
	}
	if t := c.ScreenSwitch.EdgeThreshold; t < 1 || t > 50 {
		return fmt.Errorf("config: edge_threshold %d out of range (1-50)", t)
	}
	if d := c.ScreenSwitch.EdgeDelay; d < 0 || d > 5 {
		return fmt.Errorf("config: edge_delay %.2f out of range (0-5s)", d)
	}
	if s := c.Input.Mouse.Sensitivity; s < 0.1 || s > 5.0 {
		return fmt.Errorf("config: mouse sensitivity %.2f out of range (0.1-5.0)", s)
	}
	for name, pos := range c.Devices {
		if !device.Position(pos).Valid() {
			return fmt.Errorf("config: device %q has invalid position %q", name, pos)
		}
	}
	return nil
}

// Manager handles loading and saving configuration.
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a manager for the given config file path.
func NewManager(path string) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk. A missing file is not an
// error: defaults are kept and written out for the user to edit.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		log.Printf("Config: %s not found, writing defaults", m.configPath)
		return m.saveLocked()
	}
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", m.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// Save writes the configuration to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set replaces the configuration.
func (m *Manager) Set(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// RegisterChangeCallback registers a function invoked after the
// configuration changes.
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}
