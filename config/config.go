package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cowboyrushforth/fprintvirt/device"
	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/store"
	"github.com/cowboyrushforth/fprintvirt/validate"
	"github.com/cowboyrushforth/fprintvirt/virtual"
)

// D-Bus modes for the daemon
const (
	DBusOff     = "off"
	DBusSession = "session"
	DBusSystem  = "system"
)

// Configuration holds the daemon configuration
type Configuration struct {
	// Device
	Driver       string `json:"driver" yaml:"driver"`
	DeviceID     string `json:"device_id" yaml:"device_id"`
	ScanType     string `json:"scan_type" yaml:"scan_type"`
	EnrollStages int    `json:"enroll_stages" yaml:"enroll_stages"`

	// Simulation socket
	SocketDir      string `json:"socket_dir" yaml:"socket_dir"`
	SocketPath     string `json:"socket_path" yaml:"socket_path"`
	CommandTimeout int    `json:"command_timeout_ms" yaml:"command_timeout_ms"`
	MaxCommandRate int    `json:"max_command_rate" yaml:"max_command_rate"`

	// Print storage
	Storage     string `json:"storage" yaml:"storage"`
	StoragePath string `json:"storage_path" yaml:"storage_path"`

	// D-Bus front end; its enrolled prints live in a JSON file at
	// host_storage_path, or in memory when unset
	DBus            string `json:"dbus" yaml:"dbus"`
	HostStoragePath string `json:"host_storage_path" yaml:"host_storage_path"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

var (
	config Configuration
	mu     sync.RWMutex
	loaded bool
)

// DefaultConfig returns the default configuration
func DefaultConfig() Configuration {
	return Configuration{
		DeviceID:     "0",
		ScanType:     device.ScanTypeSwipe.String(),
		EnrollStages: 5,
		SocketDir:    filepath.Join(os.TempDir(), "fprintvirt"),
		Storage:      store.KindNone,
		DBus:         DBusOff,
		LogLevel:     "info",
	}
}

// DefaultPath is where LoadConfig looks when no path is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fprintvirt", "config.json"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func marshal(path string, c Configuration) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "  ")
}

func unmarshal(path string, data []byte, c *Configuration) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

// Parse reads a configuration file on top of the defaults without touching
// the global configuration.
func Parse(configPath string) (Configuration, error) {
	c := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return c, fmt.Errorf("cannot read config: %w", err)
	}
	if err := unmarshal(configPath, data, &c); err != nil {
		return c, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	// Write the defaults on first start
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		c := DefaultConfig()
		if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
			return fmt.Errorf("cannot create config directory: %w", err)
		}

		data, err := marshal(configPath, c)
		if err != nil {
			return fmt.Errorf("cannot marshal default config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0600); err != nil {
			return fmt.Errorf("cannot write default config: %w", err)
		}

		fplog.Info("Created default configuration at %s", configPath)
		config = c
	} else {
		c, err := Parse(configPath)
		if err != nil {
			return err
		}
		config = c
	}

	level, err := fplog.ParseLevel(config.LogLevel)
	if err != nil {
		fplog.Warn("%v, using info", err)
	}
	fplog.SetLevel(level)

	loaded = true
	return nil
}

// Get returns the current configuration
func Get() Configuration {
	mu.RLock()
	if loaded {
		defer mu.RUnlock()
		return config
	}
	mu.RUnlock()

	// Auto-load default config if not loaded
	if err := LoadConfig(""); err != nil {
		fplog.Error("Failed to load config: %v", err)
		return DefaultConfig()
	}

	mu.RLock()
	defer mu.RUnlock()
	return config
}

// Validate checks the values a file can get wrong.
func (c Configuration) Validate() error {
	if err := validate.EnrollStages(c.EnrollStages); err != nil {
		return fmt.Errorf("invalid enroll_stages: %w", err)
	}
	if _, ok := device.ParseScanType(c.ScanType); !ok {
		return fmt.Errorf("invalid scan_type %q", c.ScanType)
	}
	switch c.Storage {
	case store.KindNone, store.KindMemory:
	case store.KindJSON, store.KindBolt:
		if c.StoragePath == "" {
			return fmt.Errorf("storage %q needs a storage_path", c.Storage)
		}
	default:
		return fmt.Errorf("invalid storage %q", c.Storage)
	}
	switch c.DBus {
	case DBusOff, DBusSession, DBusSystem:
	default:
		return fmt.Errorf("invalid dbus mode %q", c.DBus)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout_ms cannot be negative")
	}
	if c.MaxCommandRate < 0 {
		return fmt.Errorf("max_command_rate cannot be negative")
	}
	return nil
}

// OpenStore opens the configured print storage. It returns nil for a
// device without storage.
func (c Configuration) OpenStore() (store.Store, error) {
	if c.Storage == store.KindNone || c.Storage == "" {
		return nil, nil
	}
	return store.Open(c.Storage, c.StoragePath)
}

// Device converts the configuration into the settings of a virtual device.
func (c Configuration) Device(s store.Store) virtual.Config {
	st, _ := device.ParseScanType(c.ScanType)
	return virtual.Config{
		Driver:         c.Driver,
		DeviceID:       c.DeviceID,
		SocketDir:      c.SocketDir,
		SocketPath:     c.SocketPath,
		ScanType:       st,
		EnrollStages:   c.EnrollStages,
		Store:          s,
		CommandTimeout: time.Duration(c.CommandTimeout) * time.Millisecond,
		MaxCommandRate: c.MaxCommandRate,
	}
}
