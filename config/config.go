// Package config handles configuration persistence for the DSU service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ListenerID is a unique identifier for a config change listener.
type ListenerID string

// SeedConfig configures the devices.ini unicast seed loader, §4.7.
type SeedConfig struct {
	Path string `yaml:"path,omitempty"` // default "devices.ini" if empty
}

// LocatorConfig configures the broadcast discovery transport, §4.1-4.2.
type LocatorConfig struct {
	Port         int           `yaml:"port,omitempty"`          // default locator.Port
	PollInterval time.Duration `yaml:"poll_interval,omitempty"` // default locator.PollInterval
}

// ElUDPConfig configures the unicast ElUDP transport, §4.3.
type ElUDPConfig struct {
	DefaultPort int `yaml:"default_port,omitempty"` // default eludp.DefaultPort
}

// LoggingConfig configures the debug/session loggers, §4.9.
type LoggingConfig struct {
	DebugLogPath   string   `yaml:"debug_log_path,omitempty"`
	SessionLogPath string   `yaml:"session_log_path,omitempty"`
	Filters        []string `yaml:"filters,omitempty"` // protocol names; empty = log all
}

// TelemetryConfig configures the Prometheus metrics bridge, §4.10.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"` // e.g. "0.0.0.0:9090"
}

// StoreConfig configures the bbolt audit store, §4.11.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"` // default "dsu-audit.db"
}

// APIConfig configures the HTTP/SSE API, §4.12.
type APIConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen,omitempty"` // e.g. "0.0.0.0:8080"
	AuthEnabled bool   `yaml:"auth_enabled,omitempty"`
	SessionKey  string `yaml:"session_key,omitempty"`   // gorilla/sessions signing key, base64
	Operator    string `yaml:"operator,omitempty"`      // operator username
	PasswordHash string `yaml:"password_hash,omitempty"` // bcrypt hash of the operator password
}

// BusConfig configures the event-republishing bus, §4.14.
type BusConfig struct {
	MQTT  *MQTTBusConfig  `yaml:"mqtt,omitempty"`
	Kafka *KafkaBusConfig `yaml:"kafka,omitempty"`
	Redis *RedisBusConfig `yaml:"redis,omitempty"`
}

// MQTTBusConfig configures paho-mqtt republishing.
type MQTTBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker,omitempty"` // e.g. "tcp://localhost:1883"
	ClientID  string `yaml:"client_id,omitempty"`
	TopicRoot string `yaml:"topic_root,omitempty"` // default "dsu"
}

// KafkaBusConfig configures segmentio/kafka-go republishing.
type KafkaBusConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// RedisBusConfig configures go-redis snapshot mirroring.
type RedisBusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr,omitempty"`
	KeyRoot  string `yaml:"key_root,omitempty"` // default "dsu:devices"
	Password string `yaml:"password,omitempty"`
}

// Config holds the complete DSU configuration.
type Config struct {
	Namespace string          `yaml:"namespace,omitempty"`
	Locator   LocatorConfig   `yaml:"locator,omitempty"`
	ElUDP     ElUDPConfig     `yaml:"eludp,omitempty"`
	Seed      SeedConfig      `yaml:"seed,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	API       APIConfig       `yaml:"api,omitempty"`
	Bus       BusConfig       `yaml:"bus,omitempty"`

	// dataMu protects all fields against concurrent access. Callers that
	// modify config should Lock(), modify, then call UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex          `yaml:"-"`
	listenerCounter uint64                `yaml:"-"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Locator: LocatorConfig{Port: 1770, PollInterval: 2 * time.Second},
		ElUDP:   ElUDPConfig{DefaultPort: 1775},
		Seed:    SeedConfig{Path: "devices.ini"},
		Logging: LoggingConfig{DebugLogPath: "debug.log", SessionLogPath: "session.log"},
		Telemetry: TelemetryConfig{
			Enabled: true, Listen: "0.0.0.0:9090",
		},
		Store: StoreConfig{Path: "dsu-audit.db"},
		API:   APIConfig{Enabled: true, Listen: "0.0.0.0:8080"},
	}
}

// DefaultPath returns the default configuration file path (~/.dsu/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".dsu", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults (and
// a best-effort save) when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		dirty = true
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Locator.Port == 0 {
		cfg.Locator.Port = 1770
		dirty = true
	}
	if cfg.Locator.PollInterval == 0 {
		cfg.Locator.PollInterval = 2 * time.Second
		dirty = true
	}
	if cfg.ElUDP.DefaultPort == 0 {
		cfg.ElUDP.DefaultPort = 1775
		dirty = true
	}
	if cfg.Seed.Path == "" {
		cfg.Seed.Path = "devices.ini"
		dirty = true
	}

	if dirty {
		cfg.Save(path) // best-effort
	}
	return cfg, nil
}

// AddOnChangeListener registers a callback invoked whenever the config is
// saved. Returns an ID usable with RemoveOnChangeListener.
func (c *Config) AddOnChangeListener(cb func()) ListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ListenerID]func())
	}
	id := ListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config mutex for exclusive access. Use before modifying
// fields directly, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies listeners.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}
