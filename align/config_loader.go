package align

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the service and CLI configuration.
type Config struct {
	HTTP     HTTPConfig    `yaml:"http" json:"http"`
	MQTT     MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Engine   EngineOptions `yaml:"engine" json:"engine"`
	Workers  PoolConfig    `yaml:"workers" json:"workers"`
	Sampler  SamplerConfig `yaml:"sampler" json:"sampler"`
	Store    StoreConfig   `yaml:"store" json:"store"`
	LogLevel string        `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID    string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	TopicPrefix string `yaml:"topicPrefix" json:"topicPrefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
}

// EngineOptions are the registration defaults applied when a request leaves
// them out, plus the profile densities.
type EngineOptions struct {
	EngineConfig `yaml:",inline"`
	Coarse       int     `yaml:"coarse" json:"coarse"`
	Fine         int     `yaml:"fine" json:"fine"`
	Eps          float64 `yaml:"eps" json:"eps"`
}

// SamplerConfig controls vertex sampling.
type SamplerConfig struct {
	Stride int `yaml:"stride" json:"stride"`
}

// StoreConfig locates the alignment store.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Defaults used by DefaultConfig.
const (
	DefaultHTTPPort    = 8080
	DefaultTopicPrefix = "scanalign"
	DefaultClientID    = "scanalign"
	DefaultCoarse      = 3
	DefaultFine        = 10
	DefaultStorePath   = ".alignment-cache.json"
)

// DefaultConfig returns a configuration that runs without a config file.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: DefaultHTTPPort},
		MQTT: MQTTConfig{ClientID: DefaultClientID, TopicPrefix: DefaultTopicPrefix},
		Engine: EngineOptions{
			EngineConfig: DefaultEngineConfig(),
			Coarse:       DefaultCoarse,
			Fine:         DefaultFine,
			Eps:          DefaultEps,
		},
		Workers:  DefaultPoolConfig(),
		Sampler:  SamplerConfig{Stride: DefaultRegisterStride},
		Store:    StoreConfig{Path: DefaultStorePath},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML configuration. Fields left out keep their
// defaults; MQTT_* environment variables override the mqtt section.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigOrDefault is LoadConfig, except that a missing file yields the
// defaults.
func LoadConfigOrDefault(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		config = DefaultConfig()
		config.ApplyEnv()
		return config, config.Validate()
	}
	return config, err
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_TOPIC_PREFIX when set.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.MQTT.Broker, "MQTT_BROKER")
	override(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	override(&c.MQTT.Username, "MQTT_USERNAME")
	override(&c.MQTT.Password, "MQTT_PASSWORD")
	override(&c.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topicPrefix is required when mqtt.broker is set")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2 (got %d)", c.MQTT.QoS)
	}

	kind, err := ParseIndexKind(string(c.Engine.Index))
	if err != nil {
		return fmt.Errorf("engine.neighbors: %w", err)
	}
	c.Engine.Index = kind

	if c.Engine.Coarse < 0 || c.Engine.Fine < 0 {
		return fmt.Errorf("engine.coarse and engine.fine must be non-negative")
	}
	if c.Engine.Eps < 0 {
		return fmt.Errorf("engine.eps must be non-negative")
	}
	densities := []struct {
		name string
		n    int
	}{
		{"coarseRectPoints", c.Engine.CoarseRectPoints},
		{"coarseHousePoints", c.Engine.CoarseHousePoints},
		{"fineRectPoints", c.Engine.FineRectPoints},
		{"fineHousePoints", c.Engine.FineHousePoints},
	}
	for _, d := range densities {
		if d.n < 1 {
			return fmt.Errorf("engine.%s must be positive", d.name)
		}
	}
	if c.Workers.Workers < 1 {
		return fmt.Errorf("workers.count must be at least 1")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers.queue must be non-negative")
	}
	if c.Sampler.Stride < 1 {
		return fmt.Errorf("sampler.stride must be at least 1")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Defaults fills a missing eps from the engine options. Iteration counts are
// always explicit on the wire; Coarse and Fine only seed CLI flags.
func (o EngineOptions) Defaults(req *RegistrationRequest) {
	if req.Eps == nil {
		eps := o.Eps
		req.Eps = &eps
	}
}
