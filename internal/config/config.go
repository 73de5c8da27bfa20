// Package config loads and validates the motiond configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration. Both binaries
// read the same file: the agent uses the agent section, the collector the
// collector and storage sections.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Collector CollectorConfig `mapstructure:"collector"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AgentConfig holds the device-side pipeline configuration.
type AgentConfig struct {
	DeviceID       string           `mapstructure:"device_id"`
	SampleInterval time.Duration    `mapstructure:"sample_interval"`
	Location       LocationConfig   `mapstructure:"location"`
	Detector       DetectorConfig   `mapstructure:"detector"`
	Dispatcher     DispatcherConfig `mapstructure:"dispatcher"`
}

// LocationConfig is the static fix attached to anomaly events.
type LocationConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// DetectorConfig holds the anomaly state machine configuration.
type DetectorConfig struct {
	AnomalyThreshold     float64       `mapstructure:"anomaly_threshold"`
	CooldownDuration     time.Duration `mapstructure:"cooldown_duration"`
	EmitNormalEvents     bool          `mapstructure:"emit_normal_events"`
	PersistCooldownState bool          `mapstructure:"persist_cooldown_state"`
	StatePath            string        `mapstructure:"state_path"`
}

// DispatcherConfig holds delivery and retry configuration.
type DispatcherConfig struct {
	Transport    string        `mapstructure:"transport"` // "http" or "mqtt"
	CollectorURL string        `mapstructure:"collector_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	QueueSize    int           `mapstructure:"queue_size"`
	MQTT         MQTTConfig    `mapstructure:"mqtt"`
}

// MQTTConfig holds the broker transport configuration.
type MQTTConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	Topic     string `mapstructure:"topic"`
	ClientID  string `mapstructure:"client_id"`
}

// CollectorConfig holds the ingestion server configuration.
type CollectorConfig struct {
	ListenAddr string      `mapstructure:"listen_addr"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig holds the optional broker ingest source configuration.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("MOTIOND")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Cooldown duration has no default on purpose: it is required configuration.
func setDefaults(v *viper.Viper) {
	// Agent defaults
	v.SetDefault("agent.device_id", "")
	v.SetDefault("agent.sample_interval", "500ms")
	v.SetDefault("agent.detector.anomaly_threshold", 2.5)
	v.SetDefault("agent.detector.emit_normal_events", false)
	v.SetDefault("agent.detector.persist_cooldown_state", false)
	v.SetDefault("agent.detector.state_path", "./data/agent-state.db")
	v.SetDefault("agent.dispatcher.transport", "http")
	v.SetDefault("agent.dispatcher.timeout", "10s")
	v.SetDefault("agent.dispatcher.max_attempts", 5)
	v.SetDefault("agent.dispatcher.backoff_base", "100ms")
	v.SetDefault("agent.dispatcher.backoff_max", "30s")
	v.SetDefault("agent.dispatcher.queue_size", 256)
	v.SetDefault("agent.dispatcher.mqtt.topic", "telemetry/motion")
	v.SetDefault("agent.dispatcher.mqtt.client_id", "motion-agent")

	// Collector defaults
	v.SetDefault("collector.listen_addr", ":8080")
	v.SetDefault("collector.kafka.enabled", false)
	v.SetDefault("collector.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("collector.kafka.topic", "motion-telemetry")
	v.SetDefault("collector.kafka.group_id", "motiond")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/motiond.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// ValidateAgent checks the agent-side configuration values.
func (c *Config) ValidateAgent() error {
	if c.Agent.DeviceID == "" {
		return fmt.Errorf("agent.device_id is required")
	}
	if c.Agent.SampleInterval <= 0 {
		return fmt.Errorf("agent.sample_interval must be positive")
	}
	if c.Agent.Detector.AnomalyThreshold <= 0 {
		return fmt.Errorf("agent.detector.anomaly_threshold must be positive")
	}
	if c.Agent.Detector.CooldownDuration <= 0 {
		return fmt.Errorf("agent.detector.cooldown_duration is required and must be positive")
	}
	if c.Agent.Detector.PersistCooldownState && c.Agent.Detector.StatePath == "" {
		return fmt.Errorf("agent.detector.state_path is required when persist_cooldown_state is enabled")
	}

	d := c.Agent.Dispatcher
	switch d.Transport {
	case "http":
		if d.CollectorURL == "" {
			return fmt.Errorf("agent.dispatcher.collector_url is required for the http transport")
		}
	case "mqtt":
		if d.MQTT.BrokerURL == "" {
			return fmt.Errorf("agent.dispatcher.mqtt.broker_url is required for the mqtt transport")
		}
		if d.MQTT.Topic == "" {
			return fmt.Errorf("agent.dispatcher.mqtt.topic is required for the mqtt transport")
		}
	default:
		return fmt.Errorf("agent.dispatcher.transport must be one of: http, mqtt")
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("agent.dispatcher.max_attempts must be at least 1")
	}
	if d.BackoffBase <= 0 {
		return fmt.Errorf("agent.dispatcher.backoff_base must be positive")
	}
	if d.BackoffMax < d.BackoffBase {
		return fmt.Errorf("agent.dispatcher.backoff_max must be >= backoff_base")
	}
	if d.QueueSize < 1 {
		return fmt.Errorf("agent.dispatcher.queue_size must be at least 1")
	}

	return c.validateLogging()
}

// ValidateCollector checks the collector-side configuration values.
func (c *Config) ValidateCollector() error {
	if c.Collector.ListenAddr == "" {
		return fmt.Errorf("collector.listen_addr is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Collector.Kafka.Enabled {
		if len(c.Collector.Kafka.Brokers) == 0 {
			return fmt.Errorf("collector.kafka.brokers must contain at least one broker")
		}
		if c.Collector.Kafka.Topic == "" {
			return fmt.Errorf("collector.kafka.topic is required when kafka is enabled")
		}
		if c.Collector.Kafka.GroupID == "" {
			return fmt.Errorf("collector.kafka.group_id is required when kafka is enabled")
		}
	}
	return c.validateLogging()
}

func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
