package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the root configuration of the service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Violation ViolationConfig `mapstructure:"violation"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	OpenCV    OpenCVConfig    `mapstructure:"opencv"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	DataDir        string   `mapstructure:"data_dir"`
	Timezone       string   `mapstructure:"timezone"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SessionSecret  string   `mapstructure:"session_secret"`
}

// LogConfig holds the logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds the evidence store settings
type DBConfig struct {
	File          string        `mapstructure:"file"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// EngineConfig holds the debounce and stream settings
type EngineConfig struct {
	// SustainDuration is how long a condition must hold before evidence is captured
	SustainDuration time.Duration `mapstructure:"sustain_duration"`
	InsertTimeout   time.Duration `mapstructure:"insert_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
}

// ViolationConfig selects which detector labels count as violations
type ViolationConfig struct {
	Prefixes []string `mapstructure:"prefixes"`
	Labels   []string `mapstructure:"labels"`
}

// DetectorConfig holds the detector-side confidence thresholds per model
type DetectorConfig struct {
	DefaultModel string             `mapstructure:"default_model"`
	Thresholds   map[string]float64 `mapstructure:"thresholds"`
}

// OpenCVConfig holds the rendering and encoding settings
type OpenCVConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	JPEGQuality int  `mapstructure:"jpeg_quality"`
}

// MQTTConfig holds the MQTT client settings
type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	DetectionsTopic string `mapstructure:"detections_topic"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	PublishAlerts   bool   `mapstructure:"publish_alerts"`
	// HomeAssistant enables MQTT discovery of the per-camera sensors
	HomeAssistant bool `mapstructure:"homeassistant_discovery"`
}

// CleanupConfig holds the evidence retention settings
type CleanupConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

// I18nConfig holds the language used for overlay texts and API messages
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// Load reads the configuration from file, environment and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PPE_SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Engine.SustainDuration < 0 {
		return fmt.Errorf("engine.sustain_duration must not be negative, got %s", c.Engine.SustainDuration)
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive, got %d", c.Engine.QueueSize)
	}
	if len(c.Violation.Prefixes) == 0 && len(c.Violation.Labels) == 0 {
		return fmt.Errorf("violation: at least one prefix or label is required")
	}
	for model, threshold := range c.Detector.Thresholds {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("detector.thresholds.%s must be within [0,1], got %v", model, threshold)
		}
	}
	if c.OpenCV.JPEGQuality < 1 || c.OpenCV.JPEGQuality > 100 {
		return fmt.Errorf("opencv.jpeg_quality must be within [1,100], got %d", c.OpenCV.JPEGQuality)
	}
	return nil
}

// setDefaults registers the default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.session_secret", "ppe-sentinel")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/ppe-sentinel.log")

	v.SetDefault("db.file", "/data/isg_database.db")
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.slow_threshold", 2*time.Second)

	v.SetDefault("engine.sustain_duration", 5*time.Second)
	v.SetDefault("engine.insert_timeout", 10*time.Second)
	v.SetDefault("engine.queue_size", 32)
	v.SetDefault("engine.submit_timeout", time.Second)

	v.SetDefault("violation.prefixes", []string{"NO-"})
	v.SetDefault("violation.labels", []string{})

	v.SetDefault("detector.default_model", "hardhat")
	v.SetDefault("detector.thresholds", map[string]float64{
		"hardhat": 0.45,
		"boot":    0.50,
	})

	v.SetDefault("opencv.enabled", true)
	v.SetDefault("opencv.jpeg_quality", 95)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "ppe-sentinel")
	v.SetDefault("mqtt.detections_topic", "ppe/+/detections")
	v.SetDefault("mqtt.topic_prefix", "ppe-sentinel")
	v.SetDefault("mqtt.publish_alerts", true)
	v.SetDefault("mqtt.homeassistant_discovery", true)

	v.SetDefault("cleanup.retention_days", 0)
	v.SetDefault("cleanup.interval", 24*time.Hour)

	v.SetDefault("i18n.default_language", "en")
}

// ensureDirectories creates the data, log and database directories
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
