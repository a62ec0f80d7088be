package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/internal/proximity"
	"github.com/danghamo/nearby/internal/sensor"
	"github.com/danghamo/nearby/internal/tracker"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Redis     RedisConfig         `mapstructure:"redis"`
	Auth      AuthConfig          `mapstructure:"auth"`
	CORS      CORSConfig          `mapstructure:"cors"`
	Log       LogConfig           `mapstructure:"log"`
	Geo       geo.SmoothingConfig `mapstructure:"geo"`
	Tracker   tracker.Config      `mapstructure:"tracker"`
	Proximity ProximityConfig     `mapstructure:"proximity"`
	Channel   channel.Config      `mapstructure:"channel"`
	Presence  PresenceConfig      `mapstructure:"presence"`
	Feed      FeedConfig          `mapstructure:"feed"`
	Sensor    SensorConfig        `mapstructure:"sensor"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Region    geo.Region          `mapstructure:"region"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Environment     string        `mapstructure:"environment"`
	HealthCheckPath string        `mapstructure:"health_check_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	PrivateDB bool   `mapstructure:"private_db"`
}

// AuthConfig holds the shared secret of the external auth service
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding"`
	FilePath    string `mapstructure:"file_path"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// ProximityConfig adds the catalog cache lifetime to the index settings
type ProximityConfig struct {
	proximity.Config `mapstructure:",squash"`
	CatalogTTL       time.Duration `mapstructure:"catalog_ttl"`
}

// PresenceConfig holds presence freshness settings
type PresenceConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
}

// FeedConfig selects the realtime message transport
type FeedConfig struct {
	Transport     string `mapstructure:"transport"` // redis, nats or memory
	NATSURL       string `mapstructure:"nats_url"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	TopicPrefix   string `mapstructure:"topic_prefix"`
}

// SensorConfig selects where location readings come from
type SensorConfig struct {
	Source            string `mapstructure:"source"` // push or mqtt
	sensor.MQTTConfig `mapstructure:",squash"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/nearby")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.private_db", false)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "dev-jwt-secret-change-in-production")
	v.SetDefault("auth.issuer", "")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	// Position smoothing defaults
	v.SetDefault("geo.reject_threshold_m", 10000.0)
	v.SetDefault("geo.dampen_threshold_m", 5000.0)
	v.SetDefault("geo.accuracy_trust_m", 100.0)
	v.SetDefault("geo.dampen_accuracy_m", 200.0)
	v.SetDefault("geo.dampen_previous_weight", 0.3)

	// Tracker defaults
	v.SetDefault("tracker.min_interval", "5s")
	v.SetDefault("tracker.high_accuracy", true)
	v.SetDefault("tracker.max_age", "10s")

	// Proximity defaults
	v.SetDefault("proximity.unlock_radius_m", 500.0)
	v.SetDefault("proximity.outer_radius_m", 10000.0)
	v.SetDefault("proximity.hysteresis_m", 1.0)
	v.SetDefault("proximity.grid_decimals", 3)
	v.SetDefault("proximity.cache_ttl", "5m")
	v.SetDefault("proximity.catalog_ttl", "1m")

	// Channel defaults
	v.SetDefault("channel.message_limit", 50)
	v.SetDefault("channel.base_delay", "1s")
	v.SetDefault("channel.max_delay", "30s")
	v.SetDefault("channel.max_attempts", 5)
	v.SetDefault("channel.max_queue", 100)

	// Presence defaults
	v.SetDefault("presence.freshness_window", "2m")

	// Feed defaults
	v.SetDefault("feed.transport", "redis")
	v.SetDefault("feed.nats_url", "nats://localhost:4222")
	v.SetDefault("feed.consumer_group", "nearby")
	v.SetDefault("feed.topic_prefix", "venue.")

	// Sensor defaults
	v.SetDefault("sensor.source", "push")
	v.SetDefault("sensor.mqtt_broker", "tcp://localhost:1883")
	v.SetDefault("sensor.mqtt_topic", "devices/%s/location")
	v.SetDefault("sensor.mqtt_client_id", "nearby")
	v.SetDefault("sensor.mqtt_connect_timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis url cannot be empty")
	}

	if len(cfg.Auth.JWTSecret) < 8 {
		return fmt.Errorf("JWT secret must be at least 8 characters long")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	validEncodings := []string{"json", "console"}
	if !contains(validEncodings, cfg.Log.Encoding) {
		return fmt.Errorf("invalid log encoding: %s", cfg.Log.Encoding)
	}

	// Geo
	if cfg.Geo.DampenThresholdMeters <= 0 || cfg.Geo.DampenThresholdMeters > cfg.Geo.RejectThresholdMeters {
		return fmt.Errorf("dampen threshold must be positive and not above the reject threshold")
	}
	if cfg.Geo.PreviousWeight < 0 || cfg.Geo.PreviousWeight > 1 {
		return fmt.Errorf("dampen previous weight must be between 0 and 1")
	}

	if cfg.Tracker.MinInterval <= 0 {
		return fmt.Errorf("tracker min interval must be positive")
	}

	// Proximity
	if cfg.Proximity.UnlockRadiusMeters <= 0 {
		return fmt.Errorf("unlock radius must be positive")
	}
	if cfg.Proximity.OuterRadiusMeters < cfg.Proximity.UnlockRadiusMeters {
		return fmt.Errorf("outer radius must be at least the unlock radius")
	}
	if cfg.Proximity.HysteresisMeters < 0 {
		return fmt.Errorf("hysteresis cannot be negative")
	}
	if cfg.Proximity.GridDecimals < 0 || cfg.Proximity.GridDecimals > 6 {
		return fmt.Errorf("grid decimals must be between 0 and 6")
	}

	// Channel
	if cfg.Channel.MessageLimit < 1 {
		return fmt.Errorf("channel message limit must be at least 1")
	}
	if cfg.Channel.BaseDelay <= 0 || cfg.Channel.MaxDelay < cfg.Channel.BaseDelay {
		return fmt.Errorf("channel backoff delays are invalid")
	}
	if cfg.Channel.MaxAttempts < 1 {
		return fmt.Errorf("channel max attempts must be at least 1")
	}

	if cfg.Presence.FreshnessWindow <= 0 {
		return fmt.Errorf("presence freshness window must be positive")
	}

	if !contains([]string{"redis", "nats", "memory"}, cfg.Feed.Transport) {
		return fmt.Errorf("invalid feed transport: %s", cfg.Feed.Transport)
	}
	if cfg.Feed.Transport == "nats" && cfg.Feed.NATSURL == "" {
		return fmt.Errorf("nats url cannot be empty")
	}

	if !contains([]string{"push", "mqtt"}, cfg.Sensor.Source) {
		return fmt.Errorf("invalid sensor source: %s", cfg.Sensor.Source)
	}
	if cfg.Sensor.Source == "mqtt" && cfg.Sensor.Broker == "" {
		return fmt.Errorf("mqtt broker cannot be empty")
	}

	return nil
}

// GetServerAddr returns the server address in host:port format
func (s *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if the environment is production
func (s *ServerConfig) IsProduction() bool {
	return strings.ToLower(s.Environment) == "production"
}

// IsDevelopment returns true if the environment is development
func (s *ServerConfig) IsDevelopment() bool {
	return strings.ToLower(s.Environment) == "development"
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
