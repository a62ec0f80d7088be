package config

import (
	"fmt"

	"github.com/danghamo/nearby/pkg/logger"
)

// Initialize loads configuration and sets up global logger
func Initialize() (*Config, *logger.Logger, error) {
	cfg, err := Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.Log.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.SetGlobalLogger(appLogger)

	fields := map[string]interface{}{
		"environment":   cfg.Server.Environment,
		"server_port":   cfg.Server.Port,
		"feed":          cfg.Feed.Transport,
		"sensor":        cfg.Sensor.Source,
		"unlock_radius": cfg.Proximity.UnlockRadiusMeters,
		"log_level":     cfg.Log.Level,
		"log_file":      cfg.Log.FilePath,
	}
	appLogger.WithFields(fields).Info("Configuration and logger initialized successfully")

	return cfg, appLogger, nil
}

// MustInitialize is like Initialize but panics on error
func MustInitialize() (*Config, *logger.Logger) {
	cfg, appLogger, err := Initialize()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize application: %v", err))
	}
	return cfg, appLogger
}

// LoggerConfig converts the log section into logger settings
func (l LogConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       logger.ParseLevel(l.Level),
		Environment: l.Environment,
		Encoding:    l.Encoding,
		FilePath:    l.FilePath,
		MaxSizeMB:   l.MaxSizeMB,
		MaxBackups:  l.MaxBackups,
		MaxAgeDays:  l.MaxAgeDays,
	}
}
