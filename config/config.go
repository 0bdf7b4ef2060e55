// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"qsointel/pileup"
	"qsointel/spectral"
)

// Config represents the complete engine configuration.
type Config struct {
	Station     StationConfig     `yaml:"station"`
	WSJTX       WSJTXConfig       `yaml:"wsjtx"`
	PSKReporter PSKReporterConfig `yaml:"pskreporter"`
	Spectral    spectral.Config   `yaml:"spectral"`
	Pileup      pileup.Config     `yaml:"pileup"`
	Predict     PredictConfig     `yaml:"predict"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StationConfig identifies the operator.
type StationConfig struct {
	Callsign string `yaml:"callsign"`
	Grid     string `yaml:"grid"`
}

// WSJTXConfig contains the UDP listener settings.
type WSJTXConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PSKReporterConfig contains PSKReporter MQTT settings.
type PSKReporterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// PredictConfig contains predictor settings.
type PredictConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// DedupConfig contains decode deduplication settings.
type DedupConfig struct {
	Enabled       bool `yaml:"enabled"`
	WindowSeconds int  `yaml:"window_seconds"`
}

// StorageConfig contains paths and retention for the on-disk stores.
type StorageConfig struct {
	GridDBPath         string `yaml:"grid_db_path"`
	EventsDBPath       string `yaml:"events_db_path"`
	EventsDailyCap     int    `yaml:"events_daily_cap"`
	GridRetentionDays  int    `yaml:"grid_retention_days"`
	EventRetentionDays int    `yaml:"event_retention_days"`
}

// LoggingConfig contains logging settings. File logging is enabled by
// setting a directory.
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a configuration with every field at its tuned default.
// The station callsign has no default and must come from the file.
func Default() Config {
	return Config{
		WSJTX: WSJTXConfig{ListenAddr: "127.0.0.1:2237"},
		PSKReporter: PSKReporterConfig{
			Enabled: true,
			Broker:  "mqtt.pskreporter.info",
			Port:    1883,
			Topic:   "pskr/filter/v2/+/FT8/#",
		},
		Spectral: spectral.DefaultConfig(),
		Pileup:   pileup.DefaultConfig(),
		Predict: PredictConfig{
			CacheTTLSeconds: 30,
			CacheMaxEntries: 500,
		},
		Dedup: DedupConfig{
			Enabled:       true,
			WindowSeconds: 8,
		},
		Storage: StorageConfig{
			GridDBPath:         "data/grids",
			EventsDBPath:       "data/events.db",
			EventsDailyCap:     10000,
			GridRetentionDays:  90,
			EventRetentionDays: 365,
		},
		Logging: LoggingConfig{RetentionDays: 14},
	}
}

// Load reads and validates the YAML file at filename. Missing fields keep
// their defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks fields that have no sensible fallback.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Station.Callsign) == "" {
		return fmt.Errorf("config: station.callsign is required")
	}
	if strings.TrimSpace(c.WSJTX.ListenAddr) == "" {
		return fmt.Errorf("config: wsjtx.listen_addr is required")
	}
	if c.PSKReporter.Enabled {
		if strings.TrimSpace(c.PSKReporter.Broker) == "" {
			return fmt.Errorf("config: pskreporter.broker is required when enabled")
		}
		if c.PSKReporter.Port <= 0 || c.PSKReporter.Port > 65535 {
			return fmt.Errorf("config: pskreporter.port %d out of range", c.PSKReporter.Port)
		}
	}
	return nil
}

// Print displays the effective configuration at startup.
func (c *Config) Print() {
	fmt.Printf("Station: %s (%s)\n", strings.ToUpper(c.Station.Callsign), c.Station.Grid)
	fmt.Printf("WSJT-X UDP: %s\n", c.WSJTX.ListenAddr)
	if c.PSKReporter.Enabled {
		fmt.Printf("PSKReporter: %s:%d (topic: %s)\n", c.PSKReporter.Broker, c.PSKReporter.Port, c.PSKReporter.Topic)
	}
	if c.Dedup.Enabled {
		fmt.Printf("Dedup: window=%ds\n", c.Dedup.WindowSeconds)
	}
	fmt.Printf("Storage: grids=%s events=%s\n", c.Storage.GridDBPath, c.Storage.EventsDBPath)
}
