// Package config loads the application's YAML configuration and applies
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Smartcar   SmartcarConfig   `yaml:"smartcar"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Polling    PollingConfig    `yaml:"polling"`
	Vehicles   []VehicleConfig  `yaml:"vehicles"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SmartcarConfig holds upstream API access settings.
type SmartcarConfig struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
}

// WebhookConfig holds the webhook receiver settings. The application
// management token signs challenge responses and verifies payload signatures.
type WebhookConfig struct {
	ApplicationManagementToken string `yaml:"application_management_token"`
}

// PollingConfig controls the background poll loop.
type PollingConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// VehicleConfig describes one connected vehicle.
type VehicleConfig struct {
	ID            string   `yaml:"id"`
	VIN           string   `yaml:"vin"`
	Name          string   `yaml:"name"`
	GrantedScopes []string `yaml:"granted_scopes"`

	// AccessToken overrides smartcar.access_token for this vehicle.
	AccessToken string `yaml:"access_token"`

	// PushOnly suppresses polling; the vehicle is fed by webhooks alone.
	PushOnly bool `yaml:"push_only"`

	// EnabledEntities limits which entities exist for this vehicle. Empty
	// means every entity whose scopes are granted.
	EnabledEntities []string `yaml:"enabled_entities"`
}

// DatabaseConfig holds the database connection configuration. Driver is
// "sqlite" or "postgres"; when empty it is inferred from the DSN.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Smartcar.BaseURL == "" {
		cfg.Smartcar.BaseURL = "https://api.smartcar.com/v2.0"
	}

	// Vehicle data moves slowly; the upstream default is one poll every six
	// hours.
	if cfg.Polling.IntervalSeconds <= 0 {
		cfg.Polling.IntervalSeconds = 6 * 60 * 60
	}
	cfg.Polling.Interval = time.Duration(cfg.Polling.IntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	for i, v := range cfg.Vehicles {
		if v.ID == "" {
			return nil, fmt.Errorf("vehicles[%d]: id is required", i)
		}
		if v.VIN == "" {
			return nil, fmt.Errorf("vehicles[%d]: vin is required", i)
		}
		if v.AccessToken == "" && cfg.Smartcar.AccessToken == "" {
			return nil, fmt.Errorf("vehicles[%d]: no access token configured", i)
		}
	}

	return &cfg, nil
}
