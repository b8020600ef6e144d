package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AWS      AWSConfig      `yaml:"aws"`
	APNS     APNSConfig     `yaml:"apns"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Command  CommandConfig  `yaml:"command"`
	Pairing  PairingConfig  `yaml:"pairing"`
	Presence PresenceConfig `yaml:"presence"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// AWSConfig holds object-storage configuration for large download payloads
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"` // custom endpoint for S3-compatible stores
}

// APNSConfig holds the push credentials used to wake an offline agent
type APNSConfig struct {
	CertFile     string `yaml:"cert_file"` // .p12 bundle
	CertPassword string `yaml:"cert_password"`
	Topic        string `yaml:"topic"`
	Production   bool   `yaml:"production"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// CommandConfig holds command-channel tuning
type CommandConfig struct {
	TimeoutSeconds    int `yaml:"timeout_seconds"`     // await deadline, default 30
	OffloadBytes      int `yaml:"offload_bytes"`       // download payloads above this go to S3
	OffloadURLMinutes int `yaml:"offload_url_minutes"` // presigned URL lifetime
}

// PairingConfig holds pairing-code tuning
type PairingConfig struct {
	CodeTTLMinutes int `yaml:"code_ttl_minutes"` // default 10
}

// PresenceConfig holds presence classification tuning
type PresenceConfig struct {
	OnlineWindowSeconds int `yaml:"online_window_seconds"` // default 60
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Command.TimeoutSeconds <= 0 {
		c.Command.TimeoutSeconds = 30
	}
	if c.Command.OffloadBytes <= 0 {
		c.Command.OffloadBytes = 512 * 1024
	}
	if c.Command.OffloadURLMinutes <= 0 {
		c.Command.OffloadURLMinutes = 15
	}
	if c.Pairing.CodeTTLMinutes <= 0 {
		c.Pairing.CodeTTLMinutes = 10
	}
	if c.Presence.OnlineWindowSeconds <= 0 {
		c.Presence.OnlineWindowSeconds = 60
	}
}

// CommandTimeout returns the await deadline as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Command.TimeoutSeconds) * time.Second
}

// PairCodeTTL returns the pairing-code lifetime as a duration.
func (c *Config) PairCodeTTL() time.Duration {
	return time.Duration(c.Pairing.CodeTTLMinutes) * time.Minute
}

// OnlineWindow returns the presence staleness threshold as a duration.
func (c *Config) OnlineWindow() time.Duration {
	return time.Duration(c.Presence.OnlineWindowSeconds) * time.Second
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
