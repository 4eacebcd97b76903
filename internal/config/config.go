package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStreamAPIBase is used when neither the config file nor
// AWARECAM_STREAM_API_BASE provide an upstream base URL.
const DefaultStreamAPIBase = "https://api.awarecam.com"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// UpstreamConfig describes the stream transcoding provider.
type UpstreamConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Email              string        `yaml:"email"`
	Password           string        `yaml:"password"`
	CallbackURL        string        `yaml:"callback_url"`
	CallbackToken      string        `yaml:"callback_token"`
	PlaybackTTLSeconds int           `yaml:"playback_ttl_seconds"`
	LowLatency         *bool         `yaml:"low_latency"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// UseLowLatency reports the low_latency flag sent on stream start (default true).
func (u UpstreamConfig) UseLowLatency() bool {
	return u.LowLatency == nil || *u.LowLatency
}

// ProxyConfig configures the HLS proxy. Username/Password override the
// upstream operator credentials injected into manifest URLs.
type ProxyConfig struct {
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	UserAgent       string        `yaml:"user_agent"`
	ManifestTimeout time.Duration `yaml:"manifest_timeout"`
	SegmentTimeout  time.Duration `yaml:"segment_timeout"`
	MaxManifestSize int64         `yaml:"max_manifest_size"`
}

type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Schedule        string        `yaml:"schedule"`
	StopSettle      time.Duration `yaml:"stop_settle"`
	ProbeDelay      time.Duration `yaml:"probe_delay"`
	ProbeBaseURL    string        `yaml:"probe_base_url"`
	ReportRetention int           `yaml:"report_retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultStreamAPIBase
	}
	if cfg.Upstream.PlaybackTTLSeconds == 0 {
		cfg.Upstream.PlaybackTTLSeconds = 3600
	}
	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = 15 * time.Second
	}
	if cfg.Proxy.Username == "" && cfg.Proxy.Password == "" {
		cfg.Proxy.Username = cfg.Upstream.Email
		cfg.Proxy.Password = cfg.Upstream.Password
	}
	if cfg.Proxy.UserAgent == "" {
		cfg.Proxy.UserAgent = "streamcore-hls-proxy/1.0"
	}
	if cfg.Proxy.ManifestTimeout == 0 {
		cfg.Proxy.ManifestTimeout = 15 * time.Second
	}
	if cfg.Proxy.SegmentTimeout == 0 {
		cfg.Proxy.SegmentTimeout = 60 * time.Second
	}
	if cfg.Proxy.MaxManifestSize == 0 {
		cfg.Proxy.MaxManifestSize = 2 * 1024 * 1024
	}
	if cfg.Monitor.Schedule == "" {
		cfg.Monitor.Schedule = "@every 5m"
	}
	if cfg.Monitor.StopSettle == 0 {
		cfg.Monitor.StopSettle = 3 * time.Second
	}
	if cfg.Monitor.ProbeDelay == 0 {
		cfg.Monitor.ProbeDelay = 10 * time.Second
	}
	if cfg.Monitor.ReportRetention == 0 {
		cfg.Monitor.ReportRetention = 500
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STREAMCORE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STREAMCORE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("STREAMCORE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("STREAMCORE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("STREAMCORE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("STREAMCORE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("STREAMCORE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("STREAMCORE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("STREAMCORE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("STREAMCORE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("STREAMCORE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("STREAMCORE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("STREAMCORE_CALLBACK_TOKEN"); v != "" {
		cfg.Upstream.CallbackToken = v
	}
	if v := os.Getenv("STREAMCORE_MONITOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Monitor.Enabled = b
		}
	}
	if v := os.Getenv("STREAMCORE_PROBE_BASE_URL"); v != "" {
		cfg.Monitor.ProbeBaseURL = v
	}

	// Provider settings keep their historical names.
	if v := os.Getenv("DROPLET_EMAIL"); v != "" {
		cfg.Upstream.Email = v
	}
	if v := os.Getenv("DROPLET_PASSWORD"); v != "" {
		cfg.Upstream.Password = v
	}
	if v := os.Getenv("AWARECAM_STREAM_API_BASE"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("AWARECAM_CALLBACK_URL"); v != "" {
		cfg.Upstream.CallbackURL = v
	}
}
