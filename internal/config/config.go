package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/autosd/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTOSD_SERVER_LISTEN.
const EnvPrefix = "AUTOSD"

const DefaultStatePath = "/var/lib/autosd/scheduler-state.json"

// Config is the daemon configuration file.
type Config struct {
	StatePath string         `toml:"state_path" mapstructure:"state_path"`
	Log       logger.Config  `toml:"log" mapstructure:"log"`
	Server    ServerConfig   `toml:"server" mapstructure:"server"`
	Metrics   MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig  `toml:"history" mapstructure:"history"`
	Scan      ScanConfig     `toml:"scan" mapstructure:"scan"`
	Dispatch  DispatchConfig `toml:"dispatch" mapstructure:"dispatch"`

	// ConfigPath is the file the config was read from, empty for defaults.
	ConfigPath string `toml:"-" mapstructure:"-"`
}

type ServerConfig struct {
	Listen        string    `toml:"listen" mapstructure:"listen"`
	BasePath      string    `toml:"base_path" mapstructure:"base_path"`
	TLS           TLSConfig `toml:"tls" mapstructure:"tls"`
	TLSMinVersion string    `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string    `toml:"tls_max_version" mapstructure:"tls_max_version"`
}

// TLSConfig selects the server certificate. CertFile/KeyFile win over Dir;
// with AutoGenerate a self-signed pair is written to Dir when missing.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// HistoryConfig exports history events to an external sink. The DSN scheme
// picks the backend: sqlite://, postgres://, clickhouse://, opensearch://.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
	Buffer  int    `toml:"buffer" mapstructure:"buffer"`
}

type ScanConfig struct {
	Timeout      time.Duration `toml:"timeout" mapstructure:"timeout"`
	TickInterval time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`
}

type DispatchConfig struct {
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
	ForceSimulate bool          `toml:"force_simulate" mapstructure:"force_simulate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_path", DefaultStatePath)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9787")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.buffer", 256)

	v.SetDefault("scan.timeout", "10s")
	v.SetDefault("scan.tick_interval", "1s")

	v.SetDefault("dispatch.timeout", "30s")
	v.SetDefault("dispatch.force_simulate", false)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path (TOML) on top of the defaults and applies AUTOSD_*
// environment overrides. An empty path loads defaults and env only.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigPath = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StatePath) == "" {
		errs = append(errs, errors.New("state_path must not be empty"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Scan.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scan.timeout must be positive, got %s", c.Scan.Timeout))
	}
	if c.Scan.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan.tick_interval must be positive, got %s", c.Scan.TickInterval))
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout must be positive, got %s", c.Dispatch.Timeout))
	}
	if c.History.Enabled && c.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	if c.Server.TLS.Enabled && c.Server.TLS.Dir == "" && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file, or dir"))
	}
	switch c.Log.Format {
	case "", logger.FormatText, logger.FormatJSON, logger.FormatColor:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json, color", c.Log.Format))
	}
	return errors.Join(errs...)
}
