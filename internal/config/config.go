// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/runalyze-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/api/rhr", "/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Serve ServeCmd `kong:"cmd,default='1',help='Run the proxy server.'"`
	Sync  SyncCmd  `kong:"cmd,help='Fetch all Runalyze data into JSON snapshot files.'"`
}

// ServeCmd runs the HTTP proxy. It has no flags of its own.
type ServeCmd struct{}

// SyncCmd runs the snapshot fetcher once.
type SyncCmd struct {
	OutputDir      string `kong:"short='o',help='Directory for JSON snapshot files (overrides config).'"`
	SkipDetails    bool   `kong:"help='Skip fetching individual activity details (faster, less data).'"`
	ActivitiesOnly bool   `kong:"help='Only fetch activities, skip health metrics.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Sync     SyncConfig     `toml:"sync"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
	CORS         CORSConfig      `toml:"cors"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CORSConfig lists the dashboard origins allowed to call the proxy from a browser.
// An empty list disables the CORS middleware.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// UpstreamConfig holds Runalyze connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/runalyze-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Sync.OutputDir != "" {
		c.Sync.OutputDir = cli.Sync.OutputDir
	}
}

func (c *Config) validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return sc.validate()
		})),
		validation.Field(&c.Upstream, validation.By(func(value interface{}) error {
			uc, ok := value.(UpstreamConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
			}
			return validation.ValidateStruct(&uc,
				validation.Field(&uc.BaseURL, validation.Required, is.URL, validation.By(requireHTTPS)),
				validation.Field(&uc.TimeoutSeconds, validation.Min(0)),
				validation.Field(&uc.IdleConnections, validation.Min(0)),
			)
		})),
		validation.Field(&c.Log, validation.By(func(value interface{}) error {
			lc, ok := value.(LogConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LogConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level, validation.By(oneOf("debug", "info", "warn", "error"))),
				validation.Field(&lc.Format, validation.By(oneOf("json", "text"))),
			)
		})),
		validation.Field(&c.Metrics, validation.When(c.Metrics.Enabled, validation.By(func(value interface{}) error {
			mc, ok := value.(MetricsConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.Path, validation.By(validateMetricsPath)),
			)
		}))),
		validation.Field(&c.Sync, validation.By(func(value interface{}) error {
			sc, ok := value.(SyncConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a SyncConfig")
			}
			return sc.validate()
		})),
	)
}

func (s *ServerConfig) validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.BodyMaxBytes, validation.Min(0)),
		validation.Field(&s.RateLimit, validation.When(s.RateLimit.Enabled, validation.By(func(value interface{}) error {
			rl, ok := value.(RateLimitConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
			}
			return validation.ValidateStruct(&rl,
				validation.Field(&rl.RequestsPerSecond, validation.Required, validation.Min(0.0).Exclusive()),
			)
		}))),
		validation.Field(&s.CORS, validation.By(func(value interface{}) error {
			cc, ok := value.(CORSConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a CORSConfig")
			}
			return validation.ValidateStruct(&cc,
				validation.Field(&cc.AllowedOrigins, validation.Each(validation.By(validateOrigin))),
			)
		})),
	)
}

func requireHTTPS(value interface{}) error {
	raw, _ := value.(string)
	if u, err := url.Parse(raw); err == nil && u.Scheme != "https" {
		return validation.NewError("validation_https_required", "must use HTTPS")
	}
	return nil
}

// validateOrigin accepts "*" or a bare scheme://host[:port] origin.
func validateOrigin(value interface{}) error {
	origin, _ := value.(string)
	if origin == "*" {
		return nil
	}
	if o, err := url.Parse(origin); err != nil || o.Scheme == "" || o.Host == "" || (o.Path != "" && o.Path != "/") {
		return validation.NewError("validation_invalid_origin", fmt.Sprintf("%q is not an origin (scheme://host)", origin))
	}
	return nil
}

// validateMetricsPath rejects relative paths and paths that would shadow a proxy route.
// An empty path is filled in by setDefaults.
func validateMetricsPath(value interface{}) error {
	p, _ := value.(string)
	if p == "" {
		return nil
	}
	if p[0] != '/' {
		return validation.NewError("validation_metrics_path", "must start with '/'")
	}
	for _, reserved := range reservedRoutes {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return validation.NewError("validation_metrics_path", fmt.Sprintf("conflicts with reserved route %q", reserved))
		}
	}
	return nil
}

// oneOf matches case-insensitively; the empty string means "use the default".
func oneOf(allowed ...string) validation.RuleFunc {
	return func(value interface{}) error {
		v, _ := value.(string)
		if v == "" {
			return nil
		}
		for _, a := range allowed {
			if strings.EqualFold(v, a) {
				return nil
			}
		}
		return validation.NewError("validation_not_in", "must be one of: "+strings.Join(allowed, ", "))
	}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; the proxy consumes no request body
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	c.Sync.setDefaults()
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
