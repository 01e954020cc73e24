// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"

	"corsproxy-go/internal/allowlist"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/corsproxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and may not be shadowed by the metrics endpoint.
var reservedRoutes = []string{"/proxy", "/healthz", "/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	ListenPort int              `kong:"arg,optional,name='listen-port',help='Listen port as a positional argument (same as --port).'"`
	AllowHost  []string         `kong:"name='allow-host',help='Additional allowed upstream host (repeatable).',env='ALLOWED_HOSTS'"`
	LogLevel   string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version    kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8001); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	StaticDir    string `toml:"static_dir"`
}

// ProxyConfig controls which upstreams may be reached and how requests are shaped.
type ProxyConfig struct {
	AllowedHosts []string `toml:"allowed_hosts"`
	AllowedPorts []int    `toml:"allowed_ports"`
	UserAgent    string   `toml:"user_agent"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
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

// DefaultUserAgent is sent upstream when the caller supplies none; some
// upstreams reject empty or unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/corsproxy/config.toml then configs/config.toml.
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
// Hosts given on the command line extend the configured allowlist.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.ListenPort != 0 {
		c.Server.Port = cli.ListenPort
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	for _, h := range cli.AllowHost {
		if h = strings.TrimSpace(h); h != "" {
			c.Proxy.AllowedHosts = append(c.Proxy.AllowedHosts, h)
		}
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Allowlist: required, and every entry must be a bare hostname.
	if len(c.Proxy.AllowedHosts) == 0 {
		return fmt.Errorf("proxy.allowed_hosts must list at least one host")
	}
	if _, err := allowlist.New(c.Proxy.AllowedHosts, c.Proxy.AllowedPorts); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	if c.Server.StaticDir != "" {
		info, err := os.Stat(c.Server.StaticDir)
		if err != nil {
			return fmt.Errorf("server.static_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("server.static_dir %q is not a directory", c.Server.StaticDir)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "console", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text, console; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.UserAgent == "" {
		c.Proxy.UserAgent = DefaultUserAgent
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 20
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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

// NewPolicy builds the upstream allowlist from the proxy settings.
func (c *Config) NewPolicy() (*allowlist.Policy, error) {
	return allowlist.New(c.Proxy.AllowedHosts, c.Proxy.AllowedPorts)
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; the upstream allowlist could be altered",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
