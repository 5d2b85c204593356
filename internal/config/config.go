// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"

	"relay-proxy-go/internal/rewrite"
	"relay-proxy-go/internal/target"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/relay-proxy/config.toml",
	"configs/config.toml",
}

// reservedPaths are served by the proxy itself.
var reservedPaths = []string{"/healthz", "/proxy/status"}

// DefaultTimeoutMS is the upstream timeout for routes that set none.
const DefaultTimeoutMS = 3000

// DefaultMetricsPath serves metrics when metrics.path is unset.
const DefaultMetricsPath = "/metrics"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version  kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Routes  []RouteConfig `toml:"routes"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RouteConfig maps an inbound route pattern to one upstream.
type RouteConfig struct {
	Path      string   `toml:"path"`
	Methods   []string `toml:"methods"`
	To        string   `toml:"to"`
	At        string   `toml:"at"`
	TimeoutMS int      `toml:"timeout_ms"`

	// RawBefore and RawAfter accept a hook name, a hook table, or an array
	// of either. They are normalized into Before and After by Load.
	RawBefore any `toml:"before"`
	RawAfter  any `toml:"after"`

	Before []HookConfig `toml:"-"`
	After  []HookConfig `toml:"-"`
}

// HookConfig selects a named hook.
type HookConfig struct {
	Name    string            `toml:"name"`
	Headers map[string]string `toml:"headers"`
	Names   []string          `toml:"names"`
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
// /etc/relay-proxy/config.toml then configs/config.toml.
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

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// Parse decodes TOML data and normalizes the hook lists of every route.
// It does not validate or apply defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		var err error
		if r.Before, err = parseHookList(r.RawBefore); err != nil {
			return nil, fmt.Errorf("routes[%d].before: %w", i, err)
		}
		if r.After, err = parseHookList(r.RawAfter); err != nil {
			return nil, fmt.Errorf("routes[%d].after: %w", i, err)
		}
	}
	return &cfg, nil
}

// parseHookList accepts a single hook or an array of hooks. A hook is either
// its name or a table with a name key.
func parseHookList(raw any) ([]HookConfig, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]HookConfig, 0, len(v))
		for i, item := range v {
			h, err := parseHook(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, h)
		}
		return out, nil
	default:
		h, err := parseHook(v)
		if err != nil {
			return nil, err
		}
		return []HookConfig{h}, nil
	}
}

func parseHook(raw any) (HookConfig, error) {
	switch v := raw.(type) {
	case string:
		return HookConfig{Name: v}, nil
	case map[string]any:
		// Round-trip through TOML to reuse the struct tags.
		b, err := toml.Marshal(v)
		if err != nil {
			return HookConfig{}, err
		}
		var h HookConfig
		if err := toml.Unmarshal(b, &h); err != nil {
			return HookConfig{}, err
		}
		return h, nil
	default:
		return HookConfig{}, fmt.Errorf("hook must be a name or a table; got %T", raw)
	}
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
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
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
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one [[routes]] entry is required")
	}
	seen := make(map[string]bool)
	for i := range c.Routes {
		if err := c.Routes[i].validate(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		for _, key := range c.Routes[i].keys() {
			if seen[key] {
				return fmt.Errorf("routes[%d]: duplicate route %s", i, key)
			}
			seen[key] = true
		}
	}

	// Metrics path validation (only when metrics are enabled). An unset
	// path is checked as the default it will become.
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" {
			p = DefaultMetricsPath
		}
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := append([]string(nil), reservedPaths...)
		for _, r := range c.Routes {
			reserved = append(reserved, r.Path)
		}
		for _, r := range reserved {
			if p == r {
				return fmt.Errorf("metrics.path %q conflicts with route %q", p, r)
			}
		}
	}

	return nil
}

func (r *RouteConfig) validate() error {
	if r.Path == "" || r.Path[0] != '/' {
		return fmt.Errorf("path must start with '/'; got %q", r.Path)
	}
	for _, p := range reservedPaths {
		if r.Path == p {
			return fmt.Errorf("path %q is reserved", r.Path)
		}
	}
	if _, err := target.Parse(r.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	if r.At != "" {
		if _, err := rewrite.Compile(r.At); err != nil {
			return fmt.Errorf("at: %w", err)
		}
	}
	if r.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms must be non-negative; got %d", r.TimeoutMS)
	}
	for _, m := range r.Methods {
		if !knownMethods[strings.ToUpper(m)] {
			return fmt.Errorf("unsupported method %q", m)
		}
	}
	for _, h := range append(append([]HookConfig(nil), r.Before...), r.After...) {
		if h.Name == "" {
			return fmt.Errorf("hook without a name")
		}
	}
	return nil
}

// keys identifies the method/path pairs claimed by the route.
func (r *RouteConfig) keys() []string {
	if len(r.Methods) == 0 {
		return []string{"* " + r.Path}
	}
	out := make([]string, 0, len(r.Methods))
	for _, m := range r.Methods {
		out = append(out, strings.ToUpper(m)+" "+r.Path)
	}
	return out
}

var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.TimeoutMS == 0 {
			r.TimeoutMS = DefaultTimeoutMS
		}
		for j, m := range r.Methods {
			r.Methods[j] = strings.ToUpper(m)
		}
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

// WarnPermissions logs a warning if the config file is readable by group or others.
// Hook headers may carry upstream credentials.
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
