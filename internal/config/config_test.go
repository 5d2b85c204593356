package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"relay-proxy-go/internal/target"
)

// minimalRoute is a valid single-route table appended to test configs.
const minimalRoute = `
[[routes]]
path = "/api/*"
to = "localhost:4000"
`

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[log]
level = "debug"
format = "text"

[[routes]]
path = "/api/users/:id"
methods = ["get", "POST"]
to = "https://users.svc:8080/"
at = "/users/:id"
timeout_ms = 1500
before = ["forwarded", { name = "set_request_headers", headers = { "X-Env" = "prod" } }]
after = { name = "remove_response_headers", names = ["Server"] }

[[routes]]
path = "/orders"
to = "localhost:4000"
after = "set_response_headers"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("len(Routes) = %d, want 2", len(cfg.Routes))
	}

	r := cfg.Routes[0]
	if r.To != "https://users.svc:8080/" || r.At != "/users/:id" || r.TimeoutMS != 1500 {
		t.Errorf("route 0 = %+v", r)
	}
	if strings.Join(r.Methods, ",") != "GET,POST" {
		t.Errorf("Methods = %v, want [GET POST]", r.Methods)
	}
	if len(r.Before) != 2 || r.Before[0].Name != "forwarded" || r.Before[1].Name != "set_request_headers" {
		t.Fatalf("Before = %+v", r.Before)
	}
	if r.Before[1].Headers["X-Env"] != "prod" {
		t.Errorf("Before[1].Headers = %v", r.Before[1].Headers)
	}
	if len(r.After) != 1 || r.After[0].Name != "remove_response_headers" || len(r.After[0].Names) != 1 {
		t.Errorf("After = %+v, want one remove_response_headers hook", r.After)
	}

	r = cfg.Routes[1]
	if r.TimeoutMS != DefaultTimeoutMS {
		t.Errorf("default TimeoutMS = %d, want %d", r.TimeoutMS, DefaultTimeoutMS)
	}
	if len(r.After) != 1 || r.After[0].Name != "set_response_headers" {
		t.Errorf("single string hook: After = %+v", r.After)
	}
	if len(r.Before) != 0 {
		t.Errorf("Before = %+v, want empty", r.Before)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalRoute)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`+minimalRoute)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"invalid log level", "[log]\nlevel = \"verbose\"\n" + minimalRoute, "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n" + minimalRoute, "log.format"},
		{"negative port", "[server]\nport = -1\n" + minimalRoute, "server.port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n" + minimalRoute, "body_max_bytes"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n" + minimalRoute, "requests_per_second"},
		{"no routes", "[log]\nlevel = \"info\"\n", "routes"},
		{"route without leading slash", "[[routes]]\npath = \"api\"\nto = \"h\"\n", "path"},
		{"reserved route", "[[routes]]\npath = \"/healthz\"\nto = \"h\"\n", "reserved"},
		{"empty to", "[[routes]]\npath = \"/a\"\nto = \"\"\n", "to"},
		{"bad port in to", "[[routes]]\npath = \"/a\"\nto = \"h:http\"\n", "to"},
		{"malformed at", "[[routes]]\npath = \"/a\"\nto = \"h\"\nat = \"/users/:\"\n", "at"},
		{"negative timeout", "[[routes]]\npath = \"/a\"\nto = \"h\"\ntimeout_ms = -5\n", "timeout_ms"},
		{"unknown method", "[[routes]]\npath = \"/a\"\nto = \"h\"\nmethods = [\"BREW\"]\n", "method"},
		{"hook without name", "[[routes]]\npath = \"/a\"\nto = \"h\"\nbefore = [{ headers = { a = \"b\" } }]\n", "hook"},
		{"hook of wrong type", "[[routes]]\npath = \"/a\"\nto = \"h\"\nbefore = 5\n", "before"},
		{"duplicate route", "[[routes]]\npath = \"/a\"\nto = \"h\"\nmethods = [\"GET\"]\n[[routes]]\npath = \"/a\"\nto = \"h\"\nmethods = [\"get\"]\n", "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidTargetIsClassified(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[[routes]]\npath = \"/a\"\nto = \"https://\"\n")))
	if !errors.Is(err, target.ErrInvalidTarget) {
		t.Errorf("error = %v, want ErrInvalidTarget", err)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`+minimalRoute)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, minimalRoute)

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, minimalRoute)
	path2 := writeConfig(t, minimalRoute)

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`+minimalRoute)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"configured route", "/api/*"},
		{"healthz", "/healthz"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`+minimalRoute)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_DefaultMetricsPathConflictsWithRoute(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true

[[routes]]
path = "/metrics"
to = "localhost:4000"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for route at the default metrics path, got nil")
	}
	if !strings.Contains(err.Error(), "conflicts") {
		t.Errorf("error = %q, want mention of conflict", err)
	}
}

func TestLoad_DefaultMetricsPathDisabled(t *testing.T) {
	path := writeConfig(t, `
[[routes]]
path = "/metrics"
to = "localhost:4000"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; a /metrics route is fine when metrics are disabled", err)
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`+minimalRoute)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
