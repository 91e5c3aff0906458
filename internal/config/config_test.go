package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 4096

[server.cors]
allowed_origins = ["https://dashboard.example.org"]

[upstream]
base_url = "https://runalyze.com"
timeout_seconds = 60
idle_connections = 5

[log]
level = "debug"
format = "text"

[sync]
output_dir = "snapshots"
request_interval_ms = 250
max_retries = 5
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
	if len(cfg.Server.CORS.AllowedOrigins) != 1 || cfg.Server.CORS.AllowedOrigins[0] != "https://dashboard.example.org" {
		t.Errorf("Server.CORS.AllowedOrigins = %v", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Sync.OutputDir != "snapshots" {
		t.Errorf("Sync.OutputDir = %q, want %q", cfg.Sync.OutputDir, "snapshots")
	}
	if got := cfg.Sync.RequestInterval(); got != 250*time.Millisecond {
		t.Errorf("Sync.RequestInterval() = %v, want 250ms", got)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("Sync.MaxRetries = %d, want 5", cfg.Sync.MaxRetries)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[log]
format = "xml"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1024*1024)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	sync := cfg.Sync
	if sync.OutputDir != "data" {
		t.Errorf("default Sync.OutputDir = %q, want %q", sync.OutputDir, "data")
	}
	if sync.RequestInterval() != 1500*time.Millisecond {
		t.Errorf("default Sync.RequestInterval() = %v, want 1.5s", sync.RequestInterval())
	}
	if sync.MaxRetries != 3 {
		t.Errorf("default Sync.MaxRetries = %d, want 3", sync.MaxRetries)
	}
	if sync.RetryWait() != time.Minute {
		t.Errorf("default Sync.RetryWait() = %v, want 1m", sync.RetryWait())
	}
	if sync.TimeoutWait() != 5*time.Second {
		t.Errorf("default Sync.TimeoutWait() = %v, want 5s", sync.TimeoutWait())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[upstream\nbase_url = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "https://runalyze.com"

[log]
level = "info"

[sync]
output_dir = "data"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		LogLevel: "debug",
		Sync:     SyncCmd{OutputDir: "/tmp/out"},
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
	if cfg.Sync.OutputDir != "/tmp/out" {
		t.Errorf("Sync.OutputDir = %q, want %q (CLI override)", cfg.Sync.OutputDir, "/tmp/out")
	}
}

func TestLoad_UpstreamValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing base_url", "[upstream]\ntimeout_seconds = 5\n"},
		{"not a url", "[upstream]\nbase_url = \"runalyze\"\n"},
		{"http scheme", "[upstream]\nbase_url = \"http://runalyze.com\"\n"},
		{"negative timeout", "[upstream]\nbase_url = \"https://runalyze.com\"\ntimeout_seconds = -5\n"},
		{"negative idle connections", "[upstream]\nbase_url = \"https://runalyze.com\"\nidle_connections = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
		})
	}
}

func TestLoad_ServerValidation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "Port"},
		{"port too large", "[server]\nport = 70000\n", "Port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n", "BodyMaxBytes"},
		{"bad cors origin", "[server.cors]\nallowed_origins = [\"dashboard\"]\n", "AllowedOrigins"},
		{"cors origin with path", "[server.cors]\nallowed_origins = [\"https://example.org/app\"]\n", "AllowedOrigins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data + "\n[upstream]\nbase_url = \"https://runalyze.com\"\n"
			_, err := Load(cliWithPath(writeConfig(t, data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_CORSWildcardAllowed(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[server.cors]
allowed_origins = ["*"]
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[server.rate_limit]
enabled = true
requests_per_second = 2.5
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 2.5", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "RequestsPerSecond") {
		t.Errorf("error = %q, want mention of RequestsPerSecond", err)
	}
}

func TestLoad_SyncValidation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative interval", "request_interval_ms = -1", "RequestIntervalMS"},
		{"too many retries", "max_retries = 50", "MaxRetries"},
		{"negative retry wait", "retry_wait_seconds = -10", "RetryWaitSeconds"},
		{"root output dir", `output_dir = "/"`, "OutputDir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := "[upstream]\nbase_url = \"https://runalyze.com\"\n\n[sync]\n" + tt.data + "\n"
			_, err := Load(cliWithPath(writeConfig(t, data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), "Sync") || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of sync and %q", err, tt.wantErr)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

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
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[upstream]\nbase_url = \"https://runalyze.com\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"first match wins", []string{path1, path2}, path1},
		{"skips missing", []string{"/nonexistent/a.toml", path2}, path2},
		{"none found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "must start with '/'") {
		t.Errorf("error = %q, want leading slash complaint", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"api/rhr exact", "/api/rhr"},
		{"api/rhr sub", "/api/rhr/metrics"},
		{"healthz", "/healthz"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[metrics]
enabled = true
path = "`+tt.path+`"
`)

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

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://runalyze.com"

[metrics]
enabled = false
path = "bad-no-slash"
`)

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
