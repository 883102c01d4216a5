package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state.
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"OCDIAG_SERVER_COMMAND",
		"OCDIAG_SERVER_HOST",
		"OCDIAG_SERVER_DEFAULT_PORT",
		"OCDIAG_SERVER_ATTEMPTS",
		"OCDIAG_SERVER_READY_TIMEOUT",
		"OCDIAG_SERVER_GRACE_PERIOD",
		"OCDIAG_SERVER_MIN_VERSION",
		"OCDIAG_REPORT_LIMIT",
		"OCDIAG_HTTP_TIMEOUT",
	} {
		unsetEnvForTest(t, key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadFrom(t.TempDir())

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{name: "host", got: cfg.Host(), want: DefaultHost},
		{name: "default port", got: cfg.DefaultPort(), want: DefaultPort},
		{name: "attempts", got: cfg.Attempts(), want: DefaultAttempts},
		{name: "ready timeout", got: cfg.ReadyTimeout(), want: DefaultReadyTimeout},
		{name: "grace period", got: cfg.GracePeriod(), want: DefaultGracePeriod},
		{name: "min version", got: cfg.MinVersion(), want: ""},
		{name: "report limit", got: cfg.ReportLimit(), want: DefaultLimit},
		{name: "http timeout", got: cfg.HTTPTimeout(), want: DefaultHTTPTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if got := cfg.ServerCommand(); !reflect.DeepEqual(got, DefaultServerCommand) {
		t.Errorf("ServerCommand() = %v, want %v", got, DefaultServerCommand)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCDIAG_SERVER_DEFAULT_PORT", "5000")
	t.Setenv("OCDIAG_SERVER_ATTEMPTS", "2")
	t.Setenv("OCDIAG_SERVER_READY_TIMEOUT", "750ms")
	t.Setenv("OCDIAG_SERVER_COMMAND", "bun run dev")

	cfg := LoadFrom(t.TempDir())

	if got := cfg.DefaultPort(); got != 5000 {
		t.Errorf("DefaultPort() = %d, want 5000", got)
	}

	if got := cfg.Attempts(); got != 2 {
		t.Errorf("Attempts() = %d, want 2", got)
	}

	if got := cfg.ReadyTimeout(); got != 750*time.Millisecond {
		t.Errorf("ReadyTimeout() = %v, want 750ms", got)
	}

	if got := cfg.ServerCommand(); !reflect.DeepEqual(got, []string{"bun", "run", "dev"}) {
		t.Errorf("ServerCommand() = %v", got)
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	content := "server:\n  min_version: 1.2.0\n  grace_period: 1s\n  command: [\"/usr/local/bin/opencode\", \"--print-logs\"]\nreport:\n  limit: 7\n"

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadFrom(dir)

	if got := cfg.MinVersion(); got != "1.2.0" {
		t.Errorf("MinVersion() = %q, want %q", got, "1.2.0")
	}

	if got := cfg.GracePeriod(); got != time.Second {
		t.Errorf("GracePeriod() = %v, want 1s", got)
	}

	if got := cfg.ReportLimit(); got != 7 {
		t.Errorf("ReportLimit() = %d, want 7", got)
	}

	want := []string{"/usr/local/bin/opencode", "--print-logs"}
	if got := cfg.ServerCommand(); !reflect.DeepEqual(got, want) {
		t.Errorf("ServerCommand() = %v, want %v", got, want)
	}
}

func TestAttempts_NeverBelowOne(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCDIAG_SERVER_ATTEMPTS", "0")

	if got := LoadFrom(t.TempDir()).Attempts(); got != 1 {
		t.Errorf("Attempts() = %d, want 1", got)
	}
}
