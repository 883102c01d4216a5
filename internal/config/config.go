// Package config handles ocdiag configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (OCDIAG_*)
//  2. Config file (<user config dir>/ocdiag/config.yaml)
//  3. Built-in defaults
//
// Command-line flags are resolved on top of these values in cmd/ocdiag.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marcusrbrown/ocdiag/internal/paths"
)

const (
	// DefaultHost is the interface a spawned server binds to.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the first candidate port when spawning a server.
	DefaultPort = 4096
	// DefaultAttempts is the number of candidate ports tried before giving up.
	DefaultAttempts = 10
	// DefaultReadyTimeout bounds the wait for a spawned server's listening line.
	DefaultReadyTimeout = 10 * time.Second
	// DefaultGracePeriod bounds the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 8 * time.Second
	// DefaultLimit is the text-report truncation size.
	DefaultLimit = 10
	// DefaultHTTPTimeout is the per-request timeout for collaborator calls.
	DefaultHTTPTimeout = 30 * time.Second
)

// DefaultServerCommand is the executable (plus leading args) used to spawn a server.
var DefaultServerCommand = []string{"opencode"}

// Config holds the ocdiag configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	path := ""
	if root, err := paths.ConfigRoot(); err == nil {
		path = root
	}

	return LoadFrom(path)
}

// LoadFrom reads configuration using dir as the config file directory.
// An empty dir skips the config file.
func LoadFrom(configDir string) *Config {
	v := viper.New()

	v.SetDefault("server.command", DefaultServerCommand)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.default_port", DefaultPort)
	v.SetDefault("server.attempts", DefaultAttempts)
	v.SetDefault("server.ready_timeout", DefaultReadyTimeout)
	v.SetDefault("server.grace_period", DefaultGracePeriod)
	v.SetDefault("server.min_version", "")
	v.SetDefault("report.limit", DefaultLimit)
	v.SetDefault("http.timeout", DefaultHTTPTimeout)

	if configDir != "" {
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("OCDIAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if configDir != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
			}
		}
	}

	return &Config{v: v}
}

// ServerCommand returns the executable and leading arguments used to spawn a server.
func (c *Config) ServerCommand() []string {
	cmd := c.v.GetStringSlice("server.command")
	if len(cmd) == 0 {
		return append([]string(nil), DefaultServerCommand...)
	}

	return cmd
}

// Host returns the default server host.
func (c *Config) Host() string {
	return c.v.GetString("server.host")
}

// DefaultPort returns the first candidate port for spawned servers.
func (c *Config) DefaultPort() int {
	return c.v.GetInt("server.default_port")
}

// Attempts returns how many candidate ports are tried, at least one.
func (c *Config) Attempts() int {
	if n := c.v.GetInt("server.attempts"); n > 0 {
		return n
	}

	return 1
}

// ReadyTimeout returns the readiness wait per candidate.
func (c *Config) ReadyTimeout() time.Duration {
	return positiveDuration(c.v.GetDuration("server.ready_timeout"), DefaultReadyTimeout)
}

// GracePeriod returns the wait between graceful and forced termination.
func (c *Config) GracePeriod() time.Duration {
	return positiveDuration(c.v.GetDuration("server.grace_period"), DefaultGracePeriod)
}

// MinVersion returns the minimum compatible server version, or "".
func (c *Config) MinVersion() string {
	return strings.TrimSpace(c.v.GetString("server.min_version"))
}

// ReportLimit returns the default text-report truncation size.
func (c *Config) ReportLimit() int {
	return c.v.GetInt("report.limit")
}

// HTTPTimeout returns the per-request timeout for collaborator calls.
func (c *Config) HTTPTimeout() time.Duration {
	return positiveDuration(c.v.GetDuration("http.timeout"), DefaultHTTPTimeout)
}

func positiveDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return d
}
