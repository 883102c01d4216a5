// Package supervisor finds or starts the server that diagnostics run against.
//
// With an explicit port the supervisor only attaches to an existing server.
// Otherwise it spawns `<command> serve --hostname H --port P` on successive
// candidate ports until one prints its listening line, and owns that process
// until Release.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	neturl "net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/marcusrbrown/ocdiag/internal/auth"
	"github.com/marcusrbrown/ocdiag/internal/client"
	"github.com/marcusrbrown/ocdiag/internal/config"
	clierrors "github.com/marcusrbrown/ocdiag/internal/errors"
	"github.com/marcusrbrown/ocdiag/internal/observability"
	"github.com/marcusrbrown/ocdiag/internal/options"
	"github.com/marcusrbrown/ocdiag/internal/output"
)

// Mode says whether the server was found or started by this run.
type Mode string

// Handle modes.
const (
	ModeExisting Mode = "existing"
	ModeSpawned  Mode = "spawned"
)

// Handle is the server diagnostics run against. There is one per run.
type Handle struct {
	URL     string
	Port    int
	Mode    Mode
	Version string
	// Compatible is nil when no minimum version is configured or the server
	// did not report a parseable version.
	Compatible *bool

	process *Process
}

// Process returns the owned server process, or nil for an existing server.
func (h *Handle) Process() *Process {
	return h.process
}

// Settings controls how servers are found and started.
type Settings struct {
	Command      []string
	DefaultPort  int
	Attempts     int
	ReadyTimeout time.Duration
	GracePeriod  time.Duration
	MinVersion   string
	HTTPTimeout  time.Duration
	Credentials  auth.Credentials
}

// SettingsFromConfig reads supervisor settings from cfg.
func SettingsFromConfig(cfg *config.Config, creds auth.Credentials) Settings {
	return Settings{
		Command:      cfg.ServerCommand(),
		DefaultPort:  cfg.DefaultPort(),
		Attempts:     cfg.Attempts(),
		ReadyTimeout: cfg.ReadyTimeout(),
		GracePeriod:  cfg.GracePeriod(),
		MinVersion:   cfg.MinVersion(),
		HTTPTimeout:  cfg.HTTPTimeout(),
		Credentials:  creds,
	}
}

// Supervisor acquires and releases the run's server.
type Supervisor struct {
	settings Settings
	out      *output.Writer
	run      runner

	mu     sync.Mutex
	owned  *Process
	starts int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRunner sets how background goroutines (output readers, waiters) are
// started, so their panics can be routed to the caller's failure handling.
func WithRunner(run func(fn func())) Option {
	return func(s *Supervisor) {
		if run != nil {
			s.run = run
		}
	}
}

// New creates a Supervisor.
func New(settings Settings, out *output.Writer, opts ...Option) *Supervisor {
	if settings.Attempts < 1 {
		settings.Attempts = 1
	}

	if settings.ReadyTimeout <= 0 {
		settings.ReadyTimeout = config.DefaultReadyTimeout
	}

	if settings.GracePeriod <= 0 {
		settings.GracePeriod = config.DefaultGracePeriod
	}

	if len(settings.Command) == 0 {
		settings.Command = config.DefaultServerCommand
	}

	s := &Supervisor{
		settings: settings,
		out:      out,
		run:      goRunner,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Acquire attaches to the server at opts.Port when one was requested, or
// spawns a new one.
func (s *Supervisor) Acquire(ctx context.Context, opts options.Options) (*Handle, error) {
	if opts.PortProvided {
		return s.attach(ctx, opts)
	}

	return s.spawn(ctx, opts)
}

// Release terminates the owned server process, if any. Safe to call any
// number of times and from any goroutine.
func (s *Supervisor) Release() error {
	s.mu.Lock()
	proc := s.owned
	s.mu.Unlock()

	if proc == nil {
		return nil
	}

	return proc.Terminate(s.settings.GracePeriod)
}

func (s *Supervisor) attach(ctx context.Context, opts options.Options) (*Handle, error) {
	url := baseURL(opts.Host, opts.Port)
	logger := observability.FromContext(ctx)

	health, err := s.client(url, opts.Directory).Health(ctx)
	if err != nil {
		return nil, clierrors.ServerUnreachable(url, err)
	}

	logger.Info("attached to server", slog.String("server.url", url), slog.String("server.version", health.Version))

	h := &Handle{
		URL:     url,
		Port:    opts.Port,
		Mode:    ModeExisting,
		Version: health.Version,
	}
	s.checkCompatibility(ctx, h)

	return h, nil
}

func (s *Supervisor) spawn(ctx context.Context, opts options.Options) (*Handle, error) {
	logger := observability.FromContext(ctx)

	spin := s.out.Spinner("Starting server")
	spin.Start()

	var lastErr error

	for attempt := range s.settings.Attempts {
		if err := ctx.Err(); err != nil {
			spin.Stop()
			return nil, err
		}

		port := s.settings.DefaultPort + attempt
		spin.UpdateMessage(fmt.Sprintf("Starting server on port %d", port))

		h, err := s.tryPort(ctx, opts, port)
		if err == nil {
			spin.StopWithSuccess("Server ready at " + h.URL)
			s.checkCompatibility(ctx, h)

			return h, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			spin.Stop()
			return nil, ctxErr
		}

		logger.Warn("server candidate failed",
			slog.Int("server.port", port),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		lastErr = err
	}

	spin.Stop()

	return nil, clierrors.SpawnFailed(s.settings.Attempts, lastErr)
}

func (s *Supervisor) tryPort(ctx context.Context, opts options.Options, port int) (*Handle, error) {
	logger := observability.FromContext(ctx)

	argv := append(append([]string(nil), s.settings.Command...),
		"serve", "--hostname", opts.Host, "--port", strconv.Itoa(port))

	proc, err := s.start(argv, opts.Directory, logger)
	if err != nil {
		return nil, fmt.Errorf("start %s on port %d: %w", argv[0], port, err)
	}

	logger.Debug("server candidate started",
		slog.Int("server.port", port),
		slog.Int("server.pid", proc.Pid()),
	)

	timer := time.NewTimer(s.settings.ReadyTimeout)
	defer timer.Stop()

	select {
	case url := <-proc.ready:
		h := &Handle{URL: url, Port: portOf(url, port), Mode: ModeSpawned, process: proc}
		s.probeVersion(ctx, h, opts.Directory)

		return h, nil
	case <-proc.Done():
		err = exitedEarly(port, proc.ExitErr())
	case <-timer.C:
		err = fmt.Errorf("server on port %d not ready after %s", port, s.settings.ReadyTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	if termErr := proc.Terminate(s.settings.GracePeriod); termErr != nil {
		logger.Warn("terminate server candidate", slog.String("error", termErr.Error()))
	}

	s.disown(proc)

	return nil, err
}

func (s *Supervisor) start(argv []string, dir string, logger *slog.Logger) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starts++

	proc, err := startProcess(argv, dir, s.run, logger)
	if err != nil {
		return nil, err
	}

	s.owned = proc

	return proc, nil
}

func (s *Supervisor) disown(proc *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned == proc {
		s.owned = nil
	}
}

// probeVersion asks a freshly spawned server for its version. Failure only
// leaves the version unknown.
func (s *Supervisor) probeVersion(ctx context.Context, h *Handle, dir string) {
	health, err := s.client(h.URL, dir).Health(ctx)
	if err != nil {
		observability.FromContext(ctx).Debug("version probe failed", slog.String("error", err.Error()))
		return
	}

	h.Version = health.Version
}

func (s *Supervisor) checkCompatibility(ctx context.Context, h *Handle) {
	compatible, err := Compatible(h.Version, s.settings.MinVersion)
	if err != nil {
		observability.FromContext(ctx).Debug("version check skipped", slog.String("error", err.Error()))
		return
	}

	h.Compatible = &compatible

	if !compatible {
		s.out.Warning("Server version %s is older than %s", h.Version, s.settings.MinVersion)
	}
}

func (s *Supervisor) client(url, dir string) *client.Client {
	return client.New(url,
		client.WithDirectory(dir),
		client.WithCredentials(s.settings.Credentials),
		client.WithTimeout(s.settings.HTTPTimeout),
	)
}

// Compatible reports whether version satisfies min. It returns an error when
// either side is missing or not a semantic version.
func Compatible(version, minVersion string) (bool, error) {
	if minVersion == "" {
		return false, errors.New("no minimum version configured")
	}

	if version == "" {
		return false, errors.New("server did not report a version")
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse server version %q: %w", version, err)
	}

	constraint, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return false, fmt.Errorf("parse minimum version %q: %w", minVersion, err)
	}

	return constraint.Check(v), nil
}

func baseURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func portOf(rawURL string, fallback int) int {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fallback
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return fallback
	}

	return port
}

func exitedEarly(port int, waitErr error) error {
	if waitErr == nil {
		return fmt.Errorf("server on port %d exited before it was ready", port)
	}

	return fmt.Errorf("server on port %d exited before it was ready: %w", port, waitErr)
}
