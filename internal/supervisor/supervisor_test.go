//go:build unix

package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	clierrors "github.com/marcusrbrown/ocdiag/internal/errors"
	"github.com/marcusrbrown/ocdiag/internal/options"
	"github.com/marcusrbrown/ocdiag/internal/output"
	"github.com/marcusrbrown/ocdiag/internal/terminal"
)

// TestHelperProcess is not a real test. It is the fake server binary the
// other tests spawn.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("OCDIAG_WANT_HELPER_PROCESS") != "1" {
		return
	}

	os.Exit(helperMain(os.Args))
}

func helperMain(args []string) int {
	var host, port string

	for i, arg := range args {
		switch arg {
		case "--hostname":
			host = args[i+1]
		case "--port":
			port = args[i+1]
		}
	}

	switch os.Getenv("OCDIAG_HELPER_MODE") {
	case "exit":
		fmt.Fprintln(os.Stderr, "fatal: invalid configuration")
		return 3
	case "silent":
		time.Sleep(time.Minute)
		return 0
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		return 1
	}

	fmt.Println("\x1b[2mINFO\x1b[0m booting")
	fmt.Fprintln(os.Stderr, "WARN unrelated stderr noise")
	fmt.Printf("\x1b[32mopencode server listening on http://%s\x1b[0m\n", ln.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc("/global/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"healthy":true,"version":"1.0.0"}`))
	})

	_ = http.Serve(ln, mux)

	return 0
}

func helperCommand(t *testing.T, mode string) []string {
	t.Helper()

	t.Setenv("OCDIAG_WANT_HELPER_PROCESS", "1")
	t.Setenv("OCDIAG_HELPER_MODE", mode)

	return []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"}
}

func testWriter() *output.Writer {
	var buf bytes.Buffer
	return output.NewWriter(&buf, &buf, &terminal.Info{NoColor: true})
}

func testSettings(command []string, port, attempts int) Settings {
	return Settings{
		Command:      command,
		DefaultPort:  port,
		Attempts:     attempts,
		ReadyTimeout: 10 * time.Second,
		GracePeriod:  2 * time.Second,
		HTTPTimeout:  5 * time.Second,
	}
}

func testOptions(t *testing.T) options.Options {
	return options.Options{Host: "127.0.0.1", Directory: t.TempDir(), Format: options.FormatText, Limit: 20}
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port
}

// occupy holds port for the rest of the test. A port someone else already
// holds counts as occupied too.
func occupy(t *testing.T, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return
	}

	t.Cleanup(func() { _ = ln.Close() })
}

func releaseOnCleanup(t *testing.T, s *Supervisor) {
	t.Cleanup(func() {
		if err := s.Release(); err != nil {
			t.Errorf("Release() error = %v", err)
		}
	})
}

func TestAcquire_ExplicitPortUnreachableDoesNotSpawn(t *testing.T) {
	port := freePort(t)

	s := New(testSettings([]string{"/nonexistent/server"}, 4096, 5), testWriter())

	opts := testOptions(t)
	opts.Port = port
	opts.PortProvided = true

	_, err := s.Acquire(t.Context(), opts)
	if err == nil {
		t.Fatal("expected error")
	}

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) || !strings.HasPrefix(cliErr.Message, "Cannot reach server at http://127.0.0.1:") {
		t.Fatalf("error = %v, want unreachable CLIError", err)
	}

	if s.starts != 0 {
		t.Errorf("starts = %d, want 0", s.starts)
	}
}

func TestAcquire_ExplicitPortExisting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/global/health" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte(`{"healthy":true,"version":"1.4.0"}`))
	}))
	defer server.Close()

	u, _ := neturl.Parse(server.URL)
	port, _ := strconv.Atoi(u.Port())

	settings := testSettings(nil, 4096, 1)
	settings.MinVersion = "1.2.0"
	s := New(settings, testWriter())

	opts := testOptions(t)
	opts.Port = port
	opts.PortProvided = true

	h, err := s.Acquire(t.Context(), opts)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if h.Mode != ModeExisting || h.Process() != nil {
		t.Errorf("handle = %+v, want existing without process", h)
	}

	if h.Version != "1.4.0" {
		t.Errorf("Version = %q", h.Version)
	}

	if h.Compatible == nil || !*h.Compatible {
		t.Errorf("Compatible = %v, want true", h.Compatible)
	}

	if err := s.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestAcquire_SpawnsServerAndReleases(t *testing.T) {
	port := freePort(t)

	settings := testSettings(helperCommand(t, "serve"), port, 1)
	settings.MinVersion = "2.0.0"
	s := New(settings, testWriter())

	h, err := s.Acquire(t.Context(), testOptions(t))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if h.Mode != ModeSpawned || h.Port != port {
		t.Errorf("handle = %+v, want spawned on %d", h, port)
	}

	if h.URL != fmt.Sprintf("http://127.0.0.1:%d", port) {
		t.Errorf("URL = %q", h.URL)
	}

	if h.Version != "1.0.0" {
		t.Errorf("Version = %q", h.Version)
	}

	if h.Compatible == nil || *h.Compatible {
		t.Errorf("Compatible = %v, want false", h.Compatible)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	select {
	case <-h.Process().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server still running after Release")
	}

	if err := s.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestAcquire_AdvancesPastOccupiedPort(t *testing.T) {
	port := freePort(t)
	if port+2 > 65535 {
		t.Skip("no room above ephemeral port")
	}

	occupy(t, port)

	s := New(testSettings(helperCommand(t, "serve"), port, 3), testWriter())
	releaseOnCleanup(t, s)

	h, err := s.Acquire(t.Context(), testOptions(t))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if h.Port <= port {
		t.Errorf("Port = %d, want > %d", h.Port, port)
	}

	if s.starts < 2 {
		t.Errorf("starts = %d, want at least 2", s.starts)
	}
}

func TestAcquire_ExhaustionReturnsLastError(t *testing.T) {
	port := freePort(t)
	if port+1 > 65535 {
		t.Skip("no room above ephemeral port")
	}

	occupy(t, port)
	occupy(t, port+1)

	s := New(testSettings(helperCommand(t, "serve"), port, 2), testWriter())

	_, err := s.Acquire(t.Context(), testOptions(t))
	if err == nil {
		t.Fatal("expected error")
	}

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) {
		t.Fatalf("error %T is not a CLIError", err)
	}

	if !strings.Contains(cliErr.Message, "2 attempt") {
		t.Errorf("message = %q", cliErr.Message)
	}

	if !strings.Contains(cliErr.Cause.Error(), fmt.Sprintf("port %d", port+1)) {
		t.Errorf("cause = %v, want last port %d", cliErr.Cause, port+1)
	}

	if s.starts != 2 {
		t.Errorf("starts = %d, want 2", s.starts)
	}

	if s.owned != nil {
		t.Error("failed candidate still owned")
	}
}

func TestAcquire_CandidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		wantErr string
	}{
		{name: "exits before ready", mode: "exit", wantErr: "exited before it was ready"},
		{name: "never ready", mode: "silent", wantErr: "not ready after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(helperCommand(t, tt.mode), freePort(t), 1)
			settings.ReadyTimeout = 500 * time.Millisecond
			settings.GracePeriod = 500 * time.Millisecond

			_, err := New(settings, testWriter()).Acquire(t.Context(), testOptions(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Acquire() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestAcquire_CancelledContext(t *testing.T) {
	settings := testSettings(helperCommand(t, "silent"), freePort(t), 3)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	s := New(settings, testWriter())

	_, err := s.Acquire(ctx, testOptions(t))
	if err == nil {
		t.Fatal("expected error")
	}

	if s.starts != 1 {
		t.Errorf("starts = %d, want 1", s.starts)
	}
}

type signalRecorder struct {
	mu   sync.Mutex
	sent []processSignal
}

func (r *signalRecorder) wrap(p *Process) {
	next := p.signal
	p.signal = func(pid, pgid int, sig processSignal) error {
		r.mu.Lock()
		r.sent = append(r.sent, sig)
		r.mu.Unlock()

		return next(pid, pgid, sig)
	}
}

func (r *signalRecorder) signals() []processSignal {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]processSignal(nil), r.sent...)
}

func TestProcess_ConcurrentTerminateSignalsOnce(t *testing.T) {
	proc, err := startProcess(helperCommand(t, "silent"), t.TempDir(), goRunner, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("startProcess() error = %v", err)
	}

	rec := &signalRecorder{}
	rec.wrap(proc)

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)

	for range 8 {
		wg.Go(func() {
			if err := proc.Terminate(2 * time.Second); err != nil {
				failed.Add(1)
			}
		})
	}

	wg.Wait()

	if failed.Load() != 0 {
		t.Errorf("%d Terminate calls failed", failed.Load())
	}

	if got := rec.signals(); len(got) != 1 || got[0] != syscall.SIGTERM {
		t.Errorf("signals = %v, want exactly one SIGTERM", got)
	}

	select {
	case <-proc.Done():
	default:
		t.Error("process not reaped after Terminate")
	}
}

func TestProcess_TerminateEscalatesToKill(t *testing.T) {
	proc, err := startProcess(
		append(helperCommand(t, "ignore-term"), "serve", "--hostname", "127.0.0.1", "--port", strconv.Itoa(freePort(t))),
		t.TempDir(), goRunner, slog.New(slog.DiscardHandler),
	)
	if err != nil {
		t.Fatalf("startProcess() error = %v", err)
	}

	select {
	case <-proc.ready:
	case <-time.After(10 * time.Second):
		_ = proc.Terminate(time.Second)
		t.Fatal("helper never became ready")
	}

	rec := &signalRecorder{}
	rec.wrap(proc)

	if err := proc.Terminate(300 * time.Millisecond); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	got := rec.signals()
	if len(got) != 2 || got[0] != syscall.SIGTERM || got[1] != syscall.SIGKILL {
		t.Errorf("signals = %v, want SIGTERM then SIGKILL", got)
	}
}

func TestScanReady(t *testing.T) {
	input := strings.Join([]string{
		"\x1b[2mINFO\x1b[0m loading plugins",
		"server listening on ftp://nope",
		"\x1b[1mopencode server listening on \x1b[4mhttp://127.0.0.1:4097\x1b[0m",
		"server listening on http://127.0.0.1:9999",
		"trailing log line",
	}, "\n")

	ready := make(chan string, 1)
	scanReady(strings.NewReader(input), ready, slog.New(slog.DiscardHandler))

	select {
	case url := <-ready:
		if url != "http://127.0.0.1:4097" {
			t.Errorf("url = %q", url)
		}
	default:
		t.Fatal("no readiness url found")
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		name    string
		version string
		min     string
		want    bool
		wantErr bool
	}{
		{name: "newer", version: "1.2.3", min: "1.0.0", want: true},
		{name: "equal", version: "1.0.0", min: "1.0.0", want: true},
		{name: "older", version: "0.9.9", min: "1.0.0", want: false},
		{name: "v prefix", version: "v2.0.0", min: "1.5", want: true},
		{name: "no minimum", version: "1.0.0", min: "", wantErr: true},
		{name: "no version", version: "", min: "1.0.0", wantErr: true},
		{name: "garbage", version: "local-build", min: "1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compatible(tt.version, tt.min)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Compatible() error = %v, wantErr %v", err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("Compatible() = %v, want %v", got, tt.want)
			}
		})
	}
}
