//go:build unix

package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

// TestCleanupHelperProcess is not a real test. It is the child process for
// TestStop_SignalDuringCleanupWaitsForRelease.
func TestCleanupHelperProcess(t *testing.T) {
	if os.Getenv("OCDIAG_WANT_LIFECYCLE_HELPER") != "1" {
		return
	}

	os.Exit(cleanupHelperMain())
}

// cleanupHelperMain mirrors the command's shutdown: a normal return calls
// stop, and release is slow enough for a signal to land in the middle of it.
func cleanupHelperMain() int {
	c := New(func() error {
		fmt.Println("release started")
		time.Sleep(1500 * time.Millisecond)
		fmt.Println("release finished")

		return nil
	}, WithLogger(quietLogger()))

	_, stop := c.Watch(context.Background())
	stop()

	if code, ok := c.Interrupted(); ok {
		return code
	}

	return 0
}

func TestStop_SignalDuringCleanupWaitsForRelease(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=^TestCleanupHelperProcess$")
	cmd.Env = append(os.Environ(), "OCDIAG_WANT_LIFECYCLE_HELPER=1")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe() error = %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	scanner := bufio.NewScanner(stdout)

	var lines []string

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if scanner.Text() == "release started" {
			break
		}
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	waitErr := cmd.Wait()

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		t.Fatalf("Wait() error = %v, want exit status 130", waitErr)
	}

	if code := exitErr.ExitCode(); code != 130 {
		t.Errorf("exit code = %d (%v), want 130", code, waitErr)
	}

	if len(lines) == 0 || lines[len(lines)-1] != "release finished" {
		t.Errorf("output = %q, want release to finish before exit", lines)
	}
}

func TestWatch_SignalCancelsCleansUpAndExits(t *testing.T) {
	tests := []struct {
		name     string
		sig      syscall.Signal
		wantCode int
	}{
		{name: "SIGINT", sig: syscall.SIGINT, wantCode: 130},
		{name: "SIGTERM", sig: syscall.SIGTERM, wantCode: 143},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			exitCh := make(chan int, 1)

			c := New(
				func() error { calls.Add(1); return nil },
				WithExit(func(code int) { exitCh <- code }),
				WithLogger(quietLogger()),
			)

			ctx, stop := c.Watch(t.Context())
			defer stop()

			if err := syscall.Kill(syscall.Getpid(), tt.sig); err != nil {
				t.Fatalf("Kill() error = %v", err)
			}

			select {
			case code := <-exitCh:
				if code != tt.wantCode {
					t.Errorf("exit code = %d, want %d", code, tt.wantCode)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("exit not called")
			}

			if ctx.Err() == nil {
				t.Error("watch context not canceled")
			}

			if calls.Load() != 1 {
				t.Errorf("release called %d times, want 1", calls.Load())
			}

			if code, ok := c.Interrupted(); !ok || code != tt.wantCode {
				t.Errorf("Interrupted() = (%d, %v), want (%d, true)", code, ok, tt.wantCode)
			}
		})
	}
}
