package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// readyPattern matches the line a server prints once it accepts connections.
var readyPattern = regexp.MustCompile(`server listening on (https?://\S+)`)

// Process is a spawned server and its process group.
type Process struct {
	cmd   *exec.Cmd
	pid   int
	pgid  int
	ready chan string
	done  chan struct{}

	waitErr error

	// signal delivers sig to the group, falling back to the pid.
	signal func(pid, pgid int, sig processSignal) error

	termOnce sync.Once
	termErr  error
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.pid
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the wait error. Only meaningful after Done is closed.
func (p *Process) ExitErr() error {
	return p.waitErr
}

// Terminate asks the process group to exit, waits up to grace, then kills it.
// Only the first call has any effect; later calls return the first result.
func (p *Process) Terminate(grace time.Duration) error {
	p.termOnce.Do(func() {
		p.termErr = p.terminate(grace)
	})

	return p.termErr
}

type runner func(fn func())

func goRunner(fn func()) { go fn() }

// startProcess launches argv in its own process group and begins watching
// its output for the readiness line.
func startProcess(argv []string, dir string, run runner, logger *slog.Logger) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty server command")
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // command comes from user configuration
	cmd.Dir = dir
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = time.Second

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()

		return nil, err
	}

	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		pgid:   processGroup(cmd.Process.Pid),
		ready:  make(chan string, 1),
		done:   make(chan struct{}),
		signal: signalProcess,
	}

	logger = logger.With(slog.Int("server.pid", p.pid))

	run(func() { scanReady(stdoutR, p.ready, logger.With(slog.String("server.stream", "stdout"))) })
	run(func() { scanReady(stderrR, nil, logger.With(slog.String("server.stream", "stderr"))) })
	run(func() {
		p.waitErr = cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()

		close(p.done)
	})

	return p, nil
}

// scanReady reads r line by line until EOF. The first readiness URL is sent
// on ready; every line is logged at debug level. Reading continues after the
// match so the server never blocks on a full pipe.
func scanReady(r io.Reader, ready chan<- string, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := ansi.Strip(scanner.Text())
		logger.Debug("server output", slog.String("line", line))

		if ready == nil {
			continue
		}

		if m := readyPattern.FindStringSubmatch(line); m != nil {
			ready <- m[1]
			ready = nil
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug("server output closed", slog.String("error", err.Error()))
	}

	// Keep draining after an over-long line so the writer never blocks.
	_, _ = io.Copy(io.Discard, r)
}
