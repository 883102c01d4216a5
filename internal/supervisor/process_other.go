//go:build !unix

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

type processSignal = os.Signal

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func processGroup(int) int {
	return 0
}

func signalProcess(pid, _ int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %d: %w", pid, err)
	}

	return nil
}

// terminate kills the process outright; there are no process groups to
// signal gracefully here.
func (p *Process) terminate(grace time.Duration) error {
	if err := p.signal(p.pid, p.pgid, os.Kill); err != nil {
		return err
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("server process %d still running after kill", p.pid)
	}
}
