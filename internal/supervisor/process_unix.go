//go:build unix

package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type processSignal = syscall.Signal

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func processGroup(pid int) int {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return pid
	}

	return pgid
}

// signalProcess signals the whole group. If group signaling fails for any
// reason other than the group being gone, the pid is signaled directly.
func signalProcess(pid, pgid int, sig syscall.Signal) error {
	if pgid > 0 {
		err := unix.Kill(-pgid, sig)
		if err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}

	if pid <= 0 {
		return nil
	}

	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %d: %w", pid, err)
	}

	return nil
}

func (p *Process) terminate(grace time.Duration) error {
	termErr := p.signal(p.pid, p.pgid, unix.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := p.signal(p.pid, p.pgid, unix.SIGKILL); err != nil {
		return errors.Join(termErr, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("server process %d still running after SIGKILL", p.pid)
	}
}
