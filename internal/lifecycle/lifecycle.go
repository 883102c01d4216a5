// Package lifecycle guarantees the run's cleanup happens exactly once,
// whether the run ends normally, by signal, or by an unexpected panic.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	clierrors "github.com/marcusrbrown/ocdiag/internal/errors"
	"github.com/marcusrbrown/ocdiag/internal/output"
)

// shutdownSignals end the run early.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Controller owns the run's cleanup function.
type Controller struct {
	release func() error
	exit    func(code int)
	stderr  io.Writer
	logger  *slog.Logger

	started     atomic.Bool
	finished    chan struct{}
	err         error
	interrupted atomic.Int32
}

// Option configures a Controller.
type Option func(*Controller)

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(c *Controller) { c.exit = exit }
}

// WithLogger sets the logger used for signal and panic reports.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithStderr sets where the one-line failure message is printed.
func WithStderr(w io.Writer) Option {
	return func(c *Controller) { c.stderr = w }
}

// New returns a Controller that calls release on the first Run.
func New(release func() error, opts ...Option) *Controller {
	c := &Controller{
		release:  release,
		exit:     os.Exit,
		stderr:   os.Stderr,
		logger:   slog.Default(),
		finished: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run performs cleanup. The first caller runs release; every other caller
// waits for it to finish and gets the same error. Run never panics.
func (c *Controller) Run() error {
	if !c.started.CompareAndSwap(false, true) {
		<-c.finished
		return c.err
	}

	defer close(c.finished)

	c.err = c.callRelease()

	return c.err
}

func (c *Controller) callRelease() (err error) {
	if c.release == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()

	return c.release()
}

// Watch installs SIGINT and SIGTERM handlers. On a signal the returned
// context is canceled, cleanup runs and the process exits with 128+signal.
//
// The stop function runs cleanup itself and only then removes the handlers,
// so a signal that arrives while cleanup is still waiting on the server
// cannot kill the process before the server is gone.
func (c *Controller) Watch(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)

	stopped := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			code := clierrors.ExitSignalBase + signalNumber(sig)
			c.interrupted.Store(int32(code))
			cancel()
			c.logger.Warn("received shutdown signal", slog.String("signal", sig.String()))
			c.shutdown(code)
		case <-stopped:
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() {
			if err := c.Run(); err != nil {
				c.logger.Error("cleanup failed", slog.String("error", err.Error()))
			}

			signal.Stop(sigCh)
			close(stopped)
			cancel()
		})
	}

	return ctx, stop
}

// Interrupted returns the exit code of the signal that ended the run, if any.
// The code is recorded before the watched context is canceled.
func (c *Controller) Interrupted() (int, bool) {
	code := int(c.interrupted.Load())
	return code, code != 0
}

// Recover must be deferred directly. A panic is logged, reported on one
// line, cleaned up after, and turned into exit status 1.
func (c *Controller) Recover() {
	r := recover()
	if r == nil {
		return
	}

	c.logger.Error("unexpected failure",
		slog.String("panic", fmt.Sprint(r)),
		slog.String("stack", string(debug.Stack())),
	)
	fmt.Fprintf(c.stderr, "%s Unexpected failure: %v\n", output.XMark, r)

	c.shutdown(clierrors.ExitGeneral)
}

// Go runs fn on a new goroutine whose panics go through Recover.
func (c *Controller) Go(fn func()) {
	go func() {
		defer c.Recover()

		fn()
	}()
}

func (c *Controller) shutdown(code int) {
	if err := c.Run(); err != nil {
		c.logger.Error("cleanup failed", slog.String("error", err.Error()))
	}

	c.exit(code)
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}

	return 0
}
