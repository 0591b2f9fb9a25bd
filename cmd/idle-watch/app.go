package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/Veraticus/idle-watch/pkg/config"
	"github.com/Veraticus/idle-watch/pkg/idle"
	"github.com/Veraticus/idle-watch/pkg/interfaces"
	"github.com/Veraticus/idle-watch/pkg/notification"
	"github.com/Veraticus/idle-watch/pkg/registry"
	"github.com/Veraticus/idle-watch/pkg/wayland"
)

// ExitCode is the process exit status.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitUsage          ExitCode = 1
	ExitConnect        ExitCode = 2
	ExitNoSeat         ExitCode = 3
	ExitNoIdleNotifier ExitCode = 4
)

// Dialer opens a connection to the compositor.
type Dialer func() (interfaces.Display, error)

// dialWayland connects using WAYLAND_DISPLAY.
func dialWayland() (interfaces.Display, error) {
	session, err := wayland.Dial("")
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config   *config.Config
	Dial     Dialer
	Reporter *notification.Reporter
	Logger   *slog.Logger
	Stderr   io.Writer
}

// NewDependencies creates all dependencies with the given configuration
func NewDependencies(cfg *config.Config, dial Dialer, stdout, stderr io.Writer) *Dependencies {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	return &Dependencies{
		Config:   cfg,
		Dial:     dial,
		Reporter: notification.NewReporter(notification.NewLineNotifier(stdout, cfg.Timestamp)),
		Logger:   slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		Stderr:   stderr,
	}
}

// Application connects, subscribes and relays idle events until the
// context is cancelled or the compositor goes away.
type Application struct {
	deps *Dependencies

	// mu guards display and closed, which the cancellation hook reads
	// from its own goroutine while setup is running.
	mu      sync.Mutex
	display interfaces.Display
	closed  bool

	// Acquired resources, released by teardown in reverse order.
	registry *registry.Registry
	watcher  *idle.Watcher
}

// NewApplication creates a new application with the given dependencies
func NewApplication(deps *Dependencies) *Application {
	return &Application{
		deps: deps,
	}
}

// Run executes the whole client lifecycle and returns the exit code.
// Teardown runs on every path. Cancelling ctx ends Run with ExitOK at
// any stage: during setup it closes the connection so a stage blocked
// on the compositor returns.
func (a *Application) Run(ctx context.Context) ExitCode {
	defer a.teardown()

	stop := context.AfterFunc(ctx, func() {
		a.deps.Logger.Debug("termination requested during setup")
		a.disconnect()
	})
	code, ready := a.setup(ctx)
	stop()
	if !ready {
		return code
	}

	return a.loop(ctx)
}

// setup connects, discovers the globals and subscribes. It reports false,
// with the exit code, when Run must not enter the dispatch loop.
func (a *Application) setup(ctx context.Context) (ExitCode, bool) {
	cfg := a.deps.Config
	logger := a.deps.Logger
	logger.Debug("starting", "config", cfg)

	display, err := a.deps.Dial()
	if err != nil {
		return a.fail(ctx, err, ExitConnect), false
	}
	a.mu.Lock()
	a.display = display
	a.mu.Unlock()
	if ctx.Err() != nil {
		logger.Debug("setup interrupted")
		return ExitOK, false
	}

	reg := registry.New(logger)
	binder, err := display.Registry(reg)
	if err != nil {
		return a.fail(ctx, err, ExitConnect), false
	}
	reg.Attach(binder)
	a.registry = reg

	if err := display.Roundtrip(); err != nil {
		return a.fail(ctx, err, ExitConnect), false
	}

	if err := reg.Require(); err != nil {
		if errors.Is(err, registry.ErrNoSeat) {
			return a.fail(ctx, err, ExitNoSeat), false
		}
		return a.fail(ctx, err, ExitNoIdleNotifier), false
	}

	a.watcher = idle.NewWatcher(a.deps.Reporter, idle.Messages{
		Idle:   cfg.IdleMessage,
		Resume: cfg.ResumeMessage,
	}, logger)
	if err := a.watcher.Subscribe(reg.IdleNotifier(), reg.Seat(), cfg.Timeout); err != nil {
		return a.fail(ctx, err, ExitConnect), false
	}
	if ctx.Err() != nil {
		logger.Debug("setup interrupted")
		return ExitOK, false
	}

	if cfg.InitialOutput != nil {
		if err := a.deps.Reporter.Report(*cfg.InitialOutput); err != nil {
			logger.Error("failed to write initial output", "error", err)
		}
	}

	return ExitOK, true
}

// loop dispatches on its own goroutine so cancellation is noticed while
// a read is blocked. The dispatch goroutine ends once teardown closes
// the connection.
func (a *Application) loop(ctx context.Context) ExitCode {
	display := a.display
	errc := make(chan error, 1)
	go func() {
		for {
			if err := display.Dispatch(); err != nil {
				errc <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		a.deps.Logger.Debug("termination requested")
	case err := <-errc:
		a.deps.Logger.Debug("compositor connection closed", "error", err)
	}
	return ExitOK
}

// teardown releases the subscription, idle notifier, seat and connection,
// skipping whatever was never acquired. Once the connection is closed
// there is nothing left to send, so proxies are only destroyed before.
func (a *Application) teardown() {
	logger := a.deps.Logger

	a.mu.Lock()
	connected := a.display != nil && !a.closed
	a.mu.Unlock()

	// The watcher is torn down even when disconnected so no late event
	// is reported.
	if a.watcher != nil {
		if err := a.watcher.Teardown(); err != nil {
			logger.Debug("teardown", "resource", "idle notification", "error", err)
		}
		a.watcher = nil
	}

	if a.registry != nil {
		if connected {
			if notifier := a.registry.IdleNotifier(); notifier != nil {
				if err := notifier.Destroy(); err != nil {
					logger.Debug("teardown", "resource", interfaces.IdleNotifierInterface, "error", err)
				}
			}
			if seat := a.registry.Seat(); seat != nil {
				if err := seat.Destroy(); err != nil {
					logger.Debug("teardown", "resource", interfaces.SeatInterface, "error", err)
				}
			}
		}
		a.registry = nil
	}

	a.disconnect()
	logger.Debug("teardown complete")
}

// disconnect closes the connection once. It runs from teardown and from
// the cancellation hook installed by Run.
func (a *Application) disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.display == nil || a.closed {
		return
	}
	a.closed = true
	if err := a.display.Close(); err != nil {
		a.deps.Logger.Debug("teardown", "resource", "display", "error", err)
	}
}

// fail prints err and returns code, unless ctx has been cancelled: an
// interrupted setup stage is a normal exit and its error is only logged.
func (a *Application) fail(ctx context.Context, err error, code ExitCode) ExitCode {
	if ctx.Err() != nil {
		a.deps.Logger.Debug("setup interrupted", "error", err)
		return ExitOK
	}
	printError(a.deps.Stderr, err)
	return code
}

// printError writes "idle-watch: <err>" on one line, in red when w is a terminal.
func printError(w io.Writer, err error) {
	c := color.New(color.FgRed, color.Bold)
	if f, ok := w.(*os.File); ok && isatty(f.Fd()) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	_, _ = c.Fprintln(w, "idle-watch: "+err.Error())
}
