// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/hostkeeper/internal/lifecycle"
	"github.com/tombee/hostkeeper/internal/log"
	"github.com/tombee/hostkeeper/internal/metrics"
	"github.com/tombee/hostkeeper/internal/signals"
	"github.com/tombee/hostkeeper/internal/tracing"
	"github.com/tombee/hostkeeper/internal/worker"
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// Gate verifies the privileges the daemon needs before anything starts.
// Check runs identity, log access and elevation checks in that order and
// stops at the first failure.
type Gate interface {
	Check(ctx context.Context) error
}

// Subsystem is the managed dispatcher handle.
type Subsystem interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ActivePoolIDs() []string
	Relinquish(ctx context.Context, poolID string) error
}

// Deps are handed to the SubsystemFactory.
type Deps struct {
	// Children takes fire-and-forget child processes.
	Children ChildRegistrar

	// Workers receives long-lived background workers.
	Workers worker.Registrar

	// OnFault reports a runtime failure from any goroutine and triggers
	// an orderly shutdown.
	OnFault func(error)
}

// SubsystemFactory constructs the dispatcher once the router and reaper
// are installed.
type SubsystemFactory func(ctx context.Context, deps Deps) (Subsystem, error)

// Router delivers control events.
type Router interface {
	Install()
	Uninstall()
	Raise(ev signals.Event)
	Running() bool
	TakeFailover() bool
	Wait()
}

// ChildRegistrar takes ownership of child PIDs.
type ChildRegistrar interface {
	Register(pid int)
}

// Reaper collects orphaned children. It is stopped by the worker drain.
type Reaper interface {
	worker.Worker
	ChildRegistrar
	Install()
}

// Options configures a Controller.
type Options struct {
	Gate Gate

	// SetupLogging opens the daemon log once the log directory has been
	// verified. The returned logger replaces Logger for the rest of the
	// run. Optional.
	SetupLogging func() (*slog.Logger, error)

	ApplyLimits  func() error
	Router       Router
	Reaper       Reaper
	NewSubsystem SubsystemFactory

	// Registry holds background workers drained at shutdown. A new one is
	// created when nil.
	Registry *worker.Registry

	// PIDFile is written once the dispatcher is running. Empty disables it.
	PIDFile string

	// FailoverInterval is the minimum spacing between honored failover
	// requests. Zero disables throttling.
	FailoverInterval time.Duration

	ShutdownTimeout time.Duration
	WorkerTimeout   time.Duration

	// Probe runs after startup for host checks that only warn.
	Probe func()

	Events    *lifecycle.LifecycleLogger
	SystemLog log.SystemLogger
	Tracing   *tracing.Provider
	Logger    *slog.Logger

	Version    string
	Args       []string
	ConfigFile string
}

// Controller drives the daemon lifecycle.
type Controller struct {
	opts     Options
	logger   *slog.Logger
	registry *worker.Registry
	limiter  *rate.Limiter

	state   atomic.Int32
	histMu  sync.Mutex
	history []State

	faultMu sync.Mutex
	fault   error

	sub     Subsystem
	pidfile *lifecycle.PIDFileManager
}

// New creates a Controller in the Validating state.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemLog == nil {
		opts.SystemLog = log.NewWriterSystemLog(os.Stderr, "hostkeeperd")
	}
	if opts.ApplyLimits == nil {
		opts.ApplyLimits = func() error { return nil }
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = 5 * time.Second
	}

	registry := opts.Registry
	if registry == nil {
		registry = worker.NewRegistry()
	}

	limit := rate.Inf
	if opts.FailoverInterval > 0 {
		limit = rate.Every(opts.FailoverInterval)
	}

	c := &Controller{
		opts:     opts,
		logger:   log.WithComponent(logger, "supervisor"),
		registry: registry,
		limiter:  rate.NewLimiter(limit, 1),
		history:  []State{StateValidating},
	}
	c.state.Store(int32(StateValidating))
	metrics.SetState(StateValidating.String())
	return c
}

// State returns the current lifecycle state. Safe for concurrent use.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// History returns every state entered so far, in order.
func (c *Controller) History() []State {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	out := make([]State, len(c.history))
	copy(out, c.history)
	return out
}

// Registry returns the background worker registry.
func (c *Controller) Registry() *worker.Registry {
	return c.registry
}

// transition moves to the given state. Moves backwards or to the current
// state are ignored.
func (c *Controller) transition(to State) {
	from := c.State()
	if to <= from {
		return
	}
	c.state.Store(int32(to))

	c.histMu.Lock()
	c.history = append(c.history, to)
	c.histMu.Unlock()

	metrics.SetState(to.String())
	c.logger.Info("lifecycle transition",
		slog.String("from", from.String()),
		slog.String(log.StateKey, to.String()))
	if err := c.opts.Events.LogTransition(from.String(), to.String()); err != nil {
		c.logger.Debug("failed to record lifecycle event", log.Error(err))
	}
}

// Run executes the whole lifecycle and returns when the daemon has
// stopped. It returns the startup error, the runtime fault that forced
// the shutdown, or nil after a requested stop. Cancelling ctx requests
// termination.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.opts.Events.LogStart(c.opts.Version, c.opts.Args, c.opts.ConfigFile); err != nil {
		c.logger.Debug("failed to record lifecycle event", log.Error(err))
	}

	if err := c.validate(ctx); err != nil {
		return c.abortStartup(err)
	}
	c.transition(StateStarting)

	if err := c.start(ctx); err != nil {
		return c.abortStartup(err)
	}
	c.transition(StateRunning)
	c.logger.Info("hostkeeperd running",
		slog.Int("pid", os.Getpid()),
		slog.Int("workers", c.registry.Len()))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, shutting down")
			c.opts.Router.Raise(signals.EventTerminate)
		case <-done:
		}
	}()

	c.loop(ctx)
	close(done)

	return c.shutdown()
}

// validate runs the privilege gate and the resource guard.
func (c *Controller) validate(ctx context.Context) error {
	gateCtx, end := c.phase(ctx, "privilege_gate")
	err := c.checkPrivileges(gateCtx)
	end(err)
	if err != nil {
		return err
	}

	if c.opts.SetupLogging != nil {
		logger, err := c.opts.SetupLogging()
		if err != nil {
			var ce *hkerrors.ConfigError
			if !hkerrors.As(err, &ce) {
				err = &hkerrors.ConfigError{Key: "log", Reason: "cannot initialize logging", Cause: err}
			}
			return err
		}
		c.logger = log.WithComponent(logger, "supervisor")
	}

	_, end = c.phase(ctx, "resource_guard")
	err = c.opts.ApplyLimits()
	end(err)
	return err
}

func (c *Controller) checkPrivileges(ctx context.Context) error {
	if c.opts.Gate == nil {
		return nil
	}
	return c.opts.Gate.Check(ctx)
}

// start brings subsystems up in order. Anything the controller installed
// itself is released again when a later step fails.
func (c *Controller) start(ctx context.Context) (err error) {
	c.opts.Router.Install()
	c.opts.Reaper.Install()
	c.registry.Register(c.opts.Reaper)

	defer func() {
		if err != nil {
			c.releaseInstalled()
		}
	}()

	sctx, end := c.phase(ctx, "dispatcher")
	sub, err := c.opts.NewSubsystem(sctx, Deps{
		Children: c.opts.Reaper,
		Workers:  c.registry,
		OnFault:  c.reportFault,
	})
	if err != nil {
		end(err)
		return err
	}
	if err = sub.Start(sctx); err != nil {
		end(err)
		return err
	}
	end(nil)
	c.sub = sub

	if c.opts.PIDFile != "" {
		pf := lifecycle.NewPIDFileManager(c.opts.PIDFile)
		if err = pf.Create(os.Getpid()); err != nil {
			c.stopSubsystem()
			return &hkerrors.ConfigError{Key: "pidfile", Reason: "cannot write PID file " + c.opts.PIDFile, Cause: err}
		}
		c.pidfile = pf
	}

	if c.opts.Probe != nil {
		c.opts.Probe()
	}
	return nil
}

// releaseInstalled undoes the router and reaper installation after a
// failed start.
func (c *Controller) releaseInstalled() {
	c.opts.Router.Uninstall()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WorkerTimeout)
	defer cancel()
	if err := c.opts.Reaper.Stop(ctx); err != nil {
		c.logger.Warn("reaper did not stop cleanly", log.Error(err))
	}
}

// abortStartup reports a fatal startup error and moves to Stopped.
func (c *Controller) abortStartup(err error) error {
	c.logger.Error("startup failed",
		slog.String("error_type", hkerrors.TypeOf(err)),
		log.Error(err))
	if serr := c.opts.SystemLog.Err(diagnosticLine(err)); serr != nil {
		c.logger.Warn("failed to write system log", log.Error(serr))
	}
	if lerr := c.opts.Events.LogStartFailure(err); lerr != nil {
		c.logger.Debug("failed to record lifecycle event", log.Error(lerr))
	}
	c.shutdownTracing()
	c.transition(StateStopped)
	return err
}

// diagnosticLine renders err as the single system log line written for a
// fatal startup error.
func diagnosticLine(err error) string {
	msg := fmt.Sprintf("startup failed: %v", err)
	var uv hkerrors.UserVisibleError
	if hkerrors.As(err, &uv) && uv.Suggestion() != "" {
		msg = fmt.Sprintf("%s (hint: %s)", msg, uv.Suggestion())
	}
	return msg
}

// reportFault records a runtime failure and requests shutdown. Only the
// first fault is kept. Safe to call from any goroutine.
func (c *Controller) reportFault(err error) {
	if err == nil {
		return
	}
	var rt *hkerrors.SubsystemRuntimeError
	if !hkerrors.As(err, &rt) {
		err = &hkerrors.SubsystemRuntimeError{Operation: "dispatcher", Cause: err}
	}

	c.faultMu.Lock()
	first := c.fault == nil
	if first {
		c.fault = err
	}
	c.faultMu.Unlock()

	c.logger.Error("runtime failure, shutting down",
		slog.String("error_type", hkerrors.TypeOf(err)),
		slog.String(log.StateKey, c.State().String()),
		log.Error(err))
	if first {
		if lerr := c.opts.Events.LogRuntimeFailure(err); lerr != nil {
			c.logger.Debug("failed to record lifecycle event", log.Error(lerr))
		}
	}
	c.opts.Router.Raise(signals.EventTerminate)
}

// Fault returns the runtime failure that forced shutdown, if any.
func (c *Controller) Fault() error {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()
	return c.fault
}

func (c *Controller) phase(ctx context.Context, name string) (context.Context, func(error)) {
	if c.opts.Tracing == nil {
		return ctx, func(error) {}
	}
	return c.opts.Tracing.StartPhase(ctx, name)
}
