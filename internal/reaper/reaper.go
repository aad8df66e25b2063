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

// Package reaper collects fire-and-forget child processes so they do not
// linger as zombies.
//
// Only PIDs handed to Register are waited on. Children started through
// os/exec and waited on by their owner are never touched.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tombee/hostkeeper/internal/log"
)

// Reaper waits on registered child PIDs whenever SIGCHLD arrives.
type Reaper struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int]struct{}

	sigCh  chan os.Signal
	nudge  chan struct{}
	done   chan struct{}
	exited chan struct{}

	installOnce sync.Once
	stopOnce    sync.Once

	reaped atomic.Int64

	// OnReap, if set, is called for every collected child.
	OnReap func(pid int, status unix.WaitStatus)
}

// New creates a Reaper. Call Install before registering children. A nil
// logger follows slog.Default at the time each entry is written.
func New(logger *slog.Logger) *Reaper {
	if logger != nil {
		logger = log.WithComponent(logger, "reaper")
	}
	return &Reaper{
		logger:  logger,
		pending: make(map[int]struct{}),
		nudge:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (r *Reaper) log() *slog.Logger {
	if r.logger == nil {
		return log.WithComponent(slog.Default(), "reaper")
	}
	return r.logger
}

// Name implements worker.Worker.
func (r *Reaper) Name() string {
	return "orphan-reaper"
}

// Install subscribes to SIGCHLD and starts the reaping goroutine. It is a
// no-op after the first call.
func (r *Reaper) Install() {
	r.installOnce.Do(func() {
		r.sigCh = make(chan os.Signal, 1)
		signal.Notify(r.sigCh, syscall.SIGCHLD)
		go r.loop()
	})
}

// Register hands pid to the reaper. A child that already exited is
// collected right away.
func (r *Reaper) Register(pid int) {
	if pid <= 0 {
		return
	}
	r.mu.Lock()
	r.pending[pid] = struct{}{}
	r.mu.Unlock()

	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Pending returns the number of registered children not yet collected.
func (r *Reaper) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reaped returns the number of children collected so far.
func (r *Reaper) Reaped() int64 {
	return r.reaped.Load()
}

// Stop implements worker.Worker. It stops listening for SIGCHLD after a
// final sweep.
func (r *Reaper) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	// Never installed: nothing to wait for, and Install becomes a no-op.
	r.installOnce.Do(func() {
		close(r.exited)
	})

	select {
	case <-r.exited:
	case <-ctx.Done():
		return ctx.Err()
	}

	if n := r.Pending(); n > 0 {
		r.log().Warn("children still running at shutdown", slog.Int("count", n))
	}
	r.log().Debug("reaper stopped", slog.Int64("reaped", r.Reaped()))
	return nil
}

func (r *Reaper) loop() {
	defer close(r.exited)
	defer signal.Stop(r.sigCh)

	for {
		select {
		case <-r.sigCh:
		case <-r.nudge:
		case <-r.done:
			r.sweep()
			return
		}
		r.sweep()
	}
}

// sweep performs a non-blocking wait on each registered child.
func (r *Reaper) sweep() {
	r.mu.Lock()
	pids := make([]int, 0, len(r.pending))
	for pid := range r.pending {
		pids = append(pids, pid)
	}
	r.mu.Unlock()

	for _, pid := range pids {
		var status unix.WaitStatus
		got, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			// ECHILD: already collected elsewhere or not our child.
			r.forget(pid)
			r.log().Debug("dropping unknown child", slog.Int("pid", pid), log.Error(err))
		case got == pid:
			r.forget(pid)
			r.reaped.Add(1)
			r.log().Debug("reaped child",
				slog.Int("pid", pid),
				slog.Int("exit_status", status.ExitStatus()),
				slog.Bool("signaled", status.Signaled()))
			if r.OnReap != nil {
				r.OnReap(pid, status)
			}
		}
	}
}

func (r *Reaper) forget(pid int) {
	r.mu.Lock()
	delete(r.pending, pid)
	r.mu.Unlock()
}
