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
	"sync"
	"time"

	"github.com/tombee/hostkeeper/internal/log"
	"github.com/tombee/hostkeeper/internal/metrics"
	"github.com/tombee/hostkeeper/internal/worker"
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// loop blocks on the router until termination is requested, dispatching
// failover requests while running.
func (c *Controller) loop(ctx context.Context) {
	router := c.opts.Router
	for {
		router.Wait()
		failover := router.TakeFailover()
		log.Trace(c.logger, "router woke",
			slog.Bool("failover", failover),
			slog.Bool("running", router.Running()))
		if failover {
			if router.Running() {
				c.failover(ctx)
			} else {
				c.logger.Info("failover request dropped, shutdown in progress")
			}
		}
		if !router.Running() {
			return
		}
	}
}

// failover relinquishes the first active pool. A panic or error in the
// dispatcher never escapes this call.
func (c *Controller) failover(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordFailover(metrics.FailoverError)
			c.reportFault(&hkerrors.SubsystemRuntimeError{
				Operation: "failover",
				Cause:     fmt.Errorf("panic: %v", r),
			})
		}
	}()

	if !c.limiter.Allow() {
		metrics.RecordFailover(metrics.FailoverThrottled)
		c.logger.Warn("failover request throttled",
			slog.Duration("min_interval", c.opts.FailoverInterval))
		return
	}

	pools := c.sub.ActivePoolIDs()
	if len(pools) == 0 {
		metrics.RecordFailover(metrics.FailoverNoPools)
		c.logger.Info("failover requested with no active pools")
		return
	}

	pool := pools[0]
	err := c.sub.Relinquish(ctx, pool)
	if lerr := c.opts.Events.LogFailover(pool, err); lerr != nil {
		c.logger.Debug("failed to record lifecycle event", log.Error(lerr))
	}
	if err != nil {
		metrics.RecordFailover(metrics.FailoverError)
		c.logger.Error("failover failed",
			slog.String(log.PoolKey, pool),
			log.Error(err))
		return
	}
	metrics.RecordFailover(metrics.FailoverRelinquished)
	c.logger.Info("relinquished pool",
		slog.String(log.PoolKey, pool),
		slog.Int("active_pools", len(pools)))
}

// shutdown runs the fixed stop order: dispatcher, then the worker drain,
// then the PID file. It always reaches Stopped.
func (c *Controller) shutdown() error {
	started := time.Now()
	c.transition(StateStopping)

	c.stopSubsystem()
	drained := c.drain()

	if c.pidfile != nil {
		if err := c.pidfile.Remove(); err != nil {
			c.logger.Warn("failed to remove PID file",
				slog.String("path", c.pidfile.Path()),
				log.Error(err))
		}
	}
	c.opts.Router.Uninstall()

	c.shutdownTracing()

	c.transition(StateStopped)

	fault := c.Fault()
	exitCode := 0
	if fault != nil {
		exitCode = 1
	}
	c.logger.Info("hostkeeperd stopped",
		slog.Int("workers", drained),
		slog.Int("exit_code", exitCode),
		log.Duration(log.DurationKey, time.Since(started).Milliseconds()))
	if err := c.opts.Events.LogStop(exitCode, time.Since(started)); err != nil {
		c.logger.Debug("failed to record lifecycle event", log.Error(err))
	}
	return fault
}

// stopSubsystem stops the dispatcher under the shutdown timeout. Failure
// is logged and never blocks the rest of the sequence.
func (c *Controller) stopSubsystem() {
	if c.sub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.sub.Stop(ctx)
	}()
	if err != nil {
		var se *hkerrors.ShutdownError
		if !hkerrors.As(err, &se) {
			err = &hkerrors.ShutdownError{Subsystem: "dispatcher", Cause: err}
		}
		c.logger.Error("dispatcher stop failed",
			slog.String("error_type", hkerrors.TypeOf(err)),
			log.Error(err))
	}
}

// drain asks every registered worker to stop, each under its own timeout,
// and returns how many were observed.
func (c *Controller) drain() int {
	workers := c.registry.Workers()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w worker.Worker) {
			defer wg.Done()
			c.stopWorker(w)
		}(w)
	}
	wg.Wait()

	c.logger.Info("worker drain complete", slog.Int("workers", len(workers)))
	return len(workers)
}

func (c *Controller) stopWorker(w worker.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WorkerTimeout)
	defer cancel()

	c.logger.Info("stopping worker", slog.String(log.WorkerKey, w.Name()))
	started := time.Now()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("panic: %v", r)
			}
		}()
		errc <- w.Stop(ctx)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.ObserveWorkerStop(time.Since(started).Seconds(), err)

	if err != nil {
		c.logger.Warn("worker did not stop cleanly",
			slog.String(log.WorkerKey, w.Name()),
			log.Error(err))
	}
}

// shutdownTracing flushes pending spans.
func (c *Controller) shutdownTracing() {
	if c.opts.Tracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WorkerTimeout)
	defer cancel()
	if err := c.opts.Tracing.Shutdown(ctx); err != nil {
		c.logger.Warn("tracing shutdown failed", log.Error(err))
	}
}
