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

// Package signals turns asynchronous OS signals into control events for
// the lifecycle controller.
//
// Termination is level-triggered: once requested it stays requested.
// Failover is edge-triggered: a pending request is consumed by
// TakeFailover, and requests arriving before it is consumed coalesce into
// one.
package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Event is a control event derived from a signal.
type Event int

const (
	// EventTerminate requests an orderly shutdown.
	EventTerminate Event = iota + 1
	// EventFailover requests that the pool-manager role be given up.
	EventFailover
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventTerminate:
		return "terminate"
	case EventFailover:
		return "failover"
	default:
		return "unknown"
	}
}

// Config maps OS signals to events.
type Config struct {
	Terminate []os.Signal
	Failover  []os.Signal
}

// DefaultConfig maps SIGTERM and SIGINT to EventTerminate and SIGUSR1 to
// EventFailover.
func DefaultConfig() Config {
	return Config{
		Terminate: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
		Failover:  []os.Signal{syscall.SIGUSR1},
	}
}

// Router owns the signal flags and the wait primitive.
type Router struct {
	cfg Config

	mu              sync.Mutex
	cond            *sync.Cond
	keepRunning     bool
	pendingFailover bool

	// OnEvent, if set, is called from the delivering goroutine after the
	// flags are updated. It must not block.
	OnEvent func(ev Event, sig os.Signal)

	sigCh chan os.Signal
	done  chan struct{}
	once  sync.Once
}

// NewRouter returns a Router in the running state. Signals are not
// delivered until Install is called.
func NewRouter(cfg Config) *Router {
	r := &Router{
		cfg:         cfg,
		keepRunning: true,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Install starts delivery of the configured signals. A router with no
// signals configured only reacts to Raise.
func (r *Router) Install() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sigCh != nil {
		return
	}

	sigs := make([]os.Signal, 0, len(r.cfg.Terminate)+len(r.cfg.Failover))
	sigs = append(sigs, r.cfg.Terminate...)
	sigs = append(sigs, r.cfg.Failover...)
	// Notify with no signals would subscribe to every signal.
	if len(sigs) == 0 {
		return
	}

	r.sigCh = make(chan os.Signal, 4)
	r.done = make(chan struct{})
	signal.Notify(r.sigCh, sigs...)

	go r.loop(r.sigCh, r.done)
}

// Uninstall stops signal delivery. Flags keep their current values.
func (r *Router) Uninstall() {
	r.mu.Lock()
	ch, done := r.sigCh, r.done
	r.sigCh, r.done = nil, nil
	r.mu.Unlock()

	if ch == nil {
		return
	}
	signal.Stop(ch)
	close(done)
}

func (r *Router) loop(ch <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-ch:
			if ev, ok := r.classify(sig); ok {
				r.raise(ev, sig)
			}
		case <-done:
			return
		}
	}
}

func (r *Router) classify(sig os.Signal) (Event, bool) {
	for _, s := range r.cfg.Terminate {
		if s == sig {
			return EventTerminate, true
		}
	}
	for _, s := range r.cfg.Failover {
		if s == sig {
			return EventFailover, true
		}
	}
	return 0, false
}

// Raise records ev exactly as if its signal had been delivered. It is used
// for internal aborts.
func (r *Router) Raise(ev Event) {
	r.raise(ev, nil)
}

func (r *Router) raise(ev Event, sig os.Signal) {
	r.mu.Lock()
	switch ev {
	case EventTerminate:
		r.keepRunning = false
	case EventFailover:
		r.pendingFailover = true
	}
	r.cond.Broadcast()
	r.mu.Unlock()

	if r.OnEvent != nil {
		r.OnEvent(ev, sig)
	}
}

// Running reports whether termination has not yet been requested.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keepRunning
}

// TakeFailover reports whether a failover request is pending and clears it.
func (r *Router) TakeFailover() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.pendingFailover
	r.pendingFailover = false
	return pending
}

// Wait blocks until termination has been requested or a failover request
// is pending. Both flags are checked under the lock, so an event raised
// between the check and the block is never lost.
func (r *Router) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.keepRunning && !r.pendingFailover {
		r.cond.Wait()
	}
}
