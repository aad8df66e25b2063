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

// Package worker holds the registry of long-lived background workers.
//
// Every goroutine that outlives a single request (signal handlers aside)
// registers a cancellation handle here when it is created. At shutdown the
// supervisor walks the registry and asks each worker to stop; the registry
// does not own the goroutines, it only remembers how to reach them.
package worker

import (
	"context"
	"sync"
)

// Worker is a cancellation handle for a long-lived background goroutine.
type Worker interface {
	// Name identifies the worker in shutdown logs.
	Name() string

	// Stop asks the worker to exit and waits until it has, or until ctx
	// is done.
	Stop(ctx context.Context) error
}

// Registrar is the registration side of Registry, accepted by components
// that start workers.
type Registrar interface {
	Register(w Worker)
}

// Func adapts a stop function to the Worker interface.
type Func struct {
	name string
	stop func(ctx context.Context) error
}

// NewFunc returns a Worker named name that calls stop on Stop.
func NewFunc(name string, stop func(ctx context.Context) error) *Func {
	return &Func{name: name, stop: stop}
}

// Name implements Worker.
func (f *Func) Name() string { return f.name }

// Stop implements Worker.
func (f *Func) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

// Registry is an append-only set of workers, safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	workers []Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds w to the registry. Nil workers are ignored.
func (r *Registry) Register(w Worker) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

// Workers returns a snapshot of registered workers in registration order.
func (r *Registry) Workers() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
