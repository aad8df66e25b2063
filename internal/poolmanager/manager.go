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

// Package poolmanager holds the storage-pool-manager role for the pools
// this host is configured to serve.
//
// The role is a per-pool lease in a shared SQLite database. A background
// renewer acquires free or expired leases and extends the ones it holds.
// Relinquish gives a pool up and keeps this instance from taking it back
// for one lease TTL, which lets a peer pick it up.
package poolmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/hostkeeper/internal/log"
	"github.com/tombee/hostkeeper/internal/metrics"
	"github.com/tombee/hostkeeper/internal/worker"
)

// releaseTimeout bounds the final lease release in Stop.
const releaseTimeout = 5 * time.Second

var (
	// ErrPoolNotHeld is returned by Relinquish for a pool this instance
	// does not manage.
	ErrPoolNotHeld = errors.New("pool is not held by this instance")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("pool manager stopped")
)

// ChildRegistrar takes ownership of fire-and-forget child processes.
type ChildRegistrar interface {
	Register(pid int)
}

// Spawner starts argv without waiting for it and returns its PID.
type Spawner func(argv []string) (int, error)

// Config configures a Manager.
type Config struct {
	// Store is the lease store. Required.
	Store *Store

	// InstanceID identifies this daemon as lease owner. A random UUID is
	// used when empty.
	InstanceID string

	// Pools lists pool IDs in priority order.
	Pools []string

	LeaseTTL      time.Duration
	RenewInterval time.Duration

	// ReleaseHook is the full command run after a pool is relinquished,
	// with the pool ID appended. Empty disables the hook.
	ReleaseHook []string

	// Children receives the PID of each spawned release hook.
	Children ChildRegistrar

	// Spawner overrides how release hooks are started.
	Spawner Spawner

	// Logger is the structured logger to use. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Manager owns the pool leases of one daemon instance.
type Manager struct {
	store      *Store
	instanceID string
	pools      []string
	ttl        time.Duration
	interval   time.Duration
	hook       []string
	children   ChildRegistrar
	spawn      Spawner
	logger     *slog.Logger
	now        func() time.Time

	// mu serializes renew passes with Relinquish so a pool being given up
	// is never re-acquired in between.
	mu      sync.Mutex
	held    map[string]time.Time
	backoff map[string]time.Time
	stopped bool

	renewer *renewer
}

// New creates a Manager. It does not touch the store until Start.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("poolmanager: store is required")
	}
	if cfg.LeaseTTL <= 0 || cfg.RenewInterval <= 0 || cfg.LeaseTTL <= cfg.RenewInterval {
		return nil, fmt.Errorf("poolmanager: lease ttl %v must exceed renew interval %v", cfg.LeaseTTL, cfg.RenewInterval)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	spawn := cfg.Spawner
	if spawn == nil {
		spawn = spawnDetached
	}

	return &Manager{
		store:      cfg.Store,
		instanceID: instanceID,
		pools:      slices.Clone(cfg.Pools),
		ttl:        cfg.LeaseTTL,
		interval:   cfg.RenewInterval,
		hook:       slices.Clone(cfg.ReleaseHook),
		children:   cfg.Children,
		spawn:      spawn,
		logger:     log.WithComponent(logger, "poolmanager").With(slog.String("instance_id", instanceID)),
		now:        time.Now,
		held:       make(map[string]time.Time),
		backoff:    make(map[string]time.Time),
	}, nil
}

// InstanceID returns the lease owner identity of this instance.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Start runs one renew pass and starts the background renewer, which is
// registered with reg so shutdown can stop it.
func (m *Manager) Start(ctx context.Context, reg worker.Registrar) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.renewer != nil {
		m.mu.Unlock()
		return nil
	}
	m.renewer = newRenewer(m)
	m.mu.Unlock()

	m.renew(ctx)

	if reg != nil {
		reg.Register(m.renewer)
	}
	go m.renewer.run()

	m.logger.Info("pool manager started",
		slog.Int("configured_pools", len(m.pools)),
		slog.Int("held_pools", len(m.ActivePools())))
	return nil
}

// ActivePools returns the pools currently held, in configured order.
func (m *Manager) ActivePools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var active []string
	for _, id := range m.pools {
		if exp, ok := m.held[id]; ok && now.Before(exp) {
			active = append(active, id)
		}
	}
	return active
}

// Leases returns every lease row in the store.
func (m *Manager) Leases(ctx context.Context) ([]Lease, error) {
	return m.store.Leases(ctx)
}

// Relinquish gives up the pool-manager role for poolID, backs off from
// re-acquiring it for one lease TTL and starts the release hook.
func (m *Manager) Relinquish(ctx context.Context, poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if _, ok := m.held[poolID]; !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotHeld, poolID)
	}

	m.backoff[poolID] = m.now().Add(m.ttl)
	delete(m.held, poolID)
	metrics.SetLeasesHeld(len(m.held))

	released, err := m.store.Release(ctx, poolID, m.instanceID)
	metrics.RecordLeaseOperation("release", err)
	if err != nil {
		return err
	}
	if !released {
		m.logger.Warn("lease already lost before relinquish", slog.String(log.PoolKey, poolID))
	}

	m.logger.Info("relinquished pool", slog.String(log.PoolKey, poolID), slog.Duration("backoff", m.ttl))
	m.runReleaseHook(poolID)
	return nil
}

func (m *Manager) runReleaseHook(poolID string) {
	if len(m.hook) == 0 {
		return
	}

	argv := append(slices.Clone(m.hook), poolID)
	pid, err := m.spawn(argv)
	if err != nil {
		m.logger.Error("failed to start release hook",
			slog.String(log.PoolKey, poolID), slog.String("command", argv[0]), log.Error(err))
		return
	}
	if m.children != nil {
		m.children.Register(pid)
	}
	m.logger.Debug("release hook started", slog.String(log.PoolKey, poolID), slog.Int("pid", pid))
}

// renew acquires or extends leases on all configured pools that are not
// backing off.
func (m *Manager) renew(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := m.now()
	for _, id := range m.pools {
		if until, ok := m.backoff[id]; ok {
			if now.Before(until) {
				continue
			}
			delete(m.backoff, id)
		}

		ok, err := m.store.Acquire(ctx, id, m.instanceID, now, m.ttl)
		metrics.RecordLeaseOperation("acquire", err)
		if err != nil {
			m.logger.Warn("lease renewal failed", slog.String(log.PoolKey, id), log.Error(err))
			continue
		}

		_, had := m.held[id]
		switch {
		case ok:
			m.held[id] = now.Add(m.ttl)
			if !had {
				m.logger.Info("acquired pool", slog.String(log.PoolKey, id))
			}
		case had:
			delete(m.held, id)
			m.logger.Warn("lost pool to another instance", slog.String(log.PoolKey, id))
		}
	}
	metrics.SetLeasesHeld(len(m.held))
}

// Stop stops the renewer and releases every lease this instance holds.
// Leases are released even when the renewer does not exit before ctx is
// done; both errors are returned joined. It does not close the store.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	if m.renewer != nil {
		if err := m.renewer.Stop(ctx); err != nil {
			stopErr = fmt.Errorf("renewer stop: %w", err)
			m.logger.Warn("lease renewer did not stop in time", slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return stopErr
	}
	m.stopped = true

	// ctx may already be done here; leases still go back to the pool.
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	n, err := m.store.ReleaseAll(relCtx, m.instanceID)
	metrics.RecordLeaseOperation("release_all", err)
	m.held = make(map[string]time.Time)
	metrics.SetLeasesHeld(0)
	if err != nil {
		return errors.Join(stopErr, err)
	}
	m.logger.Info("pool manager stopped", slog.Int64("released", n))
	return stopErr
}

func spawnDetached(argv []string) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The reaper collects the child; drop our handle without waiting.
	_ = cmd.Process.Release()
	return pid, nil
}
