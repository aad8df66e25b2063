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

// Package dispatcher owns the storage-facing subsystems of hostkeeperd:
// the pool manager that holds the storage-pool-manager role and the status
// API that serves client requests.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/hostkeeper/internal/config"
	"github.com/tombee/hostkeeper/internal/log"
	"github.com/tombee/hostkeeper/internal/poolmanager"
	"github.com/tombee/hostkeeper/internal/worker"
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// Config configures a Dispatcher.
type Config struct {
	Storage config.StorageConfig
	API     config.APIConfig

	// Children receives fire-and-forget child processes (release hooks).
	Children poolmanager.ChildRegistrar

	// Workers receives the long-lived workers started by the dispatcher.
	Workers worker.Registrar

	// OnFault is called from a background goroutine when a subsystem
	// fails while running. It must not block.
	OnFault func(error)

	// Logger is the structured logger to use. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Dispatcher is the managed subsystem handle.
type Dispatcher struct {
	cfg     Config
	store   *poolmanager.Store
	manager *poolmanager.Manager
	api     *apiServer
	logger  *slog.Logger

	startedAt time.Time

	stopOnce sync.Once
	stopErr  error
}

// New opens the pool database and builds the pool manager. It fails with
// *errors.SubsystemInitError when storage is disabled or the database
// cannot be opened.
func New(ctx context.Context, cfg Config) (*Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "dispatcher")

	if !cfg.Storage.Enabled {
		return nil, &hkerrors.SubsystemInitError{
			Subsystem: "dispatcher",
			Reason:    "storage is disabled in configuration",
		}
	}

	store, err := poolmanager.OpenStore(ctx, poolmanager.StoreConfig{
		Path: cfg.Storage.Database,
		WAL:  true,
	})
	if err != nil {
		return nil, &hkerrors.SubsystemInitError{
			Subsystem: "poolmanager",
			Reason:    "cannot open pool database " + cfg.Storage.Database,
			Cause:     err,
		}
	}

	manager, err := poolmanager.New(poolmanager.Config{
		Store:         store,
		InstanceID:    cfg.Storage.InstanceID,
		Pools:         cfg.Storage.Pools,
		LeaseTTL:      cfg.Storage.LeaseTTL,
		RenewInterval: cfg.Storage.RenewInterval,
		ReleaseHook:   cfg.Storage.ReleaseHook,
		Children:      cfg.Children,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, &hkerrors.SubsystemInitError{
			Subsystem: "poolmanager",
			Reason:    "invalid pool manager configuration",
			Cause:     err,
		}
	}

	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		manager: manager,
		logger:  logger,
	}, nil
}

// Start starts the pool manager and the status API. On failure everything
// already started is stopped again.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startedAt = time.Now()

	if err := d.manager.Start(ctx, d.cfg.Workers); err != nil {
		d.store.Close()
		return &hkerrors.SubsystemInitError{Subsystem: "poolmanager", Reason: "start failed", Cause: err}
	}

	if d.cfg.API.Enabled {
		api, err := startAPI(d.cfg.API.SocketPath, d.handler(), d.logger, d.cfg.OnFault)
		if err != nil {
			if stopErr := d.manager.Stop(ctx); stopErr != nil {
				d.logger.Error("pool manager rollback failed", slog.String("error", stopErr.Error()))
				err = errors.Join(err, stopErr)
			}
			d.store.Close()
			return &hkerrors.SubsystemInitError{Subsystem: "status api", Reason: "cannot listen", Cause: err}
		}
		d.api = api
	}

	d.logger.Info("dispatcher started",
		slog.String("instance_id", d.manager.InstanceID()),
		slog.Any("active_pools", d.manager.ActivePools()))
	return nil
}

// ActivePoolIDs returns the pools this instance manages, in configured
// order.
func (d *Dispatcher) ActivePoolIDs() []string {
	return d.manager.ActivePools()
}

// Relinquish gives up the pool-manager role for poolID.
func (d *Dispatcher) Relinquish(ctx context.Context, poolID string) error {
	return d.manager.Relinquish(ctx, poolID)
}

// Stop stops the status API and the pool manager concurrently, then
// closes the pool database. Later calls return the first call's result.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		var apiErr, poolErr error

		var g errgroup.Group
		if d.api != nil {
			g.Go(func() error {
				apiErr = d.api.stop(ctx)
				return apiErr
			})
		}
		g.Go(func() error {
			poolErr = d.manager.Stop(ctx)
			return poolErr
		})
		_ = g.Wait()

		var errs []error
		if apiErr != nil {
			errs = append(errs, &hkerrors.ShutdownError{Subsystem: "status api", Cause: apiErr})
		}
		if poolErr != nil {
			errs = append(errs, &hkerrors.ShutdownError{Subsystem: "poolmanager", Cause: poolErr})
		}
		if err := d.store.Close(); err != nil {
			errs = append(errs, &hkerrors.ShutdownError{Subsystem: "pool database", Cause: err})
		}
		d.stopErr = errors.Join(errs...)
	})
	return d.stopErr
}
