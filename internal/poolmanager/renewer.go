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

package poolmanager

import (
	"context"
	"sync"
	"time"
)

// renewer is the background lease renewal loop. It is the manager's
// registered worker.
type renewer struct {
	m        *Manager
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newRenewer(m *Manager) *renewer {
	return &renewer{
		m:      m,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name implements worker.Worker.
func (r *renewer) Name() string {
	return "pool-lease-renewer"
}

func (r *renewer) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.m.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.m.renew(ctx)
		}
	}
}

// Stop implements worker.Worker.
func (r *renewer) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
