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

package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/hostkeeper/internal/log"
	"github.com/tombee/hostkeeper/internal/metrics"
	"github.com/tombee/hostkeeper/internal/poolmanager"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
	Uptime     string `json:"uptime"`
}

// PoolsResponse is returned by GET /v1/pools.
type PoolsResponse struct {
	InstanceID string              `json:"instance_id"`
	Active     []string            `json:"active"`
	Leases     []poolmanager.Lease `json:"leases"`
}

// apiServer is the client-request interface served on a Unix socket.
type apiServer struct {
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}
	logger *slog.Logger
}

func (d *Dispatcher) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /v1/pools", d.handlePools)
	mux.Handle("GET /metrics", metrics.Handler())
	return log.HTTPMiddleware(d.logger, mux)
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		InstanceID: d.manager.InstanceID(),
		Uptime:     time.Since(d.startedAt).Round(time.Second).String(),
	})
}

func (d *Dispatcher) handlePools(w http.ResponseWriter, r *http.Request) {
	leases, err := d.manager.Leases(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	active := d.manager.ActivePools()
	if active == nil {
		active = []string{}
	}
	if leases == nil {
		leases = []poolmanager.Lease{}
	}
	writeJSON(w, http.StatusOK, PoolsResponse{
		InstanceID: d.manager.InstanceID(),
		Active:     active,
		Leases:     leases,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func startAPI(socketPath string, h http.Handler, logger *slog.Logger, onFault func(error)) (*apiServer, error) {
	ln, err := newUnixListener(socketPath)
	if err != nil {
		return nil, err
	}

	a := &apiServer{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		defer close(a.done)
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status API stopped unexpectedly", log.Error(err))
			if onFault != nil {
				onFault(err)
			}
		}
	}()

	logger.Info("status API listening", slog.String("socket", socketPath))
	return a, nil
}

// stop shuts the server down, waiting for in-flight requests until ctx
// expires.
func (a *apiServer) stop(ctx context.Context) error {
	err := a.srv.Shutdown(ctx)
	if err != nil {
		_ = a.srv.Close()
	}
	<-a.done
	return err
}
