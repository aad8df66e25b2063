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

// Package metrics holds the Prometheus collectors exported by hostkeeperd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States in lifecycle order. Kept in sync with supervisor.State names.
var states = []string{"validating", "starting", "running", "stopping", "stopped"}

var (
	lifecycleState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostkeeper_lifecycle_state",
			Help: "Current lifecycle state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	signalsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostkeeper_signal_events_total",
			Help: "Total control events received by type",
		},
		[]string{"event"},
	)

	failovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostkeeper_failovers_total",
			Help: "Total failover requests by outcome",
		},
		[]string{"outcome"},
	)

	childrenReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostkeeper_children_reaped_total",
		Help: "Total orphaned child processes collected",
	})

	leasesHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostkeeper_pool_leases_held",
		Help: "Number of storage pool leases currently held",
	})

	leaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostkeeper_pool_lease_operations_total",
			Help: "Total pool lease operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	workerStopDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostkeeper_worker_stop_duration_seconds",
			Help:    "Time taken by background workers to stop during shutdown",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
)

// Failover outcomes.
const (
	FailoverRelinquished = "relinquished"
	FailoverNoPools      = "no_pools"
	FailoverThrottled    = "throttled"
	FailoverError        = "error"
)

// SetState marks state as the active lifecycle state.
func SetState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		lifecycleState.WithLabelValues(s).Set(v)
	}
}

// RecordSignal counts a control event.
func RecordSignal(event string) {
	signalsReceived.WithLabelValues(event).Inc()
}

// RecordFailover counts a failover request outcome.
func RecordFailover(outcome string) {
	failovers.WithLabelValues(outcome).Inc()
}

// RecordReaped counts a collected child process.
func RecordReaped() {
	childrenReaped.Inc()
}

// SetLeasesHeld records the number of held pool leases.
func SetLeasesHeld(n int) {
	leasesHeld.Set(float64(n))
}

// RecordLeaseOperation counts a lease store operation.
func RecordLeaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	leaseOperations.WithLabelValues(operation, status).Inc()
}

// ObserveWorkerStop records how long a worker took to stop.
func ObserveWorkerStop(seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	workerStopDuration.WithLabelValues(status).Observe(seconds)
}

// Handler returns the HTTP handler serving all registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
