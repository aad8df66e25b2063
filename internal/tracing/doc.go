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

/*
Package tracing wires OpenTelemetry into hostkeeperd.

Each startup phase of the lifecycle controller runs inside a span and its
duration is recorded on the hostkeeper.startup.phase.duration histogram,
which is exposed through the Prometheus registry alongside the daemon's
own collectors.

	provider, err := tracing.Init(ctx, tracing.Config{
	    Enabled:     true,
	    Exporter:    tracing.ExporterOTLP,
	    Endpoint:    "collector:4317",
	    ServiceName: "hostkeeperd",
	})
	defer provider.Shutdown(ctx)

	gateCtx, end := provider.StartPhase(ctx, "privilege_gate")
	err = gate.Check(gateCtx)
	end(err)

When tracing is disabled spans go to a no-op tracer; phase durations are
still recorded.
*/
package tracing
