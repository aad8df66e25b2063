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
Package supervisor is the lifecycle controller of hostkeeperd.

A Controller moves through Validating, Starting, Running, Stopping and
Stopped in that order and never revisits a state. A failed startup jumps
straight to Stopped.

  - Validating runs the privilege gate, opens the daemon log and applies
    resource limits. Any failure is fatal and no subsystem is touched.
  - Starting installs the signal router and the orphan reaper, builds and
    starts the dispatcher, and writes the PID file.
  - Running blocks on the signal router. A failover request relinquishes
    the first active pool; a termination request or a runtime fault ends
    the loop.
  - Stopping stops the dispatcher, then asks every registered background
    worker to stop, each under its own timeout.

Dispatcher calls happen on the goroutine that called Run. Other
goroutines only raise events on the router.
*/
package supervisor
