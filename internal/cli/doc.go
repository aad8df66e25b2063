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
Package cli provides the root command for hostkeeperd.

hostkeeperd is a single command with no subcommands and no positional
arguments:

	hostkeeperd [--config PATH] [--pidfile PATH]

-h/--help prints usage and exits 0. Any other argument is a usage error
and exits 1. Once flags are parsed the command hands over to
internal/commands/daemon, which builds the lifecycle controller.

# Exit Codes

	0  the daemon reached the stopped state after a termination request
	1  usage error, configuration or logging failure, privilege check
	   failure, subsystem construction failure, or a runtime failure that
	   forced shutdown

Errors are returned as *shared.ExitError and translated by HandleExitError.
*/
package cli
