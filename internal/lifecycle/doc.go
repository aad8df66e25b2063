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
Package lifecycle holds the process-level pieces of the hostkeeperd
lifecycle: the PID file, process-wide resource limits and the lifecycle
event log.

# PID File Management

The PID file is written once the daemon is running and removed on exit.
It is opened without following symlinks and kept under an exclusive flock
for the life of the process, so a second daemon started against the same
path fails with ErrPIDFileLocked while a file left behind by a crash is
simply rewritten:

	manager := lifecycle.NewPIDFileManager("/run/hostkeeper/hostkeeperd.pid")
	if err := manager.Create(os.Getpid()); err != nil {
	    // Handle error
	}
	defer manager.Remove()

The file contains the decimal PID followed by a newline and has mode 0664.

# Resource Limits

ApplyLimits disables core dumps unless the configuration enables them:

	if err := lifecycle.ApplyLimits(cfg.Process.CoreDumpEnabled); err != nil {
	    // *errors.ConfigError, abort startup
	}

# Lifecycle Event Log

Lifecycle events are appended to a JSON-lines file for later inspection:

	logger := lifecycle.NewLifecycleLogger(cfg.LifecycleLogPath())
	logger.LogStart(version, os.Args[1:], configPath)
	logger.LogTransition("starting", "running")

A nil *LifecycleLogger discards events.
*/
package lifecycle
