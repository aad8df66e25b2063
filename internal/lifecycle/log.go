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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LifecycleEvent represents a daemon lifecycle event.
type LifecycleEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	Event      string            `json:"event"` // "start", "transition", "failover", "start_failure", "runtime_failure", "stop"
	PID        int               `json:"pid,omitempty"`
	Version    string            `json:"version,omitempty"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Pool       string            `json:"pool,omitempty"`
	ExitCode   int               `json:"exit_code,omitempty"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Flags      map[string]string `json:"flags,omitempty"`
	ConfigFile string            `json:"config_file,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// LifecycleLogger appends lifecycle events as JSON lines. A nil logger
// discards every event.
type LifecycleLogger struct {
	logPath string
	mu      sync.Mutex
}

// NewLifecycleLogger creates a new lifecycle logger. An empty path
// returns nil.
func NewLifecycleLogger(logPath string) *LifecycleLogger {
	if logPath == "" {
		return nil
	}
	return &LifecycleLogger{
		logPath: logPath,
	}
}

// Path returns the event log path.
func (l *LifecycleLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// LogStart logs a daemon start event.
func (l *LifecycleLogger) LogStart(version string, args []string, configFile string) error {
	return l.writeEvent(LifecycleEvent{
		Event:      "start",
		PID:        os.Getpid(),
		Version:    version,
		Success:    true,
		Message:    "Daemon start initiated",
		Flags:      parseFlags(args),
		ConfigFile: configFile,
	})
}

// LogTransition logs a lifecycle state change.
func (l *LifecycleLogger) LogTransition(from, to string) error {
	return l.writeEvent(LifecycleEvent{
		Event:   "transition",
		PID:     os.Getpid(),
		From:    from,
		To:      to,
		Success: true,
	})
}

// LogFailover logs the outcome of a forced failover request. pool is empty
// when no pool was owned.
func (l *LifecycleLogger) LogFailover(pool string, err error) error {
	event := LifecycleEvent{
		Event:   "failover",
		PID:     os.Getpid(),
		Pool:    pool,
		Success: err == nil,
	}
	switch {
	case err != nil:
		event.Message = "Failover failed"
		event.Error = err.Error()
	case pool == "":
		event.Message = "Failover requested with no active pools"
	default:
		event.Message = fmt.Sprintf("Relinquished pool %s", pool)
	}
	return l.writeEvent(event)
}

// LogStartFailure logs failed daemon startup.
func (l *LifecycleLogger) LogStartFailure(err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:   "start_failure",
		PID:     os.Getpid(),
		Success: false,
		Message: "Daemon failed to start",
		Error:   err.Error(),
	})
}

// LogRuntimeFailure logs a fault that forced shutdown while running.
func (l *LifecycleLogger) LogRuntimeFailure(err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:   "runtime_failure",
		PID:     os.Getpid(),
		Success: false,
		Message: "Runtime failure, shutting down",
		Error:   err.Error(),
	})
}

// LogStop logs daemon shutdown completion.
func (l *LifecycleLogger) LogStop(exitCode int, duration time.Duration) error {
	return l.writeEvent(LifecycleEvent{
		Event:    "stop",
		PID:      os.Getpid(),
		ExitCode: exitCode,
		Success:  exitCode == 0,
		Message:  fmt.Sprintf("Daemon stopped (shutdown took %v)", duration),
	})
}

// writeEvent appends a lifecycle event to the log file.
func (l *LifecycleLogger) writeEvent(event LifecycleEvent) error {
	if l == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// parseFlags converts command-line arguments to a map of flags.
// This is a simple parser for logging purposes.
func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !strings.HasPrefix(arg, "-") {
			continue
		}

		key := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}

		// Check if next arg is the value (not another flag)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
		} else {
			flags[key] = "true"
		}
	}

	return flags
}
