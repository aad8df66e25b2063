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

package errors

import (
	"fmt"
)

// Error type identifiers returned by ErrorType.
const (
	TypePrivilege        = "privilege"
	TypeConfig           = "config"
	TypeSubsystemInit    = "subsystem_init"
	TypeSubsystemRuntime = "subsystem_runtime"
	TypeShutdown         = "shutdown"
)

// PrivilegeError represents an identity, group, log access or elevation
// misconfiguration detected before any subsystem is started.
type PrivilegeError struct {
	// Check names the failed check (e.g., "identity", "log_access", "elevation")
	Check string

	// Reason explains what is wrong
	Reason string

	// Hint provides actionable guidance for fixing the host setup
	Hint string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *PrivilegeError) Error() string {
	msg := fmt.Sprintf("privilege check %s failed: %s", e.Check, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PrivilegeError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *PrivilegeError) ErrorType() string { return TypePrivilege }

// IsFatal implements ErrorClassifier.
func (e *PrivilegeError) IsFatal() bool { return true }

// IsUserVisible implements UserVisibleError.
func (e *PrivilegeError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *PrivilegeError) UserMessage() string { return e.Reason }

// Suggestion implements UserVisibleError.
func (e *PrivilegeError) Suggestion() string { return e.Hint }

// ConfigError represents configuration problems, including logging and
// resource-limit configuration that cannot be applied.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "log.dir", "process.core_dump_enabled")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return TypeConfig }

// IsFatal implements ErrorClassifier.
func (e *ConfigError) IsFatal() bool { return true }

// SubsystemInitError is returned when a managed subsystem cannot be
// constructed. It aborts startup before the daemon reaches Running.
type SubsystemInitError struct {
	// Subsystem names the component (e.g., "dispatcher", "poolmanager")
	Subsystem string

	// Reason explains why construction failed
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SubsystemInitError) Error() string {
	msg := fmt.Sprintf("%s initialization failed: %s", e.Subsystem, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SubsystemInitError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *SubsystemInitError) ErrorType() string { return TypeSubsystemInit }

// IsFatal implements ErrorClassifier.
func (e *SubsystemInitError) IsFatal() bool { return true }

// SubsystemRuntimeError is a failure surfacing to the control loop while the
// daemon is running. It is never fatal on its own: the controller recovers
// it into an orderly shutdown.
type SubsystemRuntimeError struct {
	// Operation describes what was running (e.g., "failover", "status api")
	Operation string

	// Cause is the underlying error or recovered panic value
	Cause error
}

// Error implements the error interface.
func (e *SubsystemRuntimeError) Error() string {
	return fmt.Sprintf("runtime failure during %s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SubsystemRuntimeError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *SubsystemRuntimeError) ErrorType() string { return TypeSubsystemRuntime }

// IsFatal implements ErrorClassifier.
func (e *SubsystemRuntimeError) IsFatal() bool { return false }

// ShutdownError reports that a subsystem failed to stop. It is logged and
// never blocks process exit.
type ShutdownError struct {
	// Subsystem names the component that failed to stop
	Subsystem string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%s shutdown failed: %v", e.Subsystem, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ShutdownError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ShutdownError) ErrorType() string { return TypeShutdown }

// IsFatal implements ErrorClassifier.
func (e *ShutdownError) IsFatal() bool { return false }
