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

package errors_test

import (
	"errors"
	"fmt"
	"testing"

	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

func TestPrivilegeError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *hkerrors.PrivilegeError
		wantMsg string
	}{
		{
			name: "without cause",
			err: &hkerrors.PrivilegeError{
				Check:  "identity",
				Reason: `running as "root", expected "hostkeeper"`,
			},
			wantMsg: `privilege check identity failed: running as "root", expected "hostkeeper"`,
		},
		{
			name: "with cause",
			err: &hkerrors.PrivilegeError{
				Check:  "elevation",
				Reason: "helper command failed",
				Cause:  errors.New("exit status 1"),
			},
			wantMsg: "privilege check elevation failed: helper command failed: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("PrivilegeError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestPrivilegeError_UserVisible(t *testing.T) {
	err := &hkerrors.PrivilegeError{
		Check:  "identity",
		Reason: "wrong user",
		Hint:   "run the daemon as the service account",
	}

	var visible hkerrors.UserVisibleError = err
	if !visible.IsUserVisible() {
		t.Error("IsUserVisible() = false, want true")
	}
	if got := visible.Suggestion(); got != "run the daemon as the service account" {
		t.Errorf("Suggestion() = %q", got)
	}
	if got := visible.UserMessage(); got != "wrong user" {
		t.Errorf("UserMessage() = %q", got)
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *hkerrors.ConfigError
		wantMsg string
	}{
		{
			name:    "with key",
			err:     &hkerrors.ConfigError{Key: "log.dir", Reason: "must not be empty"},
			wantMsg: "config error at log.dir: must not be empty",
		},
		{
			name:    "without key",
			err:     &hkerrors.ConfigError{Reason: "invalid yaml"},
			wantMsg: "config error: invalid yaml",
		},
		{
			name:    "with cause",
			err:     &hkerrors.ConfigError{Key: "process", Reason: "setrlimit", Cause: errors.New("operation not permitted")},
			wantMsg: "config error at process: setrlimit: operation not permitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestClassification(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		wantType  string
		wantFatal bool
	}{
		{"privilege", &hkerrors.PrivilegeError{Check: "identity", Cause: cause}, hkerrors.TypePrivilege, true},
		{"config", &hkerrors.ConfigError{Reason: "bad", Cause: cause}, hkerrors.TypeConfig, true},
		{"subsystem init", &hkerrors.SubsystemInitError{Subsystem: "dispatcher", Cause: cause}, hkerrors.TypeSubsystemInit, true},
		{"subsystem runtime", &hkerrors.SubsystemRuntimeError{Operation: "failover", Cause: cause}, hkerrors.TypeSubsystemRuntime, false},
		{"shutdown", &hkerrors.ShutdownError{Subsystem: "dispatcher", Cause: cause}, hkerrors.TypeShutdown, false},
		{"wrapped runtime", fmt.Errorf("loop: %w", &hkerrors.SubsystemRuntimeError{Operation: "x", Cause: cause}), hkerrors.TypeSubsystemRuntime, false},
		{"plain error", cause, "unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hkerrors.TypeOf(tt.err); got != tt.wantType {
				t.Errorf("TypeOf() = %q, want %q", got, tt.wantType)
			}
			if got := hkerrors.IsFatal(tt.err); got != tt.wantFatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.wantFatal)
			}
			if tt.name != "plain error" && !errors.Is(tt.err, cause) {
				t.Error("errors.Is() did not find the cause through Unwrap")
			}
		})
	}
}

func TestIsFatal_Nil(t *testing.T) {
	if hkerrors.IsFatal(nil) {
		t.Error("IsFatal(nil) = true, want false")
	}
}

func TestWrap(t *testing.T) {
	if hkerrors.Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := &hkerrors.ShutdownError{Subsystem: "api", Cause: errors.New("closed")}
	wrapped := hkerrors.Wrapf(base, "stopping %s", "dispatcher")
	if wrapped.Error() != "stopping dispatcher: api shutdown failed: closed" {
		t.Errorf("Wrapf() = %q", wrapped.Error())
	}

	var shutdownErr *hkerrors.ShutdownError
	if !hkerrors.As(wrapped, &shutdownErr) {
		t.Fatal("As() did not find ShutdownError")
	}
	if shutdownErr.Subsystem != "api" {
		t.Errorf("Subsystem = %q, want api", shutdownErr.Subsystem)
	}
}
