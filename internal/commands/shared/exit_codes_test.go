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

package shared

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// mockUserVisibleError is a test implementation of UserVisibleError
type mockUserVisibleError struct {
	message    string
	suggestion string
	visible    bool
}

func (e *mockUserVisibleError) Error() string {
	return e.message
}

func (e *mockUserVisibleError) IsUserVisible() bool {
	return e.visible
}

func (e *mockUserVisibleError) UserMessage() string {
	return e.message
}

func (e *mockUserVisibleError) Suggestion() string {
	return e.suggestion
}

func TestPrintError_PrivilegeErrorSuggestion(t *testing.T) {
	privErr := &hkerrors.PrivilegeError{
		Check:  "identity",
		Reason: `running as "root", expected "hostkeeper"`,
		Hint:   "run hostkeeperd as the hostkeeper service account",
	}

	var buf bytes.Buffer
	PrintError(&buf, NewStartupError("startup failed", privErr))

	out := buf.String()
	if !strings.HasPrefix(out, "Error: startup failed: privilege check identity failed") {
		t.Errorf("unexpected error line: %q", out)
	}
	if !strings.Contains(out, "Suggestion: run hostkeeperd as the hostkeeper service account") {
		t.Errorf("expected suggestion in output, got %q", out)
	}
}

func TestPrintError_WrappedSuggestion(t *testing.T) {
	inner := &mockUserVisibleError{
		message:    "elevation probe failed",
		suggestion: "allow the service account to run sudo -n",
		visible:    true,
	}
	wrapped := fmt.Errorf("validating: %w", inner)

	var buf bytes.Buffer
	PrintError(&buf, wrapped)

	if !strings.Contains(buf.String(), "Suggestion: allow the service account to run sudo -n") {
		t.Errorf("expected suggestion from wrapped error, got %q", buf.String())
	}
}

func TestPrintError_HiddenOrEmptySuggestion(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not visible", &mockUserVisibleError{message: "x", suggestion: "do y", visible: false}},
		{"empty suggestion", &mockUserVisibleError{message: "x", visible: true}},
		{"plain error", errors.New("some internal error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PrintError(&buf, tt.err)
			if strings.Contains(buf.String(), "Suggestion:") {
				t.Errorf("unexpected suggestion in %q", buf.String())
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"startup", NewStartupError("startup failed", errors.New("boom")), ExitFailure},
		{"usage", NewUsageError("unexpected argument", nil), ExitFailure},
		{"custom code", &ExitError{Code: 3, Message: "x"}, 3},
		{"wrapped exit error", fmt.Errorf("outer: %w", &ExitError{Code: 4, Message: "x"}), 4},
		{"plain error", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	// Test that ExitError properly wraps cause errors
	innerErr := errors.New("inner error")
	exitErr := NewRuntimeError("runtime failure", innerErr)

	unwrapped := errors.Unwrap(exitErr)
	if unwrapped != innerErr {
		t.Errorf("expected unwrapped error to be innerErr, got %v", unwrapped)
	}
}

func TestExitError_Message(t *testing.T) {
	if got := NewUsageError("unknown flag", nil).Error(); got != "unknown flag" {
		t.Errorf("expected message without cause, got %q", got)
	}
	if got := NewStartupError("startup failed", errors.New("boom")).Error(); got != "startup failed: boom" {
		t.Errorf("expected message with cause, got %q", got)
	}
}
