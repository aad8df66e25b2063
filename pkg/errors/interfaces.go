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

// UserVisibleError defines errors that should be displayed to operators
// with a plain message and actionable suggestion.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to operators.
	IsUserVisible() bool

	// UserMessage returns an operator-facing error message.
	UserMessage() string

	// Suggestion returns actionable guidance for resolving the error.
	// Returns empty string if no suggestion is available.
	Suggestion() string
}

// ErrorClassifier defines methods for programmatic error handling.
// The supervisor uses it to decide whether a failure aborts the process
// immediately or is routed through the shutdown sequence.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "privilege", "config", "subsystem_init"
	ErrorType() string

	// IsFatal returns true if the error must terminate the process
	// without attempting a shutdown sequence.
	IsFatal() bool
}
