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
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "doing something")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
// This is a convenience wrapper around errors.As from the standard library.
//
// Usage:
//
//	var privErr *PrivilegeError
//	if errors.As(err, &privErr) {
//	    log.Printf("privilege check failed: %s", privErr.Check)
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is a convenience wrapper around errors.Join from the standard library.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// IsFatal reports whether err, or any error in its chain, is classified as
// fatal. Unclassified errors are treated as fatal: an unknown failure during
// startup must not be mistaken for a recoverable one.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.IsFatal()
	}
	return true
}

// TypeOf returns the ErrorType of the first classified error in err's chain,
// or "unknown".
func TypeOf(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorType()
	}
	return "unknown"
}
