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
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
	"golang.org/x/sys/unix"
)

// setrlimit is swapped in tests.
var setrlimit = unix.Setrlimit

// ApplyLimits applies process-wide resource limits. When core dumps are
// disabled both the soft and hard RLIMIT_CORE are set to zero. Calling it
// again with the same argument has no further effect.
func ApplyLimits(coreDumpEnabled bool) error {
	if coreDumpEnabled {
		return nil
	}

	if err := setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return &hkerrors.ConfigError{
			Key:    "process.core_dump_enabled",
			Reason: "cannot disable core dumps",
			Cause:  err,
		}
	}
	return nil
}
