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
	"fmt"

	"golang.org/x/sys/unix"
)

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the permission and existence check only. EPERM
	// means the process exists under another account.
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// describeProcess renders a PID for diagnostics, including its command line
// when it can be read.
func describeProcess(pid int) string {
	if !IsProcessRunning(pid) {
		return fmt.Sprintf("pid %d (not running)", pid)
	}
	if cmd, err := getProcessCommand(pid); err == nil && cmd != "" {
		return fmt.Sprintf("pid %d (%s)", pid, cmd)
	}
	return fmt.Sprintf("pid %d", pid)
}
