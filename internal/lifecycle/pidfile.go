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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PIDFileMode is the permission set applied to the PID file once written.
const PIDFileMode os.FileMode = 0664

var (
	// ErrPIDFileLocked is returned when another process holds the PID file lock.
	ErrPIDFileLocked = errors.New("PID file is locked by another process")

	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable
	// without the sticky bit.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// PIDFileManager manages the daemon PID file.
//
// The file is opened without following symlinks and locked with a
// non-blocking exclusive flock that is held for the life of the process.
// A leftover file from a crashed daemon carries no lock and is reused.
type PIDFileManager struct {
	path     string
	lockFile *os.File
}

// NewPIDFileManager creates a new PID file manager for the given path.
func NewPIDFileManager(path string) *PIDFileManager {
	return &PIDFileManager{
		path: path,
	}
}

// Path returns the managed PID file path.
func (m *PIDFileManager) Path() string {
	return m.path
}

// Create writes "<pid>\n" to the file with mode 0664 and keeps it locked.
// Returns ErrPIDFileLocked when a running daemon already holds the file.
func (m *PIDFileManager) Create(pid int) error {
	parentDir := filepath.Dir(m.path)
	if err := m.verifyDirectorySafety(parentDir); err != nil {
		return fmt.Errorf("unsafe PID file location: %w", err)
	}

	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	// O_RDWR is needed for flock; O_NOFOLLOW refuses a planted symlink.
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE|unix.O_NOFOLLOW, PIDFileMode)
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder, rerr := m.Read(); rerr == nil {
				return fmt.Errorf("%w: %s", ErrPIDFileLocked, describeProcess(holder))
			}
			return ErrPIDFileLocked
		}
		return fmt.Errorf("failed to lock PID file: %w", err)
	}

	if err := writePID(f, pid); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		os.Remove(m.path)
		return err
	}

	// Keep file open to maintain lock
	m.lockFile = f
	return nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate PID file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind PID file: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		return fmt.Errorf("failed to write PID: %w", err)
	}
	// The create mode is filtered through the umask; set it explicitly.
	if err := f.Chmod(PIDFileMode); err != nil {
		return fmt.Errorf("failed to set PID file mode: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the file.
// Returns ErrInvalidPID if the file contains non-numeric data.
func (m *PIDFileManager) Read() (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPID, pidStr)
	}

	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}

	return pid, nil
}

// Remove deletes the PID file and releases the lock. It is a no-op when
// this manager never created the file, so a second daemon that lost the
// lock race cannot delete the winner's file.
func (m *PIDFileManager) Remove() error {
	if m.lockFile == nil {
		return nil
	}

	err := os.Remove(m.path)
	unix.Flock(int(m.lockFile.Fd()), unix.LOCK_UN)
	m.lockFile.Close()
	m.lockFile = nil

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// verifyDirectorySafety refuses a world-writable parent unless the sticky
// bit is set, so /tmp and /var/tmp remain usable.
func (m *PIDFileManager) verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		// Directory doesn't exist yet - that's fine, we'll create it
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}

	return nil
}
