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

package log

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReopenFile is an append-only log file that follows external rotation.
// When logrotate renames or removes the file, the watcher reopens the
// original path so subsequent writes land in the fresh file.
type ReopenFile struct {
	path string
	mode os.FileMode

	mu   sync.Mutex
	file *os.File

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	// OnError is called with watcher and reopen errors. Optional.
	OnError func(err error)
}

// OpenReopenFile opens path for appending, creating it with mode if needed.
func OpenReopenFile(path string, mode os.FileMode) (*ReopenFile, error) {
	f := &ReopenFile{path: path, mode: mode}
	if err := f.Reopen(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file path being written.
func (f *ReopenFile) Path() string {
	return f.path
}

// Write implements io.Writer.
func (f *ReopenFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return 0, os.ErrClosed
	}
	return f.file.Write(p)
}

// Reopen closes the current handle and opens the path again.
func (f *ReopenFile) Reopen() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, f.mode)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	f.mu.Lock()
	old := f.file
	f.file = file
	f.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Watch starts following rotation of the file. It watches the parent
// directory, because a watch on the file itself dies with the inode.
func (f *ReopenFile) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	go f.run()
	return nil
}

func (f *ReopenFile) run() {
	defer close(f.done)
	target := filepath.Clean(f.path)

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := f.Reopen(); err != nil {
					f.reportError(err)
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.reportError(err)
		}
	}
}

func (f *ReopenFile) reportError(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Name implements worker.Worker.
func (f *ReopenFile) Name() string {
	return "log-reopen"
}

// Stop ends rotation tracking. The file stays open so late shutdown
// messages are still written.
func (f *ReopenFile) Stop(ctx context.Context) error {
	if f.watcher == nil {
		return nil
	}
	var err error
	f.stopOnce.Do(func() {
		err = f.watcher.Close()
	})
	select {
	case <-f.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the watcher and closes the file.
func (f *ReopenFile) Close() error {
	_ = f.Stop(context.Background())
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
