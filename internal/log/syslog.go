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
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strings"
	"sync"
)

// SystemLogger writes single-line diagnostics to the host's system log.
// It is used while the daemon's own log is not yet configured.
type SystemLogger interface {
	// Err writes one diagnostic line at error severity.
	Err(msg string) error

	// Close releases the connection to the system log.
	Close() error
}

type syslogWriter struct {
	w *syslog.Writer
}

func (s *syslogWriter) Err(msg string) error { return s.w.Err(singleLine(msg)) }
func (s *syslogWriter) Close() error         { return s.w.Close() }

// fallbackLogger writes "<tag>: <msg>" lines to a plain writer.
type fallbackLogger struct {
	mu  sync.Mutex
	out io.Writer
	tag string
}

func (f *fallbackLogger) Err(msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.out, "%s: %s\n", f.tag, singleLine(msg))
	return err
}

func (f *fallbackLogger) Close() error { return nil }

// OpenSystemLog connects to the local syslog daemon using the daemon
// facility. When syslog is unreachable (containers, minimal hosts) the
// returned logger writes to stderr instead, so a diagnostic is never lost.
func OpenSystemLog(tag string) SystemLogger {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_ERR, tag)
	if err != nil {
		return NewWriterSystemLog(os.Stderr, tag)
	}
	return &syslogWriter{w: w}
}

// NewWriterSystemLog returns a SystemLogger writing to out.
func NewWriterSystemLog(out io.Writer, tag string) SystemLogger {
	return &fallbackLogger{out: out, tag: tag}
}

// singleLine collapses embedded newlines so one failure yields one line.
func singleLine(msg string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(msg, "\n", " ")), " ")
}
