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
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []LifecycleEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer f.Close()

	var events []LifecycleEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev LifecycleEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestLifecycleLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lifecycle.log")
	l := NewLifecycleLogger(path)

	if err := l.LogStart("1.2.3", []string{"--pidfile=/tmp/x.pid", "--config", "/etc/hk.yaml"}, "/etc/hk.yaml"); err != nil {
		t.Fatalf("LogStart() error = %v", err)
	}
	if err := l.LogTransition("validating", "starting"); err != nil {
		t.Fatal(err)
	}
	if err := l.LogFailover("", nil); err != nil {
		t.Fatal(err)
	}
	if err := l.LogFailover("p1", errors.New("lease busy")); err != nil {
		t.Fatal(err)
	}
	if err := l.LogStop(0, time.Second); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}

	start := events[0]
	if start.Event != "start" || start.Version != "1.2.3" {
		t.Errorf("unexpected start event %+v", start)
	}
	if start.Flags["pidfile"] != "/tmp/x.pid" || start.Flags["config"] != "/etc/hk.yaml" {
		t.Errorf("unexpected flags %v", start.Flags)
	}
	if events[1].From != "validating" || events[1].To != "starting" {
		t.Errorf("unexpected transition %+v", events[1])
	}
	if !events[2].Success || events[2].Pool != "" {
		t.Errorf("empty failover should succeed without pool: %+v", events[2])
	}
	if events[3].Success || events[3].Error != "lease busy" {
		t.Errorf("failed failover not recorded: %+v", events[3])
	}
	if events[4].Event != "stop" || !events[4].Success {
		t.Errorf("unexpected stop event %+v", events[4])
	}
}

func TestLifecycleLogger_Nil(t *testing.T) {
	l := NewLifecycleLogger("")
	if l != nil {
		t.Fatal("empty path should disable the logger")
	}
	if err := l.LogStartFailure(errors.New("boom")); err != nil {
		t.Errorf("nil logger returned error: %v", err)
	}
	if l.Path() != "" {
		t.Error("nil logger path should be empty")
	}
}

func TestParseFlags(t *testing.T) {
	got := parseFlags([]string{"--version", "--pidfile", "/run/x.pid", "-h", "--config=/c.yaml", "positional"})
	want := map[string]string{
		"version": "true",
		"pidfile": "/run/x.pid",
		"h":       "true",
		"config":  "/c.yaml",
	}
	if len(got) != len(want) {
		t.Fatalf("parseFlags() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("flag %s = %q, want %q", k, got[k], v)
		}
	}
}
