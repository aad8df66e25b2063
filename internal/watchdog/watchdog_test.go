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

package watchdog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "watchdog")
	if err := os.WriteFile(regular, nil, 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		device      string
		wantErr     bool
		wantPresent bool
		wantChar    bool
	}{
		{name: "empty path", device: "", wantErr: true},
		{name: "missing", device: filepath.Join(dir, "absent"), wantErr: true},
		{name: "regular file", device: regular, wantPresent: true},
		{name: "character device", device: "/dev/null", wantPresent: true, wantChar: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Probe(tt.device)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Probe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if st.Present != tt.wantPresent || st.CharDevice != tt.wantChar {
				t.Errorf("Probe() = %+v", st)
			}
		})
	}
}

func TestCheck_WarnsButNeverFails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	st := Check(logger, filepath.Join(t.TempDir(), "missing"))
	if st.Present {
		t.Error("missing device reported present")
	}
	if !strings.Contains(buf.String(), "watchdog device unavailable") {
		t.Errorf("expected warning, got %q", buf.String())
	}
}
