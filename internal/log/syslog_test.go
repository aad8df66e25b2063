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
	"bytes"
	"testing"
)

func TestWriterSystemLog_OneLinePerDiagnostic(t *testing.T) {
	var buf bytes.Buffer
	sl := NewWriterSystemLog(&buf, "hostkeeperd")

	if err := sl.Err("privilege check identity failed:\n  running as root"); err != nil {
		t.Fatalf("Err() returned %v", err)
	}

	want := "hostkeeperd: privilege check identity failed: running as root\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
	if err := sl.Close(); err != nil {
		t.Errorf("Close() returned %v", err)
	}
}

func TestSingleLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a\nb", "a b"},
		{"  padded\n\n  lines  ", "padded lines"},
		{"tabs\tand  spaces", "tabs and spaces"},
	}

	for _, tt := range tests {
		if got := singleLine(tt.in); got != tt.want {
			t.Errorf("singleLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
