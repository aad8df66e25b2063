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

package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherNames(t *testing.T, reg *promclient.Registry) []string {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	return names
}

func TestInit_Disabled(t *testing.T) {
	reg := promclient.NewRegistry()
	p, err := Init(context.Background(), Config{Registerer: reg})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, end := p.StartPhase(context.Background(), "privilege_gate")
	end(nil)

	assert.NotNil(t, p.Tracer())

	var found bool
	for _, name := range gatherNames(t, reg) {
		if strings.HasPrefix(name, "hostkeeper_startup_phase_duration") {
			found = true
		}
	}
	assert.True(t, found, "phase histogram should be exported while tracing is disabled")
}

func TestInit_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	reg := promclient.NewRegistry()
	p, err := Init(context.Background(), Config{
		Enabled:        true,
		Exporter:       ExporterStdout,
		ServiceVersion: "test",
		Registerer:     reg,
		Writer:         &buf,
	})
	require.NoError(t, err)

	_, end := p.StartPhase(context.Background(), "dispatcher")
	end(errors.New("database locked"))

	require.NoError(t, p.Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "lifecycle.dispatcher")
	assert.Contains(t, out, "database locked")
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{
		Enabled:    true,
		Exporter:   "zipkin",
		Registerer: promclient.NewRegistry(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trace exporter")
}
