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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Service.User != "hostkeeper" {
		t.Errorf("expected service user 'hostkeeper', got %q", cfg.Service.User)
	}
	if cfg.Log.FilePath() != "/var/log/hostkeeper/hostkeeperd.log" {
		t.Errorf("unexpected log file path %q", cfg.Log.FilePath())
	}
	if cfg.Process.CoreDumpEnabled {
		t.Error("expected core dumps disabled by default")
	}
	if got := strings.Join(cfg.Elevation.CheckArgs, " "); got != "-n /bin/true" {
		t.Errorf("expected elevation check args '-n /bin/true', got %q", got)
	}
	if !cfg.Storage.Enabled {
		t.Error("expected storage enabled by default")
	}
	if cfg.Shutdown.WorkerTimeout != 5*time.Second {
		t.Errorf("expected worker timeout 5s, got %v", cfg.Shutdown.WorkerTimeout)
	}
	if cfg.LifecycleLogPath() != "/var/log/hostkeeper/lifecycle.log" {
		t.Errorf("unexpected lifecycle log path %q", cfg.LifecycleLogPath())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing user",
			modify:  func(c *Config) { c.Service.User = "" },
			wantErr: true,
			errText: "service.user is required",
		},
		{
			name:    "log file with separator",
			modify:  func(c *Config) { c.Log.File = "sub/daemon.log" },
			wantErr: true,
			errText: "log.file must be a plain file name",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
			errText: "log.level must be one of",
		},
		{
			name:   "trace log level",
			modify: func(c *Config) { c.Log.Level = "trace" },
		},
		{
			name:   "mixed case log level",
			modify: func(c *Config) { c.Log.Level = "Warning" },
		},
		{
			name: "lease ttl not above renew interval",
			modify: func(c *Config) {
				c.Storage.LeaseTTL = 5 * time.Second
				c.Storage.RenewInterval = 5 * time.Second
			},
			wantErr: true,
			errText: "must exceed storage.renew_interval",
		},
		{
			name: "lease ttl ignored when storage disabled",
			modify: func(c *Config) {
				c.Storage.Enabled = false
				c.Storage.LeaseTTL = time.Second
			},
		},
		{
			name:    "duplicate pool",
			modify:  func(c *Config) { c.Storage.Pools = []string{"p1", "p2", "p1"} },
			wantErr: true,
			errText: `duplicate pool id "p1"`,
		},
		{
			name:    "negative failover interval",
			modify:  func(c *Config) { c.Failover.MinInterval = -time.Second },
			wantErr: true,
			errText: "failover.min_interval must be non-negative",
		},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
			errText: "tracing.endpoint is required",
		},
		{
			name:    "api enabled without socket",
			modify:  func(c *Config) { c.API.SocketPath = "" },
			wantErr: true,
			errText: "api.socket_path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("expected error containing %q, got %q", tt.errText, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostkeeper.yaml")
	content := `
service:
  user: svc
  group: storage
log:
  dir: /tmp/hk-logs
  level: debug
storage:
  pools: [p1, p2]
  lease_ttl: 45s
failover:
  min_interval: 250ms
lifecycle_log: /var/tmp/events.log
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.User != "svc" || cfg.Service.Group != "storage" {
		t.Errorf("unexpected service %+v", cfg.Service)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected level debug, got %q", cfg.Log.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Log.File != "hostkeeperd.log" {
		t.Errorf("expected default log file, got %q", cfg.Log.File)
	}
	if got := strings.Join(cfg.Storage.Pools, ","); got != "p1,p2" {
		t.Errorf("expected pools p1,p2, got %q", got)
	}
	if cfg.Storage.LeaseTTL != 45*time.Second {
		t.Errorf("expected lease ttl 45s, got %v", cfg.Storage.LeaseTTL)
	}
	if cfg.Failover.MinInterval != 250*time.Millisecond {
		t.Errorf("expected min interval 250ms, got %v", cfg.Failover.MinInterval)
	}
	if cfg.LifecycleLogPath() != "/var/tmp/events.log" {
		t.Errorf("absolute lifecycle log path should be kept, got %q", cfg.LifecycleLogPath())
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		var cfgErr *hkerrors.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
		if cfgErr.Key != "config_file" {
			t.Errorf("expected key config_file, got %q", cfgErr.Key)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("log:\n  format: xml\n"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		var cfgErr *hkerrors.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
		if cfgErr.Key != "validation" {
			t.Errorf("expected key validation, got %q", cfgErr.Key)
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected wrapped ErrInvalidConfig")
		}
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOSTKEEPER_USER", "envuser")
	t.Setenv("HOSTKEEPER_POOLS", " a, b ,,c ")
	t.Setenv("HOSTKEEPER_CORE_DUMP", "yes")
	t.Setenv("HOSTKEEPER_STORAGE_ENABLED", "false")
	t.Setenv("HOSTKEEPER_PID_FILE", "/run/hk.pid")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("HOSTKEEPER_LOG_LEVEL", "WARN")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.User != "envuser" {
		t.Errorf("expected user from env, got %q", cfg.Service.User)
	}
	if got := strings.Join(cfg.Storage.Pools, ","); got != "a,b,c" {
		t.Errorf("expected pools a,b,c, got %q", got)
	}
	if !cfg.Process.CoreDumpEnabled {
		t.Error("expected core dumps enabled from env")
	}
	if cfg.Storage.Enabled {
		t.Error("expected storage disabled from env")
	}
	if cfg.PIDFile != "/run/hk.pid" {
		t.Errorf("expected pid file from env, got %q", cfg.PIDFile)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected level warn, got %q", cfg.Log.Level)
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("explicit flag should win, got %q", got)
	}
}
