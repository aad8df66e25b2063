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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/hostkeeper/internal/log"
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// DefaultPath is the configuration file read when --config is not given
// and the file exists.
const DefaultPath = "/etc/hostkeeper/hostkeeper.yaml"

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete hostkeeperd configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Log       LogConfig       `yaml:"log"`
	Process   ProcessConfig   `yaml:"process"`
	Elevation ElevationConfig `yaml:"elevation"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Failover  FailoverConfig  `yaml:"failover"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// LifecycleLog is the JSON-lines lifecycle event log. Relative paths
	// are resolved against Log.Dir. Empty disables the event log.
	LifecycleLog string `yaml:"lifecycle_log,omitempty"`

	// PIDFile is written once the daemon is running. Empty disables it.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// ServiceConfig names the account the daemon must run as.
type ServiceConfig struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Dir must be writable by the service account.
	Dir string `yaml:"dir"`

	// File is the daemon log file name inside Dir.
	File string `yaml:"file"`

	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	Format string `yaml:"format"`

	// AddSource adds source file information to log entries.
	AddSource bool `yaml:"add_source,omitempty"`
}

// FilePath returns the absolute path of the daemon log file.
func (l LogConfig) FilePath() string {
	return filepath.Join(l.Dir, l.File)
}

// ProcessConfig configures process-wide resource limits and host probes.
type ProcessConfig struct {
	CoreDumpEnabled bool   `yaml:"core_dump_enabled"`
	WatchdogDevice  string `yaml:"watchdog_device"`
}

// ElevationConfig describes how the daemon proves it can elevate.
type ElevationConfig struct {
	Command   string        `yaml:"command"`
	CheckArgs []string      `yaml:"check_args"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StorageConfig configures the storage pool manager.
type StorageConfig struct {
	Enabled bool `yaml:"enabled"`

	// Database is the SQLite lease database path.
	Database string `yaml:"database"`

	// InstanceID identifies this daemon as lease owner. Generated when empty.
	InstanceID string `yaml:"instance_id,omitempty"`

	// Pools lists pool IDs in priority order.
	Pools []string `yaml:"pools"`

	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	RenewInterval time.Duration `yaml:"renew_interval"`

	// ReleaseHook is the full command run after a pool is relinquished,
	// usually through the elevation command. The pool ID is appended as
	// the last argument.
	ReleaseHook []string `yaml:"release_hook,omitempty"`
}

// APIConfig configures the local status API.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// FailoverConfig throttles forced failover requests.
type FailoverConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
}

// ShutdownConfig bounds how long teardown may take.
type ShutdownConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
}

// TracingConfig configures OpenTelemetry startup tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // stdout, otlp (gRPC) or otlp-http
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			User:  "hostkeeper",
			Group: "kvm",
		},
		Log: LogConfig{
			Dir:    "/var/log/hostkeeper",
			File:   "hostkeeperd.log",
			Level:  "info",
			Format: "json",
		},
		Process: ProcessConfig{
			WatchdogDevice: "/dev/watchdog",
		},
		Elevation: ElevationConfig{
			Command:   "sudo",
			CheckArgs: []string{"-n", "/bin/true"},
			Timeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Database:      "/var/lib/hostkeeper/pools.db",
			LeaseTTL:      30 * time.Second,
			RenewInterval: 10 * time.Second,
		},
		API: APIConfig{
			Enabled:    true,
			SocketPath: "/run/hostkeeper/hostkeeperd.sock",
		},
		Failover: FailoverConfig{
			MinInterval: time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout:       30 * time.Second,
			WorkerTimeout: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "hostkeeperd",
		},
		LifecycleLog: "lifecycle.log",
	}
}

// ResolvePath returns the configuration file to load. An explicit flag
// value always wins; otherwise DefaultPath is used when it exists.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &hkerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &hkerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// LifecycleLogPath returns the resolved lifecycle event log path, or "" when
// the event log is disabled.
func (c *Config) LifecycleLogPath() string {
	if c.LifecycleLog == "" || filepath.IsAbs(c.LifecycleLog) {
		return c.LifecycleLog
	}
	return filepath.Join(c.Log.Dir, c.LifecycleLog)
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Service.User == "" {
		c.Service.User = d.Service.User
	}
	if c.Service.Group == "" {
		c.Service.Group = d.Service.Group
	}
	if c.Log.Dir == "" {
		c.Log.Dir = d.Log.Dir
	}
	if c.Log.File == "" {
		c.Log.File = d.Log.File
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Elevation.Command == "" {
		c.Elevation.Command = d.Elevation.Command
	}
	if len(c.Elevation.CheckArgs) == 0 {
		c.Elevation.CheckArgs = d.Elevation.CheckArgs
	}
	if c.Elevation.Timeout == 0 {
		c.Elevation.Timeout = d.Elevation.Timeout
	}
	if c.Storage.Database == "" {
		c.Storage.Database = d.Storage.Database
	}
	if c.Storage.LeaseTTL == 0 {
		c.Storage.LeaseTTL = d.Storage.LeaseTTL
	}
	if c.Storage.RenewInterval == 0 {
		c.Storage.RenewInterval = d.Storage.RenewInterval
	}
	if c.API.SocketPath == "" {
		c.API.SocketPath = d.API.SocketPath
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = d.Shutdown.Timeout
	}
	if c.Shutdown.WorkerTimeout == 0 {
		c.Shutdown.WorkerTimeout = d.Shutdown.WorkerTimeout
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("HOSTKEEPER_USER"); val != "" {
		c.Service.User = val
	}
	if val := os.Getenv("HOSTKEEPER_GROUP"); val != "" {
		c.Service.Group = val
	}

	if val := os.Getenv("HOSTKEEPER_LOG_DIR"); val != "" {
		c.Log.Dir = val
	}
	if val := os.Getenv("HOSTKEEPER_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	} else if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	if val := os.Getenv("HOSTKEEPER_CORE_DUMP"); val != "" {
		c.Process.CoreDumpEnabled = parseBool(val)
	}

	if val := os.Getenv("HOSTKEEPER_STORAGE_ENABLED"); val != "" {
		c.Storage.Enabled = parseBool(val)
	}
	if val := os.Getenv("HOSTKEEPER_STORAGE_DATABASE"); val != "" {
		c.Storage.Database = val
	}
	if val := os.Getenv("HOSTKEEPER_INSTANCE_ID"); val != "" {
		c.Storage.InstanceID = val
	}
	if val := os.Getenv("HOSTKEEPER_POOLS"); val != "" {
		c.Storage.Pools = splitList(val)
	}
	if val := os.Getenv("HOSTKEEPER_LEASE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Storage.LeaseTTL = d
		}
	}

	if val := os.Getenv("HOSTKEEPER_API_SOCKET"); val != "" {
		c.API.SocketPath = val
	}
	if val := os.Getenv("HOSTKEEPER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Shutdown.Timeout = d
		}
	}
	if val := os.Getenv("HOSTKEEPER_PID_FILE"); val != "" {
		c.PIDFile = val
	}

	if val := os.Getenv("HOSTKEEPER_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.User == "" {
		errs = append(errs, "service.user is required")
	}
	if c.Service.Group == "" {
		errs = append(errs, "service.group is required")
	}

	if c.Log.Dir == "" {
		errs = append(errs, "log.dir is required")
	}
	if c.Log.File == "" || strings.ContainsRune(c.Log.File, filepath.Separator) {
		errs = append(errs, fmt.Sprintf("log.file must be a plain file name, got %q", c.Log.File))
	}
	if !log.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Elevation.Command == "" {
		errs = append(errs, "elevation.command is required")
	}
	if c.Elevation.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("elevation.timeout must be positive, got %v", c.Elevation.Timeout))
	}

	if c.Storage.Enabled {
		if c.Storage.Database == "" {
			errs = append(errs, "storage.database is required when storage is enabled")
		}
		if c.Storage.RenewInterval <= 0 {
			errs = append(errs, fmt.Sprintf("storage.renew_interval must be positive, got %v", c.Storage.RenewInterval))
		}
		if c.Storage.LeaseTTL <= c.Storage.RenewInterval {
			errs = append(errs, fmt.Sprintf("storage.lease_ttl (%v) must exceed storage.renew_interval (%v)", c.Storage.LeaseTTL, c.Storage.RenewInterval))
		}
		seen := make(map[string]bool, len(c.Storage.Pools))
		for i, id := range c.Storage.Pools {
			if id == "" {
				errs = append(errs, fmt.Sprintf("storage.pools[%d]: pool id is required", i))
				continue
			}
			if seen[id] {
				errs = append(errs, fmt.Sprintf("storage.pools[%d]: duplicate pool id %q", i, id))
			}
			seen[id] = true
		}
	}

	if c.API.Enabled && c.API.SocketPath == "" {
		errs = append(errs, "api.socket_path is required when api.enabled is true")
	}

	if c.Failover.MinInterval < 0 {
		errs = append(errs, fmt.Sprintf("failover.min_interval must be non-negative, got %v", c.Failover.MinInterval))
	}

	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown.timeout must be positive, got %v", c.Shutdown.Timeout))
	}
	if c.Shutdown.WorkerTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown.worker_timeout must be positive, got %v", c.Shutdown.WorkerTimeout))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout":
		case "otlp", "otlp-http":
			if c.Tracing.Endpoint == "" {
				errs = append(errs, fmt.Sprintf("tracing.endpoint is required for the %s exporter", c.Tracing.Exporter))
			}
		default:
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp, otlp-http], got %q", c.Tracing.Exporter))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

func parseBool(val string) bool {
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return strings.EqualFold(val, "yes") || strings.EqualFold(val, "on")
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
