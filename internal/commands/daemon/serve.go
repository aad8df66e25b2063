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

// Package daemon wires the hostkeeperd subsystems together from
// configuration and runs the lifecycle controller.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/tombee/hostkeeper/internal/commands/shared"
	"github.com/tombee/hostkeeper/internal/config"
	"github.com/tombee/hostkeeper/internal/dispatcher"
	"github.com/tombee/hostkeeper/internal/lifecycle"
	"github.com/tombee/hostkeeper/internal/log"
	"github.com/tombee/hostkeeper/internal/metrics"
	"github.com/tombee/hostkeeper/internal/privilege"
	"github.com/tombee/hostkeeper/internal/reaper"
	"github.com/tombee/hostkeeper/internal/signals"
	"github.com/tombee/hostkeeper/internal/supervisor"
	"github.com/tombee/hostkeeper/internal/tracing"
	"github.com/tombee/hostkeeper/internal/watchdog"
	"github.com/tombee/hostkeeper/internal/worker"
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// SyslogTag identifies hostkeeperd in the system log.
const SyslogTag = "hostkeeperd"

// logFileMode is the creation mode of the daemon log file.
const logFileMode = 0o640

// Options configures a daemon run.
type Options struct {
	// ConfigPath is the --config value. Empty falls back to the default
	// location when it exists.
	ConfigPath string

	// PIDFile overrides the configured PID file when set.
	PIDFile string

	Version string
	Args    []string

	// SystemLog receives startup diagnostics. Defaults to the local syslog.
	SystemLog log.SystemLogger

	// Stderr receives log output until the daemon log is open.
	Stderr io.Writer

	// Registerer receives the tracing phase histogram. Defaults to the
	// global Prometheus registerer.
	Registerer promclient.Registerer

	// Signals overrides the signals the router subscribes to.
	Signals *signals.Config
}

// Serve loads configuration, builds the controller and runs it until the
// daemon stops. The returned error carries the process exit code.
func Serve(ctx context.Context, opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	sysLog := opts.SystemLog
	if sysLog == nil {
		sysLog = log.OpenSystemLog(SyslogTag)
		defer sysLog.Close()
	}

	bootCfg := log.FromEnv()
	bootCfg.Output = stderr
	bootstrap := log.New(bootCfg)

	configPath := config.ResolvePath(opts.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		if serr := sysLog.Err(fmt.Sprintf("startup failed: %v", err)); serr != nil {
			bootstrap.Warn("failed to write system log", log.Error(serr))
		}
		return shared.NewStartupError("failed to load configuration", err)
	}
	if opts.PIDFile != "" {
		cfg.PIDFile = opts.PIDFile
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = promclient.DefaultRegisterer
	}
	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
		Registerer:     registerer,
		Writer:         stderr,
	})
	if err != nil {
		err = &hkerrors.ConfigError{Key: "tracing", Reason: "cannot initialize tracing", Cause: err}
		if serr := sysLog.Err(fmt.Sprintf("startup failed: %v", err)); serr != nil {
			bootstrap.Warn("failed to write system log", log.Error(serr))
		}
		return shared.NewStartupError("failed to initialize tracing", err)
	}

	sigCfg := signals.DefaultConfig()
	if opts.Signals != nil {
		sigCfg = *opts.Signals
	}
	router := signals.NewRouter(sigCfg)
	router.OnEvent = func(ev signals.Event, _ os.Signal) {
		metrics.RecordSignal(ev.String())
	}

	rp := reaper.New(nil)
	rp.OnReap = func(int, unix.WaitStatus) {
		metrics.RecordReaped()
	}

	registry := worker.NewRegistry()
	logger := bootstrap
	var logFile *log.ReopenFile
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	setupLogging := func() (*slog.Logger, error) {
		f, err := log.OpenReopenFile(cfg.Log.FilePath(), logFileMode)
		if err != nil {
			return nil, &hkerrors.ConfigError{Key: "log.file", Reason: "cannot open daemon log", Cause: err}
		}
		f.OnError = func(err error) {
			bootstrap.Warn("log rotation tracking failed", log.Error(err))
		}
		if err := f.Watch(); err != nil {
			f.Close()
			return nil, &hkerrors.ConfigError{Key: "log.dir", Reason: "cannot follow log rotation", Cause: err}
		}
		registry.Register(f)
		logFile = f

		logger = log.New(&log.Config{
			Level:     cfg.Log.Level,
			Format:    log.Format(cfg.Log.Format),
			Output:    f,
			AddSource: cfg.Log.AddSource,
		})
		slog.SetDefault(logger)
		return logger, nil
	}

	gate := privilege.New(privilege.Config{
		User:             cfg.Service.User,
		Group:            cfg.Service.Group,
		LogDir:           cfg.Log.Dir,
		LogFile:          cfg.Log.File,
		ElevationCommand: cfg.Elevation.Command,
		ElevationArgs:    cfg.Elevation.CheckArgs,
		ElevationTimeout: cfg.Elevation.Timeout,
	})

	ctrl := supervisor.New(supervisor.Options{
		Gate:         gate,
		SetupLogging: setupLogging,
		ApplyLimits: func() error {
			return lifecycle.ApplyLimits(cfg.Process.CoreDumpEnabled)
		},
		Router: router,
		Reaper: rp,
		NewSubsystem: func(ctx context.Context, deps supervisor.Deps) (supervisor.Subsystem, error) {
			d, err := dispatcher.New(ctx, dispatcher.Config{
				Storage:  cfg.Storage,
				API:      cfg.API,
				Children: deps.Children,
				Workers:  deps.Workers,
				OnFault:  deps.OnFault,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		Registry:         registry,
		PIDFile:          cfg.PIDFile,
		FailoverInterval: cfg.Failover.MinInterval,
		ShutdownTimeout:  cfg.Shutdown.Timeout,
		WorkerTimeout:    cfg.Shutdown.WorkerTimeout,
		Probe: func() {
			if cfg.Process.WatchdogDevice != "" {
				watchdog.Check(logger, cfg.Process.WatchdogDevice)
			}
		},
		Events:     lifecycle.NewLifecycleLogger(cfg.LifecycleLogPath()),
		SystemLog:  sysLog,
		Tracing:    tp,
		Logger:     bootstrap,
		Version:    opts.Version,
		Args:       opts.Args,
		ConfigFile: configPath,
	})

	if err := ctrl.Run(ctx); err != nil {
		if hkerrors.IsFatal(err) {
			return shared.NewStartupError("startup failed", err)
		}
		return shared.NewRuntimeError("stopped after runtime failure", err)
	}
	return nil
}
