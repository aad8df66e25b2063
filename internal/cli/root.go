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

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/hostkeeper/internal/commands/daemon"
	"github.com/tombee/hostkeeper/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for hostkeeperd
func NewRootCommand() *cobra.Command {
	v, c, b := shared.GetVersion()

	cmd := &cobra.Command{
		Use:   "hostkeeperd",
		Short: "hostkeeperd - VM host storage pool daemon",
		Long: `hostkeeperd supervises the storage pool manager of a virtual machine host.

It verifies that it runs as the designated service account, holds the
storage pool leases assigned to this host and serves a local status API
until it receives SIGTERM or SIGINT. SIGUSR1 relinquishes the first
active pool so another host can take it over.`,
		Example: `  # Run with the default configuration
  hostkeeperd

  # Write the process id for the init system
  hostkeeperd --pidfile=/run/hostkeeper/hostkeeperd.pid`,
		Version:       v + " (commit: " + c + ", built: " + b + ")",
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true, // Don't show usage on runtime errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		RunE:          runDaemon,
	}

	config, pidfile := shared.RegisterFlagPointers()
	cmd.Flags().StringVar(config, "config", "", "Path to config file (default: /etc/hostkeeper/hostkeeper.yaml)")
	cmd.Flags().StringVar(pidfile, "pidfile", "", "Write the process id to this file (mode 0664)")

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return shared.NewUsageError(err.Error()+"\n"+cmd.UsageString(), nil)
	})

	return cmd
}

// usageArgs wraps a positional argument validator so its failure is
// reported as a usage error.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return shared.NewUsageError(err.Error()+"\n"+cmd.UsageString(), nil)
		}
		return nil
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	v, _, _ := shared.GetVersion()
	return daemon.Serve(cmd.Context(), daemon.Options{
		ConfigPath: shared.GetConfigPath(),
		PIDFile:    shared.GetPIDFile(),
		Version:    v,
		Args:       os.Args[1:],
	})
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
