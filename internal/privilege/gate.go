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

// Package privilege verifies that hostkeeperd runs as its service account
// with the group membership, log access and elevation path it needs.
// Every check fails with *errors.PrivilegeError.
package privilege

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"slices"
	"strings"
	"time"

	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
	"golang.org/x/sys/unix"
)

// Check names reported in PrivilegeError.Check.
const (
	CheckIdentity  = "identity"
	CheckGroup     = "group"
	CheckLogAccess = "log_access"
	CheckElevation = "elevation"
)

// Config describes the privileges the daemon expects.
type Config struct {
	User  string
	Group string

	LogDir  string
	LogFile string

	// ElevationCommand and ElevationArgs form the elevation probe,
	// e.g. "sudo" with "-n", "/bin/true".
	ElevationCommand string
	ElevationArgs    []string
	ElevationTimeout time.Duration
}

// Gate runs the startup privilege checks.
type Gate struct {
	cfg      Config
	accounts Accounts
	run      CommandRunner
	access   func(path string, mode uint32) error
}

// New creates a Gate backed by the operating system.
func New(cfg Config, opts ...Option) *Gate {
	g := &Gate{
		cfg:      cfg,
		accounts: osAccounts{},
		run:      runCommand,
		access:   unix.Access,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs VerifyIdentity, VerifyLogAccess and VerifyElevationPath in
// order and returns the first failure.
func (g *Gate) Check(ctx context.Context) error {
	if err := g.VerifyIdentity(); err != nil {
		return err
	}
	if err := g.VerifyLogAccess(); err != nil {
		return err
	}
	return g.VerifyElevationPath(ctx)
}

// VerifyIdentity checks that the process runs as the configured service
// account and that the account belongs to the configured group, either as
// a supplementary member or through its primary group.
func (g *Gate) VerifyIdentity() error {
	u, err := g.accounts.Current()
	if err != nil {
		return &hkerrors.PrivilegeError{
			Check:  CheckIdentity,
			Reason: "cannot determine current user",
			Cause:  err,
		}
	}

	if u.Username != g.cfg.User {
		return &hkerrors.PrivilegeError{
			Check:  CheckIdentity,
			Reason: fmt.Sprintf("running as %q, expected %q", u.Username, g.cfg.User),
			Hint:   fmt.Sprintf("start hostkeeperd as the %s user (e.g. User=%s in the service unit)", g.cfg.User, g.cfg.User),
		}
	}

	grp, err := g.accounts.LookupGroup(g.cfg.Group)
	if err != nil {
		return &hkerrors.PrivilegeError{
			Check:  CheckGroup,
			Reason: fmt.Sprintf("group %q does not exist", g.cfg.Group),
			Hint:   fmt.Sprintf("create the group with: groupadd %s", g.cfg.Group),
			Cause:  err,
		}
	}

	if u.Gid == grp.Gid {
		return nil
	}

	gids, err := g.accounts.GroupIds(u)
	if err != nil {
		return &hkerrors.PrivilegeError{
			Check:  CheckGroup,
			Reason: fmt.Sprintf("cannot list groups of %q", u.Username),
			Cause:  err,
		}
	}
	if slices.Contains(gids, grp.Gid) {
		return nil
	}

	return &hkerrors.PrivilegeError{
		Check:  CheckGroup,
		Reason: fmt.Sprintf("user %q is not a member of group %q", u.Username, g.cfg.Group),
		Hint:   fmt.Sprintf("add the account to the group with: usermod -aG %s %s", g.cfg.Group, u.Username),
	}
}

// VerifyLogAccess checks that the log directory is writable and that the
// log file, if it already exists, is writable too.
func (g *Gate) VerifyLogAccess() error {
	if err := g.access(g.cfg.LogDir, unix.W_OK|unix.X_OK); err != nil {
		return &hkerrors.PrivilegeError{
			Check:  CheckLogAccess,
			Reason: fmt.Sprintf("log directory %s is not writable", g.cfg.LogDir),
			Hint:   fmt.Sprintf("chown %s:%s %s", g.cfg.User, g.cfg.Group, g.cfg.LogDir),
			Cause:  err,
		}
	}

	if g.cfg.LogFile == "" {
		return nil
	}
	path := filepath.Join(g.cfg.LogDir, g.cfg.LogFile)
	if err := g.access(path, unix.W_OK); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return &hkerrors.PrivilegeError{
			Check:  CheckLogAccess,
			Reason: fmt.Sprintf("log file %s is not writable", path),
			Hint:   fmt.Sprintf("chown %s:%s %s", g.cfg.User, g.cfg.Group, path),
			Cause:  err,
		}
	}
	return nil
}

// VerifyElevationPath runs the elevation probe and fails unless it exits
// zero within the configured timeout.
func (g *Gate) VerifyElevationPath(ctx context.Context) error {
	if g.cfg.ElevationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ElevationTimeout)
		defer cancel()
	}

	probe := strings.Join(append([]string{g.cfg.ElevationCommand}, g.cfg.ElevationArgs...), " ")
	out, err := g.run(ctx, g.cfg.ElevationCommand, g.cfg.ElevationArgs...)
	if err == nil {
		return nil
	}

	reason := fmt.Sprintf("%q failed", probe)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		reason = fmt.Sprintf("%q exited with status %d", probe, exitErr.ExitCode())
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		reason = fmt.Sprintf("%s: %s", reason, firstLine(msg))
	}

	return &hkerrors.PrivilegeError{
		Check:  CheckElevation,
		Reason: reason,
		Hint:   fmt.Sprintf("grant %s passwordless access to the host helpers in sudoers", g.cfg.User),
		Cause:  err,
	}
}

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	err := cmd.Run()
	return out.Bytes(), err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Accounts resolves OS users and groups.
type Accounts interface {
	Current() (*user.User, error)
	LookupGroup(name string) (*user.Group, error)
	GroupIds(u *user.User) ([]string, error)
}

type osAccounts struct{}

func (osAccounts) Current() (*user.User, error) { return user.Current() }

func (osAccounts) LookupGroup(name string) (*user.Group, error) { return user.LookupGroup(name) }

func (osAccounts) GroupIds(u *user.User) ([]string, error) { return u.GroupIds() }
