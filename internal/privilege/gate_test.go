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

package privilege

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
	"golang.org/x/sys/unix"
)

type fakeAccounts struct {
	current   *user.User
	groups    map[string]*user.Group
	memberOf  []string
	currErr   error
	groupsErr error
}

func (f *fakeAccounts) Current() (*user.User, error) {
	if f.currErr != nil {
		return nil, f.currErr
	}
	return f.current, nil
}

func (f *fakeAccounts) LookupGroup(name string) (*user.Group, error) {
	g, ok := f.groups[name]
	if !ok {
		return nil, user.UnknownGroupError(name)
	}
	return g, nil
}

func (f *fakeAccounts) GroupIds(*user.User) ([]string, error) {
	return f.memberOf, f.groupsErr
}

func newAccounts() *fakeAccounts {
	return &fakeAccounts{
		current: &user.User{Username: "hostkeeper", Uid: "990", Gid: "990"},
		groups: map[string]*user.Group{
			"kvm":        {Name: "kvm", Gid: "36"},
			"hostkeeper": {Name: "hostkeeper", Gid: "990"},
		},
		memberOf: []string{"990", "36"},
	}
}

func requirePrivilegeError(t *testing.T, err error, check string) *hkerrors.PrivilegeError {
	t.Helper()
	var privErr *hkerrors.PrivilegeError
	require.ErrorAs(t, err, &privErr)
	assert.Equal(t, check, privErr.Check)
	assert.True(t, hkerrors.IsFatal(err))
	return privErr
}

func TestVerifyIdentity(t *testing.T) {
	tests := []struct {
		name      string
		group     string
		mutate    func(*fakeAccounts)
		wantCheck string
	}{
		{name: "supplementary member", group: "kvm"},
		{
			name:  "primary group only",
			group: "hostkeeper",
			mutate: func(f *fakeAccounts) {
				f.memberOf = nil
				f.groupsErr = errors.New("should not be consulted")
			},
		},
		{
			name:      "wrong user",
			group:     "kvm",
			mutate:    func(f *fakeAccounts) { f.current.Username = "root" },
			wantCheck: CheckIdentity,
		},
		{
			name:      "lookup failure",
			group:     "kvm",
			mutate:    func(f *fakeAccounts) { f.currErr = errors.New("no passwd entry") },
			wantCheck: CheckIdentity,
		},
		{
			name:      "missing group",
			group:     "nonexistent",
			wantCheck: CheckGroup,
		},
		{
			name:      "not a member",
			group:     "kvm",
			mutate:    func(f *fakeAccounts) { f.memberOf = []string{"990"} },
			wantCheck: CheckGroup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := newAccounts()
			if tt.mutate != nil {
				tt.mutate(accounts)
			}
			g := New(Config{User: "hostkeeper", Group: tt.group}, WithAccounts(accounts))

			err := g.VerifyIdentity()
			if tt.wantCheck == "" {
				assert.NoError(t, err)
				return
			}
			privErr := requirePrivilegeError(t, err, tt.wantCheck)
			assert.NotEmpty(t, privErr.Reason)
		})
	}
}

func TestVerifyLogAccess(t *testing.T) {
	t.Run("missing log file is fine", func(t *testing.T) {
		dir := t.TempDir()
		g := New(Config{LogDir: dir, LogFile: "absent.log"})
		assert.NoError(t, g.VerifyLogAccess())
	})

	t.Run("existing writable log file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "d.log"), nil, 0600))
		g := New(Config{LogDir: dir, LogFile: "d.log"})
		assert.NoError(t, g.VerifyLogAccess())
	})

	t.Run("missing directory", func(t *testing.T) {
		g := New(Config{LogDir: filepath.Join(t.TempDir(), "nope"), LogFile: "d.log"})
		requirePrivilegeError(t, g.VerifyLogAccess(), CheckLogAccess)
	})

	t.Run("directory not writable", func(t *testing.T) {
		dir := t.TempDir()
		g := New(Config{LogDir: dir, LogFile: "d.log"}, WithAccessFunc(func(path string, mode uint32) error {
			if path == dir {
				return unix.EACCES
			}
			return nil
		}))
		err := g.VerifyLogAccess()
		requirePrivilegeError(t, err, CheckLogAccess)
		assert.ErrorIs(t, err, unix.EACCES)
	})

	t.Run("existing log file not writable", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "d.log")
		g := New(Config{LogDir: dir, LogFile: "d.log"}, WithAccessFunc(func(path string, mode uint32) error {
			if path == logPath {
				return unix.EACCES
			}
			return nil
		}))
		privErr := requirePrivilegeError(t, g.VerifyLogAccess(), CheckLogAccess)
		assert.Contains(t, privErr.Reason, logPath)
	})
}

func TestVerifyElevationPath(t *testing.T) {
	t.Run("probe succeeds", func(t *testing.T) {
		var gotName string
		var gotArgs []string
		g := New(Config{ElevationCommand: "sudo", ElevationArgs: []string{"-n", "/bin/true"}},
			WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
				gotName, gotArgs = name, args
				return nil, nil
			}))

		require.NoError(t, g.VerifyElevationPath(context.Background()))
		assert.Equal(t, "sudo", gotName)
		assert.Equal(t, []string{"-n", "/bin/true"}, gotArgs)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		g := New(Config{
			User:             "hostkeeper",
			ElevationCommand: "sh",
			ElevationArgs:    []string{"-c", "echo 'a password is required' >&2; exit 1"},
		})

		err := g.VerifyElevationPath(context.Background())
		privErr := requirePrivilegeError(t, err, CheckElevation)
		assert.Contains(t, privErr.Reason, "exited with status 1")
		assert.Contains(t, privErr.Reason, "a password is required")
		assert.NotEmpty(t, privErr.Suggestion())
	})

	t.Run("command missing", func(t *testing.T) {
		g := New(Config{ElevationCommand: "/nonexistent/elevate"})
		requirePrivilegeError(t, g.VerifyElevationPath(context.Background()), CheckElevation)
	})

	t.Run("timeout", func(t *testing.T) {
		g := New(Config{
			ElevationCommand: "sleep",
			ElevationArgs:    []string{"5"},
			ElevationTimeout: 50 * time.Millisecond,
		})
		start := time.Now()
		requirePrivilegeError(t, g.VerifyElevationPath(context.Background()), CheckElevation)
		assert.Less(t, time.Since(start), 4*time.Second)
	})
}

func TestCheckOrder(t *testing.T) {
	accounts := newAccounts()
	accounts.current.Username = "nobody"
	ran := false
	g := New(Config{User: "hostkeeper", Group: "kvm", LogDir: t.TempDir()},
		WithAccounts(accounts),
		WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
			ran = true
			return nil, nil
		}))

	requirePrivilegeError(t, g.Check(context.Background()), CheckIdentity)
	assert.False(t, ran, "elevation probe must not run after an identity failure")
}
