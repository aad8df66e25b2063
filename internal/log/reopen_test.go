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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopenFile_FollowsRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostkeeperd.log")

	f, err := OpenReopenFile(path, 0644)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Watch())

	_, err = f.Write([]byte("before rotation\n"))
	require.NoError(t, err)

	rotated := path + ".1"
	require.NoError(t, os.Rename(path, rotated))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "log file was not reopened after rotation")

	_, err = f.Write([]byte("after rotation\n"))
	require.NoError(t, err)

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Equal(t, "before rotation\n", string(old))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after rotation\n", string(current))
}

func TestReopenFile_StopKeepsFileOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostkeeperd.log")

	f, err := OpenReopenFile(path, 0644)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Watch())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Stop(ctx))
	require.NoError(t, f.Stop(ctx), "second Stop must be a no-op")

	_, err = f.Write([]byte("late shutdown line\n"))
	require.NoError(t, err)
	assert.Equal(t, "log-reopen", f.Name())
}

func TestReopenFile_WriteAfterClose(t *testing.T) {
	f, err := OpenReopenFile(filepath.Join(t.TempDir(), "x.log"), 0600)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
