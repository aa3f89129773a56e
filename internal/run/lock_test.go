// SPDX-License-Identifier: MIT

package run

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "production.lock")
	now := time.Now().UTC()

	release, err := AcquireLock(path, 12*time.Hour, now)
	require.NoError(t, err)

	info, ok := ReadLock(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.True(t, info.StartedAt.Equal(now))

	release()
	_, ok = ReadLock(path)
	assert.False(t, ok)
}

func TestAcquireBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "production.lock")
	now := time.Now().UTC()

	release, err := AcquireLock(path, 12*time.Hour, now)
	require.NoError(t, err)
	defer release()

	_, err = AcquireLock(path, 12*time.Hour, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrBusy)
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "production.lock")
	start := time.Now().UTC().Add(-13 * time.Hour)

	release, err := AcquireLock(path, 12*time.Hour, start)
	require.NoError(t, err)
	defer release()

	release2, err := AcquireLock(path, 12*time.Hour, time.Now().UTC())
	require.NoError(t, err, "a lock older than the staleness bound is reclaimed")
	defer release2()
}

func TestAcquireReplacesCorruptLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "production.lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	release, err := AcquireLock(path, 12*time.Hour, time.Now().UTC())
	require.NoError(t, err)
	defer release()
}

func TestReadLockMissing(t *testing.T) {
	_, ok := ReadLock(filepath.Join(t.TempDir(), "absent.lock"))
	assert.False(t, ok)
}

func TestReleaseTwiceIsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "production.lock")
	release, err := AcquireLock(path, 12*time.Hour, time.Now().UTC())
	require.NoError(t, err)

	release()
	release()
}
