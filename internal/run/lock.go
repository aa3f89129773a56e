// SPDX-License-Identifier: MIT

package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/heliolapse/heliolapse/internal/log"
)

// ErrBusy reports that another run holds the lock.
var ErrBusy = errors.New("another run is in progress")

// LockInfo is the lock file payload.
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// AcquireLock takes the exclusive run lock. A lock younger than stale means
// a concurrent run: ErrBusy. A stale lock is removed and replaced, on the
// assumption that its owner crashed.
func AcquireLock(path string, stale time.Duration, now time.Time) (release func(), err error) {
	logger := log.WithComponent("lock")

	if data, err := os.ReadFile(path); err == nil { // #nosec G304 -- path derived from BASE_DIR
		var info LockInfo
		if json.Unmarshal(data, &info) == nil && now.Sub(info.StartedAt) < stale {
			return nil, fmt.Errorf("%w: pid %d since %s", ErrBusy, info.PID, info.StartedAt.Format(time.RFC3339))
		}
		logger.Warn().Str("path", path).Msg("removing stale lock file")
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	payload, err := json.Marshal(LockInfo{PID: os.Getpid(), StartedAt: now})
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: lock reappeared", ErrBusy)
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close lock: %w", err)
	}

	return func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to release lock")
		}
	}, nil
}

// ReadLock returns the current lock payload, if a lock exists.
func ReadLock(path string) (LockInfo, bool) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from BASE_DIR
	if err != nil {
		return LockInfo{}, false
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, false
	}
	return info, true
}
