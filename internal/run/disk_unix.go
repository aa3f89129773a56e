// SPDX-License-Identifier: MIT

//go:build unix

package run

import "syscall"

// freeDiskBytes reports the free bytes available to unprivileged writes on
// the filesystem holding path.
func freeDiskBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil // #nosec G115 -- block size is positive
}
