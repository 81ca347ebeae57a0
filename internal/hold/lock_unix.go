// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build !windows

package hold

import (
	"errors"
	"os"
	"syscall"
)

// pidAlive reports whether a process with the given pid exists. Signal 0
// probes without delivering anything; EPERM still means the process is
// there, just owned by someone else.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
