//go:build !windows
// +build !windows

// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Unix-specific lookup of a running SSH agent for the seed transport's
// auth fallback.
package seed // import "github.com/toeirei/stevedore/internal/seed"

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent connects to the agent named by SSH_AUTH_SOCK. Returns nil
// when no agent is reachable; the caller treats that as "no fallback".
func getSSHAgent() agent.Agent {
	if sshAgentSocket := os.Getenv("SSH_AUTH_SOCK"); sshAgentSocket != "" {
		if conn, err := net.Dial("unix", sshAgentSocket); err == nil {
			return agent.NewClient(conn)
		}
	}
	return nil
}
