//go:build windows
// +build windows

// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Windows-specific lookup of a running SSH agent for the seed transport's
// auth fallback.
package seed // import "github.com/toeirei/stevedore/internal/seed"

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent tries Pageant-compatible agents first (PuTTY, gpg-agent),
// then the OpenSSH-for-Windows agent on its named pipe. SSH_AUTH_SOCK can
// point at a different pipe. Returns nil when nothing answers.
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	var agentConn net.Conn
	var err error
	if sshAgentSocket := os.Getenv("SSH_AUTH_SOCK"); sshAgentSocket != "" {
		agentConn, err = winio.DialPipe(sshAgentSocket, nil)
	} else {
		agentConn, err = winio.DialPipe(`\\.\pipe\openssh-ssh-agent`, nil)
	}
	if err == nil && agentConn != nil {
		return agent.NewClient(agentConn)
	}
	return nil
}
