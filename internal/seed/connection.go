// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package seed

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultConnectionTimeout bounds the TCP dial and SSH handshake.
const DefaultConnectionTimeout = 10 * time.Second

// IsConnectionTimeoutError reports whether err looks like a network
// timeout. SSH library errors are string-typed, so this matches on text.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

// IsConnectionRefusedError reports whether err means the host was
// reachable in DNS but not accepting connections.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host")
}

// IsAuthenticationError reports whether err is an SSH auth failure, the
// one case where falling back to another auth method makes sense.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "permission denied")
}

// IsHostKeyError reports whether err came out of host key verification.
// These must never be retried around.
func IsHostKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "host key mismatch") ||
		strings.Contains(msg, "unknown host key") ||
		strings.Contains(msg, "host key verification failed")
}

// ClassifyConnectionError wraps err with a message naming the host and the
// failure class, so CLI output stays readable without losing the cause.
func ClassifyConnectionError(host string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsHostKeyError(err):
		return fmt.Errorf("host key verification failed for %s: %w", host, err)
	case IsAuthenticationError(err):
		return fmt.Errorf("authentication failed for %s: %w", host, err)
	case IsConnectionRefusedError(err):
		return fmt.Errorf("connection to %s refused: %w", host, err)
	case IsConnectionTimeoutError(err):
		return fmt.Errorf("connection to %s timed out: %w", host, err)
	default:
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
}

// ParseHostPort splits user@host:port forms into host and port, tolerating
// missing users, missing ports, and IPv6 literals with or without brackets.
func ParseHostPort(in string) (host, port string, err error) {
	s := in
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", "", fmt.Errorf("no host in %q", in)
	}
	if h, p, splitErr := net.SplitHostPort(s); splitErr == nil {
		return h, p, nil
	}
	// No port. Unwrap a bracketed IPv6 literal; bare ones pass through.
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return s[1 : len(s)-1], "", nil
	}
	return s, "", nil
}

// JoinHostPort rebuilds host:port, bracketing IPv6 literals and filling in
// defaultPort when port is empty.
func JoinHostPort(host, port, defaultPort string) string {
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// CanonicalizeHostPort normalizes any accepted host form to host:port with
// the SSH default port.
func CanonicalizeHostPort(in string) string {
	host, port, err := ParseHostPort(in)
	if err != nil {
		return in
	}
	return JoinHostPort(host, port, "22")
}
