// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package seed

import (
	"fmt"
	"strings"

	"github.com/toeirei/stevedore/internal/i18n"
)

// Target is a parsed seed destination: user@host:path, scp style. IPv6
// hosts use brackets so the path colon stays unambiguous.
type Target struct {
	User string
	Host string
	Path string
}

func (t Target) String() string {
	host := t.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s@%s:%s", t.User, host, t.Path)
}

// ParseTarget parses user@host:path. The path may be absolute or relative
// to the remote user's home, as with scp.
func ParseTarget(s string) (Target, error) {
	at := strings.Index(s, "@")
	if at <= 0 {
		return Target{}, fmt.Errorf("%s", i18n.T("seed.error_bad_target", s))
	}
	user := s[:at]
	rest := s[at+1:]

	var host, remotePath string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 || !strings.HasPrefix(rest[end+1:], ":") {
			return Target{}, fmt.Errorf("%s", i18n.T("seed.error_bad_target", s))
		}
		host = rest[1:end]
		remotePath = rest[end+2:]
	} else {
		colon := strings.Index(rest, ":")
		if colon <= 0 {
			return Target{}, fmt.Errorf("%s", i18n.T("seed.error_bad_target", s))
		}
		host = rest[:colon]
		remotePath = rest[colon+1:]
	}
	if host == "" || remotePath == "" {
		return Target{}, fmt.Errorf("%s", i18n.T("seed.error_bad_target", s))
	}
	return Target{User: user, Host: host, Path: remotePath}, nil
}
