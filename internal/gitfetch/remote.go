// Package gitfetch retrieves dependency sources from git remotes.
//
// Two fetch paths exist: the default one shells out to the git CLI so
// that credential helpers and a running ssh-agent are honored, and a
// builtin anonymous path for public https:// and local file:// remotes.
// The builtin path never authenticates; pointing it at a private remote
// is an error, not a prompt.
package gitfetch

import (
	"errors"
	"net/url"
	"strings"

	"github.com/toeirei/stevedore/internal/i18n"
)

// Remote is a parsed git remote URL.
type Remote struct {
	Raw    string // the URL as written in the manifest
	Scheme string // ssh, https, http, git, file
	User   string
	Host   string
	Path   string // repository path without leading slash
}

// ParseRemote parses a git remote URL, including the scp-like
// user@host:path shorthand git accepts for SSH remotes.
func ParseRemote(raw string) (Remote, error) {
	if strings.TrimSpace(raw) == "" {
		return Remote{}, errors.New(i18n.T("gitfetch.error_empty_url"))
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Remote{}, errors.New(i18n.T("gitfetch.error_bad_url", raw, err))
		}
		switch u.Scheme {
		case "ssh", "https", "http", "git", "file":
		default:
			return Remote{}, errors.New(i18n.T("gitfetch.error_bad_scheme", u.Scheme))
		}
		r := Remote{
			Raw:    raw,
			Scheme: u.Scheme,
			Host:   u.Host,
			Path:   strings.TrimPrefix(u.Path, "/"),
		}
		if u.User != nil {
			r.User = u.User.Username()
		}
		if u.Scheme == "file" {
			// file://relative/path keeps everything in Path.
			r.Path = strings.TrimPrefix(u.Host+u.Path, "/")
			if strings.HasPrefix(u.Path, "/") && u.Host == "" {
				r.Path = u.Path
			}
			r.Host = ""
		}
		return r, nil
	}

	// scp-like shorthand: [user@]host:path, no scheme. A colon before the
	// first slash marks it; a leading path separator means a plain local path.
	if i := strings.Index(raw, ":"); i > 0 && !strings.ContainsAny(raw[:i], "/\\") {
		r := Remote{Raw: raw, Scheme: "ssh", Host: raw[:i], Path: raw[i+1:]}
		if at := strings.Index(r.Host, "@"); at >= 0 {
			r.User = r.Host[:at]
			r.Host = r.Host[at+1:]
		}
		if r.Host == "" || r.Path == "" {
			return Remote{}, errors.New(i18n.T("gitfetch.error_bad_url", raw, "incomplete scp-like address"))
		}
		return r, nil
	}

	// Bare local path.
	return Remote{Raw: raw, Scheme: "file", Path: raw}, nil
}

// Private reports whether fetching this remote requires credentials.
// SSH remotes always do; http(s) and git ones may, but anonymous access
// is at least possible, so they are not classified as private here.
func (r Remote) Private() bool {
	return r.Scheme == "ssh"
}

// CloneURL returns the URL to hand to git. scp-like input is passed
// through untouched so that ssh aliases from ~/.ssh/config keep working.
func (r Remote) CloneURL() string {
	return r.Raw
}

// String renders a normalized form for display and audit records.
func (r Remote) String() string {
	switch r.Scheme {
	case "file":
		return "file://" + r.Path
	case "ssh":
		host := r.Host
		if r.User != "" {
			host = r.User + "@" + host
		}
		return "ssh://" + host + "/" + strings.TrimPrefix(r.Path, "/")
	default:
		return r.Raw
	}
}
