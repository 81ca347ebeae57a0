package gitfetch

import "testing"

func TestParseRemote(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		scheme  string
		user    string
		host    string
		path    string
		private bool
		wantErr bool
	}{
		{
			name:    "ssh url",
			raw:     "ssh://git@github.com/acme/billing-core.git",
			scheme:  "ssh",
			user:    "git",
			host:    "github.com",
			path:    "acme/billing-core.git",
			private: true,
		},
		{
			name:    "scp-like",
			raw:     "git@github.com:acme/audit-log.git",
			scheme:  "ssh",
			user:    "git",
			host:    "github.com",
			path:    "acme/audit-log.git",
			private: true,
		},
		{
			name:    "scp-like host alias without user",
			raw:     "work-github:acme/tool.git",
			scheme:  "ssh",
			host:    "work-github",
			path:    "acme/tool.git",
			private: true,
		},
		{
			name:   "https",
			raw:    "https://github.com/acme/public.git",
			scheme: "https",
			host:   "github.com",
			path:   "acme/public.git",
		},
		{
			name:   "file url",
			raw:    "file:///srv/git/repo",
			scheme: "file",
			path:   "/srv/git/repo",
		},
		{
			name:   "bare local path",
			raw:    "/srv/git/repo",
			scheme: "file",
			path:   "/srv/git/repo",
		},
		{
			name:   "relative local path",
			raw:    "./fixtures/repo",
			scheme: "file",
			path:   "./fixtures/repo",
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "bad scheme", raw: "ftp://x.test/a.git", wantErr: true},
		{name: "scp-like missing path", raw: "git@github.com:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRemote(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRemote(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRemote(%q) failed: %v", tt.raw, err)
			}
			if r.Scheme != tt.scheme {
				t.Errorf("scheme = %q, want %q", r.Scheme, tt.scheme)
			}
			if r.User != tt.user {
				t.Errorf("user = %q, want %q", r.User, tt.user)
			}
			if r.Host != tt.host {
				t.Errorf("host = %q, want %q", r.Host, tt.host)
			}
			if r.Path != tt.path {
				t.Errorf("path = %q, want %q", r.Path, tt.path)
			}
			if r.Private() != tt.private {
				t.Errorf("Private() = %v, want %v", r.Private(), tt.private)
			}
		})
	}
}

func TestRemoteCloneURLPassesThrough(t *testing.T) {
	// ssh aliases from ~/.ssh/config only work if git sees the raw form.
	raw := "work-github:acme/tool.git"
	r, err := ParseRemote(raw)
	if err != nil {
		t.Fatal(err)
	}
	if r.CloneURL() != raw {
		t.Errorf("CloneURL = %q, want untouched %q", r.CloneURL(), raw)
	}
}

func TestRemoteString(t *testing.T) {
	r, err := ParseRemote("git@github.com:acme/audit-log.git")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := r.String(), "ssh://git@github.com/acme/audit-log.git"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
