// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package seed

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/stevedore/internal/state"
)

func testHostKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("convert host key: %v", err)
	}
	return sshPub, string(ssh.MarshalAuthorizedKey(sshPub))
}

func TestPinnedHostKey(t *testing.T) {
	key, marshaled := testHostKey(t)
	otherKey, _ := testHostKey(t)
	addr := &net.TCPAddr{}

	t.Run("unknown host", func(t *testing.T) {
		cb := PinnedHostKey(func(string) (string, error) { return "", nil })
		err := cb("seedhost:22", addr, key)
		if !errors.Is(err, ErrUnknownHostKey) {
			t.Fatalf("err = %v, want ErrUnknownHostKey", err)
		}
		if !strings.Contains(err.Error(), "trust-host") {
			t.Errorf("error does not point at trust-host: %v", err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		cb := PinnedHostKey(func(string) (string, error) { return marshaled, nil })
		err := cb("seedhost:22", addr, otherKey)
		if !errors.Is(err, ErrHostKeyMismatch) {
			t.Fatalf("err = %v, want ErrHostKeyMismatch", err)
		}
	})

	t.Run("pinned", func(t *testing.T) {
		gotHost := ""
		cb := PinnedHostKey(func(h string) (string, error) {
			gotHost = h
			return marshaled, nil
		})
		if err := cb("seedhost:22", addr, key); err != nil {
			t.Fatalf("err = %v, want nil for pinned key", err)
		}
		if gotHost != "seedhost" {
			t.Errorf("lookup host = %q, want port stripped", gotHost)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		cb := PinnedHostKey(func(string) (string, error) { return "", errors.New("index down") })
		if err := cb("seedhost:22", addr, key); err == nil {
			t.Fatal("err = nil, want lookup error surfaced")
		}
	})
}

func TestParseConfiguredKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	plainBlock, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	plain := pem.EncodeToMemory(plainBlock)

	encBlock, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}
	encrypted := pem.EncodeToMemory(encBlock)

	t.Run("plain key", func(t *testing.T) {
		if _, err := parseConfiguredKey(plain); err != nil {
			t.Fatalf("parseConfiguredKey() error = %v", err)
		}
	})

	t.Run("encrypted without passphrase", func(t *testing.T) {
		state.PassphraseCache.Clear()
		if _, err := parseConfiguredKey(encrypted); err == nil {
			t.Fatal("parseConfiguredKey() accepted an encrypted key with no passphrase")
		}
	})

	t.Run("encrypted with mailbox passphrase", func(t *testing.T) {
		state.PassphraseCache.Set([]byte("hunter2"))
		defer state.PassphraseCache.Clear()
		if _, err := parseConfiguredKey(encrypted); err != nil {
			t.Fatalf("parseConfiguredKey() error = %v", err)
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		state.PassphraseCache.Set([]byte("nope"))
		defer state.PassphraseCache.Clear()
		if _, err := parseConfiguredKey(encrypted); err == nil {
			t.Fatal("parseConfiguredKey() accepted a wrong passphrase")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := parseConfiguredKey([]byte("not a key")); err == nil {
			t.Fatal("parseConfiguredKey() accepted garbage")
		}
	})
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{"deploy@seedhost:/srv/hold", Target{"deploy", "seedhost", "/srv/hold"}, false},
		{"deploy@seedhost:hold", Target{"deploy", "seedhost", "hold"}, false},
		{"deploy@[2001:db8::1]:/srv/hold", Target{"deploy", "2001:db8::1", "/srv/hold"}, false},
		{"seedhost:/srv/hold", Target{}, true},
		{"deploy@seedhost", Target{}, true},
		{"deploy@:path", Target{}, true},
		{"deploy@seedhost:", Target{}, true},
		{"@seedhost:/srv/hold", Target{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTargetString(t *testing.T) {
	tgt := Target{User: "deploy", Host: "2001:db8::1", Path: "/srv/hold"}
	if got := tgt.String(); got != "deploy@[2001:db8::1]:/srv/hold" {
		t.Errorf("String() = %q", got)
	}
}

func TestHostPortHelpers(t *testing.T) {
	cases := []struct {
		in    string
		host  string
		port  string
		canon string
	}{
		{"example.com", "example.com", "", "example.com:22"},
		{"example.com:2222", "example.com", "2222", "example.com:2222"},
		{"192.168.1.10", "192.168.1.10", "", "192.168.1.10:22"},
		{"[2001:db8::1]", "2001:db8::1", "", "[2001:db8::1]:22"},
		{"[2001:db8::1]:2200", "2001:db8::1", "2200", "[2001:db8::1]:2200"},
		{"2001:db8::1", "2001:db8::1", "", "[2001:db8::1]:22"},
		{"user@example.com", "example.com", "", "example.com:22"},
		{"user@[2001:db8::1]:2222", "2001:db8::1", "2222", "[2001:db8::1]:2222"},
	}
	for _, c := range cases {
		h, p, err := ParseHostPort(c.in)
		if err != nil {
			t.Fatalf("unexpected error parsing %q: %v", c.in, err)
		}
		if h != c.host || p != c.port {
			t.Errorf("ParseHostPort(%q) => host=%q port=%q; want host=%q port=%q", c.in, h, p, c.host, c.port)
		}
		if canon := CanonicalizeHostPort(c.in); canon != c.canon {
			t.Errorf("CanonicalizeHostPort(%q) => %q; want %q", c.in, canon, c.canon)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"nil error", nil, ""},
		{"timeout", errors.New("i/o timeout"), "timed out"},
		{"refused", errors.New("connection refused"), "refused"},
		{"auth", errors.New("ssh: unable to authenticate, attempted methods [none publickey]"), "authentication failed"},
		{"host key", errors.New("ssh: handshake failed: unknown host key for seedhost"), "host key verification failed"},
		{"generic", errors.New("broken pipe"), "failed to connect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConnectionError("seedhost", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("ClassifyConnectionError(nil) = %v", got)
				}
				return
			}
			if got == nil || !strings.Contains(got.Error(), tt.wantMsg) {
				t.Errorf("ClassifyConnectionError() = %v, want containing %q", got, tt.wantMsg)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classification lost the cause: %v", got)
			}
		})
	}
}

func TestIsAuthenticationError(t *testing.T) {
	if IsAuthenticationError(nil) {
		t.Error("IsAuthenticationError(nil) = true")
	}
	if !IsAuthenticationError(errors.New("ssh: unable to authenticate, no supported methods remain")) {
		t.Error("real ssh auth failure not classified")
	}
	if IsAuthenticationError(errors.New("connection refused")) {
		t.Error("refusal classified as auth failure")
	}
}
