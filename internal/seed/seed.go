// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package seed moves hold archives to and from a shared host over SFTP.
// A team seeds one host with the archives private remotes produce; everyone
// else pulls from it and never needs the remotes' SSH access at all. Host
// keys are pinned against the index's known_hosts table.
package seed // import "github.com/toeirei/stevedore/internal/seed"

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/toeirei/stevedore/internal/db"
	"github.com/toeirei/stevedore/internal/hold"
	"github.com/toeirei/stevedore/internal/model"
	"github.com/toeirei/stevedore/internal/state"
)

var (
	// ErrUnknownHostKey means the host has never been trusted. The fix is
	// `stevedore trust-host`.
	ErrUnknownHostKey = errors.New("unknown host key")

	// ErrHostKeyMismatch means the host presented a key that differs from
	// the pinned one.
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// KnownHostLookup returns the pinned authorized_keys-format key for a
// hostname, or "" when the host has never been trusted.
type KnownHostLookup func(hostname string) (string, error)

// PinnedHostKey builds the ssh.HostKeyCallback that enforces pinning
// against lookup. Unknown hosts are rejected with a pointer at trust-host;
// a changed key is rejected loudly.
func PinnedHostKey(lookup KnownHostLookup) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname handed to the callback can carry the port; the
		// known_hosts table stores bare hostnames.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}

		presentedKey := string(ssh.MarshalAuthorizedKey(key))

		knownKey, err := lookup(host)
		if err != nil {
			return fmt.Errorf("failed to query known_hosts index: %w", err)
		}
		if knownKey == "" {
			return fmt.Errorf("%w for %s. run 'stevedore trust-host %s' to pin it", ErrUnknownHostKey, host, host)
		}
		if knownKey != presentedKey {
			return fmt.Errorf("%w: !!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %sThis could be a man-in-the-middle attack", ErrHostKeyMismatch, host, presentedKey)
		}
		return nil
	}
}

// Seeder is an open connection to a seed host.
type Seeder struct {
	client *ssh.Client
	sftp   *sftp.Client
}

// NewSeeder connects to addr (host or host:port) as user. Auth order: the
// configured key, then a running ssh agent. keyPEM may be empty to go
// straight to the agent. Encrypted keys take their passphrase from the
// state mailbox.
func NewSeeder(addr, user string, keyPEM []byte) (*Seeder, error) {
	return newSeeder(addr, user, keyPEM, db.GetKnownHostKey)
}

func newSeeder(addr, user string, keyPEM []byte, lookup KnownHostLookup) (*Seeder, error) {
	hostKeyCallback := PinnedHostKey(lookup)
	addr = CanonicalizeHostPort(addr)

	var finalErr error

	// Attempt 1: the configured key, exclusively.
	if len(keyPEM) > 0 {
		signer, err := parseConfiguredKey(keyPEM)
		if err != nil {
			return nil, err
		}

		config := &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         DefaultConnectionTimeout,
		}

		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			sftpClient, sftpErr := sftp.NewClient(client)
			if sftpErr != nil {
				client.Close()
				return nil, fmt.Errorf("failed to create sftp client: %w", sftpErr)
			}
			return &Seeder{client: client, sftp: sftpClient}, nil
		}

		// Anything but an auth failure fails fast; host key errors must
		// never be retried around.
		if !IsAuthenticationError(err) || IsHostKeyError(err) {
			return nil, fmt.Errorf("connection with configured key failed: %w", err)
		}
		finalErr = err
	}

	// Attempt 2: the ssh agent as a fallback.
	agentClient := getSSHAgent()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("configured key authentication failed, and no SSH agent available for fallback: %w", finalErr)
		}
		return nil, errors.New("no authentication method available (no key configured and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         DefaultConnectionTimeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("connection with ssh agent failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	return &Seeder{client: client, sftp: sftpClient}, nil
}

// parseConfiguredKey turns key material into a signer, pulling the
// passphrase for encrypted keys out of the state mailbox.
func parseConfiguredKey(keyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err == nil {
		return signer, nil
	}
	var pmErr *ssh.PassphraseMissingError
	if !errors.As(err, &pmErr) {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	pass := state.PassphraseCache.Get()
	if pass == nil {
		return nil, errors.New("configured key is encrypted and no passphrase was provided")
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(keyPEM, pass)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt private key: %w", err)
	}
	return signer, nil
}

// Close closes the underlying SSH and SFTP clients.
func (s *Seeder) Close() {
	if s.sftp != nil {
		s.sftp.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

// Push uploads every lockfile-referenced archive present in the hold to
// remoteDir. Archives the remote already carries at the pinned size are
// skipped. Returns how many were uploaded.
func (s *Seeder) Push(h *hold.Hold, deps []model.LockedDependency, remoteDir string) (int, error) {
	if err := s.sftp.MkdirAll(remoteDir); err != nil {
		return 0, fmt.Errorf("failed to create remote directory %s: %w", remoteDir, err)
	}
	pushed := 0
	for _, dep := range deps {
		name := model.ArchiveName(dep.Name, dep.Commit)
		remote := path.Join(remoteDir, name)
		if fi, err := s.sftp.Stat(remote); err == nil && fi.Size() == dep.Size {
			continue
		}
		if err := s.pushOne(h.ArchivePath(dep.Name, dep.Commit), remoteDir, name); err != nil {
			return pushed, fmt.Errorf("pushing %s: %w", name, err)
		}
		pushed++
	}
	return pushed, nil
}

// pushOne uploads a single archive with a temp name and moves it into
// place atomically, so a half-finished push never looks like an archive.
func (s *Seeder) pushOne(local, remoteDir, name string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	tmpPath := path.Join(remoteDir, fmt.Sprintf(".%s.stevedore.%d", name, time.Now().UnixNano()))
	f, err := s.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		_ = s.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	f.Close()

	if err := s.sftp.Chmod(tmpPath, 0644); err != nil {
		_ = s.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	if err := s.sftp.Rename(tmpPath, path.Join(remoteDir, name)); err != nil {
		_ = s.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to atomically rename archive: %w", err)
	}
	return nil
}

// Pull downloads the lockfile-referenced archives missing from the hold,
// verifying each against its pinned digest, and stows them. It returns the
// stowed artifacts so the caller can record them in the index.
func (s *Seeder) Pull(h *hold.Hold, deps []model.LockedDependency, remoteDir string) ([]model.Artifact, error) {
	var pulled []model.Artifact
	for _, dep := range deps {
		if h.Has(dep.Name, dep.Commit) {
			continue
		}
		name := model.ArchiveName(dep.Name, dep.Commit)
		art, err := s.pullOne(h, dep, path.Join(remoteDir, name))
		if err != nil {
			return pulled, fmt.Errorf("pulling %s: %w", name, err)
		}
		pulled = append(pulled, art)
	}
	return pulled, nil
}

func (s *Seeder) pullOne(h *hold.Hold, dep model.LockedDependency, remote string) (model.Artifact, error) {
	src, err := s.sftp.Open(remote)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to open remote archive: %w", err)
	}
	defer src.Close()

	staging, err := os.MkdirTemp("", "stevedore-seed-*")
	if err != nil {
		return model.Artifact{}, err
	}
	defer os.RemoveAll(staging)

	local := filepath.Join(staging, model.ArchiveName(dep.Name, dep.Commit))
	dst, err := os.Create(local)
	if err != nil {
		return model.Artifact{}, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return model.Artifact{}, fmt.Errorf("failed to download archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return model.Artifact{}, err
	}

	// A seed host is trusted for availability, not integrity.
	if err := hold.VerifyArchive(local, dep); err != nil {
		return model.Artifact{}, err
	}

	return h.Stow(model.Artifact{
		Name:    dep.Name,
		URL:     dep.URL,
		Ref:     dep.Ref,
		Commit:  dep.Commit,
		Digest:  dep.Digest,
		Size:    dep.Size,
		Archive: local,
	})
}

// GetRemoteHostKey dials a host just far enough into the handshake to
// retrieve its public key. Used by trust-host before anything is pinned.
func GetRemoteHostKey(addr string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		// No authentication needed, the handshake is enough.
		User: "stevedore-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			// A sentinel error stops the handshake once we have the key.
			return errors.New(probeSentinel)
		},
		Timeout: 5 * time.Second,
	}

	addr = CanonicalizeHostPort(addr)

	_, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), probeSentinel) {
			return <-keyChan, nil
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return nil, errors.New("ssh.Dial succeeded unexpectedly, could not retrieve key")
}

const probeSentinel = "stevedore: successfully retrieved host key"
