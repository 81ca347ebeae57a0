// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data structures shared across Stevedore:
// manifest dependencies, locked snapshots, index rows and audit entries.
package model // import "github.com/toeirei/stevedore/internal/model"

import (
	"fmt"
	"time"
)

// Dependency represents a dependency as declared in the manifest, before
// resolution. Exactly one of Branch, Tag or Rev may be set; all empty means
// the remote's default branch.
type Dependency struct {
	Name   string
	URL    string // git remote (ssh://, scp-like, https:// or file://)
	Branch string
	Tag    string
	Rev    string
	Subdir string // optional subdirectory of the snapshot to keep
}

// Ref returns the requested ref for this dependency: the branch, tag or rev
// that was declared, or "HEAD" when none was.
func (d Dependency) Ref() string {
	switch {
	case d.Branch != "":
		return d.Branch
	case d.Tag != "":
		return d.Tag
	case d.Rev != "":
		return d.Rev
	}
	return "HEAD"
}

// String returns the name @ url#ref representation used in logs and errors.
func (d Dependency) String() string {
	return fmt.Sprintf("%s @ %s#%s", d.Name, d.URL, d.Ref())
}

// LockedDependency pins a manifest dependency to an exact commit and
// snapshot digest. This is the unit the lockfile stores.
type LockedDependency struct {
	Name   string
	URL    string
	Ref    string // what the manifest asked for at lock time
	Commit string // full hex commit id, never a short ref
	Digest string // "sha256:<hex>" over the uncompressed tar stream
	Size   int64  // archive size in bytes on disk
}

// ShortCommit returns the first 12 hex digits of the locked commit, which is
// what archive filenames and UI tables show.
func (l LockedDependency) ShortCommit() string {
	if len(l.Commit) < 12 {
		return l.Commit
	}
	return l.Commit[:12]
}

// String returns the name@commit representation.
func (l LockedDependency) String() string {
	return fmt.Sprintf("%s@%s", l.Name, l.ShortCommit())
}

// Artifact is the index database's record of a stowed snapshot archive. It
// shadows the lockfile entry and adds local bookkeeping.
type Artifact struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"git_url"`
	Ref       string    `json:"ref"`
	Commit    string    `json:"commit_hash"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size_bytes"`
	Archive   string    `json:"archive"` // archive filename relative to the hold's archives dir
	FetchedAt time.Time `json:"fetched_at"`
}

// String returns the name@commit representation.
func (a Artifact) String() string {
	c := a.Commit
	if len(c) > 12 {
		c = c[:12]
	}
	return fmt.Sprintf("%s@%s", a.Name, c)
}

// Locked converts the artifact into its lockfile form.
func (a Artifact) Locked() LockedDependency {
	return LockedDependency{
		Name:   a.Name,
		URL:    a.URL,
		Ref:    a.Ref,
		Commit: a.Commit,
		Digest: a.Digest,
		Size:   a.Size,
	}
}

// ArchiveName returns the canonical archive filename for a snapshot:
// <name>-<short commit>.tar.zst.
func ArchiveName(name, commit string) string {
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("%s-%s.tar.zst", name, commit)
}

// KnownHost represents a trusted SSH host's public key, pinned for the seed
// transport.
type KnownHost struct {
	Hostname string `json:"hostname"`
	Key      string `json:"key"`
}

// AuditLogEntry represents a single entry in the audit trail.
type AuditLogEntry struct {
	ID        int    `json:"id"`
	Timestamp string `json:"timestamp"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}

// BackupData is a container for all index data exported in a backup.
type BackupData struct {
	// SchemaVersion helps in handling migrations during restore.
	SchemaVersion int `json:"schema_version"`

	Artifacts       []Artifact      `json:"artifacts"`
	KnownHosts      []KnownHost     `json:"known_hosts"`
	AuditLogEntries []AuditLogEntry `json:"audit_log_entries"`
}

// HoldStats summarizes the state of the hold's archive store.
type HoldStats struct {
	Archives   int
	TotalBytes int64
	Orphans    int // archives not referenced by the lockfile
}
