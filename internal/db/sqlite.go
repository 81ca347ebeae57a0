// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db provides the index data access layer for Stevedore.
// This file contains the SQLite implementation of the database store.
package db // import "github.com/toeirei/stevedore/internal/db"

import (
	"context"
	"fmt"

	"github.com/toeirei/stevedore/internal/model"
	"github.com/uptrace/bun"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SqliteStore is the SQLite implementation of the Store interface.
type SqliteStore struct {
	bun *bun.DB
}

// GetAllArtifacts retrieves all artifacts from the index.
func (s *SqliteStore) GetAllArtifacts() ([]model.Artifact, error) {
	return GetAllArtifactsBun(s.bun)
}

// GetArtifactsByName retrieves all stowed snapshots of one dependency.
func (s *SqliteStore) GetArtifactsByName(name string) ([]model.Artifact, error) {
	return GetArtifactsByNameBun(s.bun, name)
}

// GetArtifact retrieves a single artifact by its (name, commit) identity.
func (s *SqliteStore) GetArtifact(name, commit string) (*model.Artifact, error) {
	return GetArtifactBun(s.bun, name, commit)
}

// AddArtifact records a stowed snapshot, refreshing the row on re-stow.
func (s *SqliteStore) AddArtifact(a model.Artifact) (int, error) {
	id, err := AddArtifactBun(s.bun, a)
	if err == nil {
		_ = s.LogAction("ADD_ARTIFACT", fmt.Sprintf("artifact: %s", a.String()))
	}
	return id, err
}

// DeleteArtifact removes an artifact row by its ID.
func (s *SqliteStore) DeleteArtifact(id int) error {
	// Get artifact details before deleting for logging.
	details := fmt.Sprintf("id: %d", id)
	var am ArtifactModel
	if err := s.bun.NewSelect().Model(&am).Where("id = ?", id).Limit(1).Scan(context.Background()); err == nil {
		details = fmt.Sprintf("artifact: %s", artifactModelToModel(am).String())
	}
	err := DeleteArtifactBun(s.bun, id)
	if err == nil {
		_ = s.LogAction("DELETE_ARTIFACT", details)
	}
	return err
}

// GetKnownHostKey retrieves the pinned public key for a given hostname.
func (s *SqliteStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey pins a trusted host key.
func (s *SqliteStore) AddKnownHostKey(hostname, key string) error {
	// INSERT OR REPLACE will add the key if it doesn't exist, or update it if
	// it does. This is useful if a host is legitimately re-provisioned.
	_, err := ExecRaw(context.Background(), s.bun, "INSERT OR REPLACE INTO known_hosts (hostname, key) VALUES (?, ?)", hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return err
}

// GetAllAuditLogEntries retrieves all entries from the audit log, most recent first.
func (s *SqliteStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *SqliteStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the index for a backup.
// It uses a transaction to ensure a consistent snapshot of the data.
func (s *SqliteStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the index from a backup data structure.
// It performs a full wipe-and-replace within a single transaction to ensure atomicity.
func (s *SqliteStore) ImportDataFromBackup(backup *model.BackupData) error {
	return ImportDataFromBackupBun(s.bun, backup)
}

// IntegrateDataFromBackup restores data from a backup in a non-destructive way,
// skipping entries that already exist.
func (s *SqliteStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, a := range backup.Artifacts {
			am := artifactToBunModel(a)
			if _, err := ExecRaw(ctx, tx,
				"INSERT OR IGNORE INTO artifacts (id, name, git_url, ref, commit_hash, digest, size_bytes, archive, fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				am.ID, am.Name, am.GitURL, am.Ref, am.CommitHash, am.Digest, am.SizeBytes, am.Archive, am.FetchedAt); err != nil {
				return err
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT OR IGNORE INTO known_hosts (hostname, key) VALUES (?, ?)", kh.Hostname, kh.Key); err != nil {
				return err
			}
		}
		return nil
	})
}
