// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db provides the index data access layer for Stevedore.
// This file contains the PostgreSQL implementation of the database store,
// used for shared team indexes.
package db // import "github.com/toeirei/stevedore/internal/db"

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/toeirei/stevedore/internal/model"
	"github.com/uptrace/bun"
)

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	bun *bun.DB
}

// GetAllArtifacts retrieves all artifacts from the index.
func (s *PostgresStore) GetAllArtifacts() ([]model.Artifact, error) {
	return GetAllArtifactsBun(s.bun)
}

// GetArtifactsByName retrieves all stowed snapshots of one dependency.
func (s *PostgresStore) GetArtifactsByName(name string) ([]model.Artifact, error) {
	return GetArtifactsByNameBun(s.bun, name)
}

// GetArtifact retrieves a single artifact by its (name, commit) identity.
func (s *PostgresStore) GetArtifact(name, commit string) (*model.Artifact, error) {
	return GetArtifactBun(s.bun, name, commit)
}

// AddArtifact records a stowed snapshot, refreshing the row on re-stow.
func (s *PostgresStore) AddArtifact(a model.Artifact) (int, error) {
	id, err := AddArtifactBun(s.bun, a)
	if err == nil {
		_ = s.LogAction("ADD_ARTIFACT", fmt.Sprintf("artifact: %s", a.String()))
	}
	return id, err
}

// DeleteArtifact removes an artifact row by its ID.
func (s *PostgresStore) DeleteArtifact(id int) error {
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
func (s *PostgresStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey pins a trusted host key using Postgres upsert semantics.
func (s *PostgresStore) AddKnownHostKey(hostname, key string) error {
	_, err := ExecRaw(context.Background(), s.bun,
		"INSERT INTO known_hosts (hostname, key) VALUES (?, ?) ON CONFLICT (hostname) DO UPDATE SET key = EXCLUDED.key", hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return err
}

// GetAllAuditLogEntries retrieves all entries from the audit log, most recent first.
func (s *PostgresStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *PostgresStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the index for a backup.
func (s *PostgresStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the index from a backup data structure.
func (s *PostgresStore) ImportDataFromBackup(backup *model.BackupData) error {
	if err := ImportDataFromBackupBun(s.bun, backup); err != nil {
		return err
	}
	// Imported rows carry explicit ids, which bypass the sequences; realign
	// them so the next insert does not collide.
	ctx := context.Background()
	for _, seq := range []string{"artifacts", "audit_log"} {
		q := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(id), 1)) FROM %s", seq, seq)
		if _, err := ExecRaw(ctx, s.bun, q); err != nil {
			return fmt.Errorf("failed to realign %s id sequence: %w", seq, err)
		}
	}
	return nil
}

// IntegrateDataFromBackup restores data from a backup in a non-destructive way,
// skipping entries that already exist.
func (s *PostgresStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, a := range backup.Artifacts {
			am := artifactToBunModel(a)
			if _, err := ExecRaw(ctx, tx,
				"INSERT INTO artifacts (id, name, git_url, ref, commit_hash, digest, size_bytes, archive, fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
				am.ID, am.Name, am.GitURL, am.Ref, am.CommitHash, am.Digest, am.SizeBytes, am.Archive, am.FetchedAt); err != nil {
				return err
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO known_hosts (hostname, key) VALUES (?, ?) ON CONFLICT DO NOTHING", kh.Hostname, kh.Key); err != nil {
				return err
			}
		}
		return nil
	})
}
