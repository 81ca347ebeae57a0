package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/toeirei/stevedore/internal/model"
	"github.com/uptrace/bun"
)

// MySQLStore is the MySQL implementation of the Store interface.
// The DSN should include `?parseTime=true` so DATETIME columns scan into
// time.Time correctly.
type MySQLStore struct {
	bun *bun.DB
}

// GetAllArtifacts retrieves all artifacts from the index.
func (s *MySQLStore) GetAllArtifacts() ([]model.Artifact, error) {
	return GetAllArtifactsBun(s.bun)
}

// GetArtifactsByName retrieves all stowed snapshots of one dependency.
func (s *MySQLStore) GetArtifactsByName(name string) ([]model.Artifact, error) {
	return GetArtifactsByNameBun(s.bun, name)
}

// GetArtifact retrieves a single artifact by its (name, commit) identity.
func (s *MySQLStore) GetArtifact(name, commit string) (*model.Artifact, error) {
	return GetArtifactBun(s.bun, name, commit)
}

// AddArtifact records a stowed snapshot, refreshing the row on re-stow.
func (s *MySQLStore) AddArtifact(a model.Artifact) (int, error) {
	id, err := AddArtifactBun(s.bun, a)
	if err == nil {
		_ = s.LogAction("ADD_ARTIFACT", fmt.Sprintf("artifact: %s", a.String()))
	}
	return id, err
}

// DeleteArtifact removes an artifact row by its ID.
func (s *MySQLStore) DeleteArtifact(id int) error {
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
func (s *MySQLStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey pins a trusted host key using MySQL upsert semantics.
// `key` is a reserved word in MySQL, hence the backticks.
func (s *MySQLStore) AddKnownHostKey(hostname, key string) error {
	_, err := ExecRaw(context.Background(), s.bun,
		"INSERT INTO known_hosts (hostname, `key`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `key` = VALUES(`key`)", hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return err
}

// GetAllAuditLogEntries retrieves all entries from the audit log, most recent first.
func (s *MySQLStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *MySQLStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the index for a backup.
func (s *MySQLStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the index from a backup data structure.
// MySQL needs its own variant of the shared import because the known_hosts
// `key` column must be backtick-quoted.
func (s *MySQLStore) ImportDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		tables := []string{"audit_log", "known_hosts", "artifacts"}
		for _, t := range tables {
			if _, err := ExecRaw(ctx, tx, fmt.Sprintf("DELETE FROM %s", t)); err != nil {
				return err
			}
		}
		for _, a := range backup.Artifacts {
			am := artifactToBunModel(a)
			if _, err := ExecRaw(ctx, tx,
				"INSERT INTO artifacts (id, name, git_url, ref, commit_hash, digest, size_bytes, archive, fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				am.ID, am.Name, am.GitURL, am.Ref, am.CommitHash, am.Digest, am.SizeBytes, am.Archive, am.FetchedAt); err != nil {
				return MapDBError(err)
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO known_hosts (hostname, `key`) VALUES (?, ?)", kh.Hostname, kh.Key); err != nil {
				return MapDBError(err)
			}
		}
		for _, ale := range backup.AuditLogEntries {
			ts := mysqlTimestamp(ale.Timestamp)
			if _, err := ExecRaw(ctx, tx, "INSERT INTO audit_log (id, timestamp, username, action, details) VALUES (?, ?, ?, ?, ?)", ale.ID, ts, ale.Username, ale.Action, ale.Details); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}

// mysqlTimestamp converts an exported RFC3339 timestamp into a value MySQL's
// DATETIME columns accept.
func mysqlTimestamp(raw string) interface{} {
	if raw == "" {
		return raw
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}
	s := strings.Replace(raw, "T", " ", 1)
	return strings.TrimSuffix(s, "Z")
}

// IntegrateDataFromBackup restores data from a backup in a non-destructive way,
// skipping entries that already exist.
func (s *MySQLStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, a := range backup.Artifacts {
			am := artifactToBunModel(a)
			if _, err := ExecRaw(ctx, tx,
				"INSERT IGNORE INTO artifacts (id, name, git_url, ref, commit_hash, digest, size_bytes, archive, fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				am.ID, am.Name, am.GitURL, am.Ref, am.CommitHash, am.Digest, am.SizeBytes, am.Archive, am.FetchedAt); err != nil {
				return err
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT IGNORE INTO known_hosts (hostname, `key`) VALUES (?, ?)", kh.Hostname, kh.Key); err != nil {
				return err
			}
		}
		return nil
	})
}
