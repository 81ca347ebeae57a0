package db

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/toeirei/stevedore/internal/model"
	"github.com/uptrace/bun"
)

// ArtifactModel maps the `artifacts` table for Bun queries.
type ArtifactModel struct {
	bun.BaseModel `bun:"table:artifacts"`
	ID            int       `bun:"id,pk,autoincrement"`
	Name          string    `bun:"name"`
	GitURL        string    `bun:"git_url"`
	Ref           string    `bun:"ref"`
	CommitHash    string    `bun:"commit_hash"`
	Digest        string    `bun:"digest"`
	SizeBytes     int64     `bun:"size_bytes"`
	Archive       string    `bun:"archive"`
	FetchedAt     time.Time `bun:"fetched_at"`
}

// KnownHostModel maps known_hosts.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"key"`
}

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

// --- Mapping helpers (centralized conversions) ---

func artifactModelToModel(a ArtifactModel) model.Artifact {
	return model.Artifact{
		ID:        a.ID,
		Name:      a.Name,
		URL:       a.GitURL,
		Ref:       a.Ref,
		Commit:    a.CommitHash,
		Digest:    a.Digest,
		Size:      a.SizeBytes,
		Archive:   a.Archive,
		FetchedAt: a.FetchedAt,
	}
}

func artifactToBunModel(a model.Artifact) *ArtifactModel {
	fetched := a.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}
	return &ArtifactModel{
		ID:         a.ID,
		Name:       a.Name,
		GitURL:     a.URL,
		Ref:        a.Ref,
		CommitHash: a.Commit,
		Digest:     a.Digest,
		SizeBytes:  a.Size,
		Archive:    a.Archive,
		FetchedAt:  fetched,
	}
}

func auditLogModelToModel(a AuditLogModel) model.AuditLogEntry {
	return model.AuditLogEntry{ID: a.ID, Timestamp: a.Timestamp, Username: a.Username, Action: a.Action, Details: a.Details}
}

// GetAllArtifactsBun returns all artifacts ordered by name, then commit.
func GetAllArtifactsBun(bdb *bun.DB) ([]model.Artifact, error) {
	ctx := context.Background()
	var am []ArtifactModel
	if err := bdb.NewSelect().Model(&am).OrderExpr("name, commit_hash").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Artifact, 0, len(am))
	for _, a := range am {
		out = append(out, artifactModelToModel(a))
	}
	return out, nil
}

// GetArtifactsByNameBun returns all stowed snapshots of one dependency,
// newest first.
func GetArtifactsByNameBun(bdb *bun.DB, name string) ([]model.Artifact, error) {
	ctx := context.Background()
	var am []ArtifactModel
	if err := bdb.NewSelect().Model(&am).Where("name = ?", name).OrderExpr("fetched_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Artifact, 0, len(am))
	for _, a := range am {
		out = append(out, artifactModelToModel(a))
	}
	return out, nil
}

// GetArtifactBun retrieves a single artifact by its (name, commit) identity.
// Returns (nil, nil) when no such artifact is recorded.
func GetArtifactBun(bdb *bun.DB, name, commit string) (*model.Artifact, error) {
	ctx := context.Background()
	var a ArtifactModel
	err := bdb.NewSelect().Model(&a).Where("name = ?", name).Where("commit_hash = ?", commit).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m := artifactModelToModel(a)
	return &m, nil
}

// AddArtifactBun inserts an artifact and returns its ID. A re-stow of the
// same (name, commit) is not an error: the existing row is refreshed with
// the new digest, size, archive name and fetch time.
func AddArtifactBun(bdb *bun.DB, a model.Artifact) (int, error) {
	ctx := context.Background()
	am := artifactToBunModel(a)
	am.ID = 0
	_, err := bdb.NewInsert().Model(am).
		Column("name", "git_url", "ref", "commit_hash", "digest", "size_bytes", "archive", "fetched_at").
		Returning("id").Exec(ctx)
	if err == nil {
		return am.ID, nil
	}
	if MapDBError(err) != ErrDuplicate {
		return 0, err
	}

	// Upsert path: refresh the existing row in place.
	if _, err := ExecRaw(ctx, bdb,
		"UPDATE artifacts SET git_url = ?, ref = ?, digest = ?, size_bytes = ?, archive = ?, fetched_at = ? WHERE name = ? AND commit_hash = ?",
		am.GitURL, am.Ref, am.Digest, am.SizeBytes, am.Archive, am.FetchedAt, am.Name, am.CommitHash); err != nil {
		return 0, err
	}
	existing, err := GetArtifactBun(bdb, am.Name, am.CommitHash)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, fmt.Errorf("artifact %s@%s vanished during upsert", am.Name, am.CommitHash)
	}
	return existing.ID, nil
}

// DeleteArtifactBun removes an artifact row by id.
func DeleteArtifactBun(bdb *bun.DB, id int) error {
	ctx := context.Background()
	_, err := bdb.NewDelete().Model((*ArtifactModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// GetKnownHostKeyBun retrieves the pinned public key for a hostname.
// An unknown host returns "" without an error; absence is a state.
func GetKnownHostKeyBun(bdb *bun.DB, hostname string) (string, error) {
	ctx := context.Background()
	var kh KnownHostModel
	err := bdb.NewSelect().Model(&kh).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return kh.Key, nil
}

// GetAllAuditLogEntriesBun retrieves audit log entries ordered by timestamp desc.
func GetAllAuditLogEntriesBun(bdb *bun.DB) ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var am []AuditLogModel
	if err := bdb.NewSelect().Model(&am).OrderExpr("timestamp DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(am))
	for _, a := range am {
		out = append(out, auditLogModelToModel(a))
	}
	return out, nil
}

// LogActionBun inserts an audit log entry with the current OS user.
func LogActionBun(bdb *bun.DB, action string, details string) error {
	ctx := context.Background()
	curUser, err := user.Current()
	username := "unknown"
	if err == nil {
		if parts := strings.Split(curUser.Username, `\`); len(parts) > 1 {
			username = parts[1]
		} else {
			username = curUser.Username
		}
	}
	_, err = ExecRaw(ctx, bdb, "INSERT INTO audit_log (username, action, details) VALUES (?, ?, ?)", username, action, details)
	return MapDBError(err)
}

// ExportDataForBackupBun exports all tables' data into a model.BackupData
// using a Bun transaction for a consistent snapshot.
func ExportDataForBackupBun(bdb *bun.DB) (*model.BackupData, error) {
	ctx := context.Background()
	var backup *model.BackupData
	err := WithTx(ctx, bdb, func(ctx context.Context, tx bun.Tx) error {
		backup = &model.BackupData{SchemaVersion: 1}

		var arts []ArtifactModel
		if err := tx.NewSelect().Model(&arts).Scan(ctx); err != nil {
			return err
		}
		for _, a := range arts {
			backup.Artifacts = append(backup.Artifacts, artifactModelToModel(a))
		}

		var khs []KnownHostModel
		if err := tx.NewSelect().Model(&khs).Scan(ctx); err != nil {
			return err
		}
		for _, k := range khs {
			backup.KnownHosts = append(backup.KnownHosts, model.KnownHost{Hostname: k.Hostname, Key: k.Key})
		}

		var als []AuditLogModel
		if err := tx.NewSelect().Model(&als).Scan(ctx); err != nil {
			return err
		}
		for _, a := range als {
			backup.AuditLogEntries = append(backup.AuditLogEntries, auditLogModelToModel(a))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return backup, nil
}

// ImportDataFromBackupBun performs a full wipe-and-replace using a Bun transaction.
func ImportDataFromBackupBun(bdb *bun.DB, backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, bdb, func(ctx context.Context, tx bun.Tx) error {
		// Wipe tables
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
			if _, err := ExecRaw(ctx, tx, "INSERT INTO known_hosts (hostname, key) VALUES (?, ?)", kh.Hostname, kh.Key); err != nil {
				return MapDBError(err)
			}
		}
		// Audit log: convert RFC3339 timestamps to time.Time when possible so MySQL accepts them.
		for _, ale := range backup.AuditLogEntries {
			var ts interface{} = ale.Timestamp
			if ale.Timestamp != "" {
				if parsed, err := time.Parse(time.RFC3339, ale.Timestamp); err == nil {
					ts = parsed
				} else {
					// Fallback: convert 'T' separator to space and strip trailing 'Z' if present.
					s := ale.Timestamp
					s = strings.Replace(s, "T", " ", 1)
					s = strings.TrimSuffix(s, "Z")
					ts = s
				}
			}
			if _, err := ExecRaw(ctx, tx, "INSERT INTO audit_log (id, timestamp, username, action, details) VALUES (?, ?, ?, ?, ?)", ale.ID, ts, ale.Username, ale.Action, ale.Details); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}
