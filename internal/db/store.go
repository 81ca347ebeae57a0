// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"github.com/toeirei/stevedore/internal/model"
)

// Store defines the interface for all index database operations in Stevedore.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Artifact methods
	GetAllArtifacts() ([]model.Artifact, error)
	GetArtifactsByName(name string) ([]model.Artifact, error)
	GetArtifact(name, commit string) (*model.Artifact, error)
	AddArtifact(a model.Artifact) (int, error)
	DeleteArtifact(id int) error

	// Host key methods
	GetKnownHostKey(hostname string) (string, error)
	AddKnownHostKey(hostname, key string) error

	// Audit log methods
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)
	LogAction(action string, details string) error

	// Backup & restore methods
	ExportDataForBackup() (*model.BackupData, error)
	ImportDataFromBackup(backup *model.BackupData) error
	IntegrateDataFromBackup(backup *model.BackupData) error
}
