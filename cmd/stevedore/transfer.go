// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// transfer.go implements the index lifecycle commands: compressed JSON
// backups, restores, backend migration and database maintenance.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/toeirei/stevedore/internal/db"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/model"
)

var fullRestore bool // Flag for the restore command

// backupCmd dumps the index into a zstd-compressed JSON file.
var backupCmd = &cobra.Command{
	Use:   "backup [output-file]",
	Short: "Create a compressed (zstd) JSON backup of the index",
	Long: `Dumps the entire contents of the index database (artifacts, known hosts,
audit log) into a single, Zstandard-compressed JSON file.

If an output file is specified, '.zst' will be appended to the name if
it's not already present. If no output file is specified, a default
filename 'stevedore-backup-YYYY-MM-DD.json.zst' is used.

This file can be used for disaster recovery or for migrating to a
different database backend.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var outputFile string
		if len(args) == 0 {
			outputFile = fmt.Sprintf("stevedore-backup-%s.json.zst", time.Now().Format("2006-01-02"))
		} else {
			outputFile = args[0]
			if !strings.HasSuffix(outputFile, ".zst") {
				outputFile += ".zst"
			}
		}

		fmt.Println(i18n.T("backup.cli_starting"))
		data, err := db.ExportDataForBackup()
		if err != nil {
			log.Fatalf("%s", i18n.T("backup.cli_error_export", err))
		}
		if err := writeCompressedBackup(outputFile, data); err != nil {
			log.Fatalf("%s", i18n.T("backup.cli_error_write", err))
		}
		fmt.Println(i18n.T("backup.cli_success", outputFile))
	},
}

// restoreCmd loads a backup file back into the index.
var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file.zst>",
	Short: "Restore the index from a compressed JSON backup",
	Long: `Restores the index database from a Zstandard-compressed JSON backup file.
By default this performs a non-destructive "integration" restore, only
adding data that does not already exist.

To perform a full, destructive restore that WIPES all existing data
before importing, use the --full flag.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inputFile := args[0]
		fmt.Println(i18n.T("restore.cli_starting", inputFile))

		data, err := readCompressedBackup(inputFile)
		if err != nil {
			log.Fatalf("%s", i18n.T("restore.cli_error_read", err))
		}

		if fullRestore {
			err = db.ImportDataFromBackup(data)
		} else {
			err = db.IntegrateDataFromBackup(data)
		}
		if err != nil {
			log.Fatalf("%s", i18n.T("restore.cli_error_import", err))
		}

		_ = db.LogAction("RESTORE_BACKUP", fmt.Sprintf("file: %s, full: %t", inputFile, fullRestore))
		fmt.Println(i18n.T("restore.cli_success"))
	},
}

// migrateCmd moves the index to a different database backend.
var migrateCmd = &cobra.Command{
	Use:   "migrate <type> <dsn>",
	Short: "Migrate the index to a new database backend",
	Long: `Exports all data from the current index in-memory, connects to the target
database, applies schema migrations there, and performs a full restore
into it. The current index is left untouched; update database.type and
database.dsn in your config afterwards to start using the target.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		targetType, targetDsn := args[0], args[1]

		fmt.Println(i18n.T("migrate.cli_starting_backup"))
		data, err := db.ExportDataForBackup()
		if err != nil {
			log.Fatalf("%s", i18n.T("migrate.cli_error_backup", err))
		}

		target, err := db.NewStoreFromDSN(targetType, targetDsn)
		if err != nil {
			log.Fatalf("%s", i18n.T("migrate.cli_error_connect", err))
		}
		if err := target.ImportDataFromBackup(data); err != nil {
			log.Fatalf("%s", i18n.T("migrate.cli_error_import", err))
		}

		fmt.Println(i18n.T("migrate.cli_success", targetType))
		fmt.Println(i18n.T("migrate.cli_next_steps"))
	},
}

// dbMaintainCmd runs engine-specific maintenance against the index.
var dbMaintainCmd = &cobra.Command{
	Use:   "db-maintain",
	Short: "Run maintenance on the index database",
	Long: `Runs engine-specific maintenance: VACUUM, PRAGMA optimize and an
integrity check for SQLite, VACUUM ANALYZE for PostgreSQL, OPTIMIZE
TABLE for MySQL.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(i18n.T("db_maintain.cli_starting", appConfig.Database.Type))
		if err := db.RunDBMaintenance(appConfig.Database.Type, appConfig.IndexDSN()); err != nil {
			log.Fatalf("%s", i18n.T("db_maintain.cli_error", err))
		}
		fmt.Println(i18n.T("db_maintain.cli_success"))
	},
}

// readCompressedBackup handles reading and decoding a zstd-compressed JSON
// backup file.
func readCompressedBackup(filename string) (*model.BackupData, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zstdReader.Close()

	var backupData model.BackupData
	if err := json.NewDecoder(zstdReader).Decode(&backupData); err != nil {
		return nil, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}

	return &backupData, nil
}

// writeCompressedBackup streams the JSON encoding of the backup directly
// into a zstd writer, so large indexes never materialize uncompressed.
func writeCompressedBackup(filename string, data *model.BackupData) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdWriter, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	defer func() { _ = zstdWriter.Close() }()

	encoder := json.NewEncoder(zstdWriter)
	encoder.SetIndent("", "  ") // Pretty-print the JSON inside the compressed file

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}

	return nil
}
