package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// dbMetadataRow mirrors the singleton db_metadata table.
type dbMetadataRow struct {
	SchemaVersion int    `db:"schema_version"`
	InstalledBy   string `db:"installed_by"`
}

// VerifyBootHandshake reads the singleton db_metadata row and fails if its
// schema_version doesn't match expectedSchemaVersion, or if installed_by
// doesn't match expectedInstalledBy. Mismatch is fatal: the caller should
// treat this as FatalConfig and refuse to start (spec.md §6, testable
// property #10).
func VerifyBootHandshake(ctx context.Context, db *sqlx.DB, expectedSchemaVersion int, expectedInstalledBy string) error {
	var row dbMetadataRow
	if err := db.GetContext(ctx, &row, `SELECT schema_version, installed_by FROM db_metadata WHERE id = 1`); err != nil {
		return fmt.Errorf("boot handshake: read db_metadata: %w", err)
	}
	if row.SchemaVersion != expectedSchemaVersion {
		return fmt.Errorf("boot handshake: schema version mismatch: binary expects %d, database has %d",
			expectedSchemaVersion, row.SchemaVersion)
	}
	if row.InstalledBy != expectedInstalledBy {
		return fmt.Errorf("boot handshake: installed-by fingerprint mismatch: binary expects %q, database has %q",
			expectedInstalledBy, row.InstalledBy)
	}
	return nil
}
