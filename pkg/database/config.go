package database

import "time"

// Config holds the connection-pool settings for the PostgreSQL client.
// DSN is a full connection string (spec.md §6's DB_URL) rather than the
// teacher's decomposed host/port/user fields, since this service's single
// closed configuration option is DB_URL; pool sizing still follows the
// teacher's Config shape one field at a time.
type Config struct {
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}
