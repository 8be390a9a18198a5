package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	// Imports postgresql driver for database/sql
	_ "github.com/lib/pq"
	// Imports sqlite driver for database/sql
	_ "github.com/mattn/go-sqlite3"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS continue_entries (
		session_id   TEXT NOT NULL,
		checker_type TEXT NOT NULL,
		subject      TEXT NOT NULL,
		status       TEXT NOT NULL,
		tested_at    BIGINT NOT NULL,
		PRIMARY KEY (session_id, checker_type, subject)
	)`,
	`CREATE TABLE IF NOT EXISTS lookup_cache (
		kind             TEXT NOT NULL,
		subject          TEXT NOT NULL,
		payload          TEXT NOT NULL,
		expiration_epoch BIGINT NOT NULL,
		PRIMARY KEY (kind, subject)
	)`,
}

// SQLDatabase is a Database backed by postgresql or sqlite. Queries are
// written with ? placeholders and rebound for the driver in use.
type SQLDatabase struct {
	conn  *sqlx.DB
	clock func() time.Time
}

func getConnectionString(cfg config.DBConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.PathEscape(cfg.Username),
		url.PathEscape(cfg.Password),
		url.PathEscape(cfg.Host),
		url.PathEscape(cfg.Name))
}

// InitSQLDatabase connects to Postgres using cfg and creates the schema.
func InitSQLDatabase(ctx context.Context, cfg config.DBConfig) (*SQLDatabase, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", getConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return initSchema(ctx, NewSQLDatabase(conn))
}

// InitSQLiteDatabase opens (creating if needed) the sqlite file at path and
// creates the schema.
func InitSQLiteDatabase(ctx context.Context, path string) (*SQLDatabase, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite allows a single writer.
	conn.SetMaxOpenConns(1)
	return initSchema(ctx, NewSQLDatabase(conn))
}

// NewSQLDatabase wraps an existing connection without touching the schema.
func NewSQLDatabase(conn *sqlx.DB) *SQLDatabase {
	return &SQLDatabase{conn: conn, clock: time.Now}
}

func initSchema(ctx context.Context, db *SQLDatabase) (*SQLDatabase, error) {
	if err := db.Migrate(ctx); err != nil {
		db.conn.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables when they are missing.
func (db *SQLDatabase) Migrate(ctx context.Context) error {
	for _, command := range schema {
		if _, err := db.conn.ExecContext(ctx, command); err != nil {
			return fmt.Errorf("command failed: %s\nwith error: %w", command, err)
		}
	}
	return nil
}

type continueRow struct {
	SessionID   string `db:"session_id"`
	CheckerType string `db:"checker_type"`
	Subject     string `db:"subject"`
	Status      string `db:"status"`
	TestedAt    int64  `db:"tested_at"`
}

// CONTINUATION FUNCTIONS

// IsAlreadyTested reports whether subject has a row in the session.
func (db *SQLDatabase) IsAlreadyTested(ctx context.Context, sessionID, checkerType, subject string) (bool, error) {
	var count int
	err := db.conn.GetContext(ctx, &count, db.conn.Rebind(
		`SELECT COUNT(*) FROM continue_entries
		WHERE session_id = ? AND checker_type = ? AND subject = ?`),
		sessionID, checkerType, subject)
	if err != nil {
		return false, integrity("lookup", subject, err)
	}
	return count > 0, nil
}

const upsertContinueQuery = `
INSERT INTO continue_entries (session_id, checker_type, subject, status, tested_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (session_id, checker_type, subject)
DO UPDATE SET status = excluded.status, tested_at = excluded.tested_at`

// Record upserts entry with a single statement.
func (db *SQLDatabase) Record(ctx context.Context, entry models.ContinueEntry) error {
	testedAt := entry.TestedAt
	if testedAt.IsZero() {
		testedAt = db.clock()
	}
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(upsertContinueQuery),
		entry.SessionID, entry.CheckerType, entry.Subject, string(entry.Status), testedAt.Unix())
	return integrity("record", entry.Subject, err)
}

// Cleanup removes the session's rows inside a transaction.
func (db *SQLDatabase) Cleanup(ctx context.Context, sessionID string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return integrity("cleanup", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM continue_entries WHERE session_id = ?`), sessionID); err != nil {
		tx.Rollback()
		return integrity("cleanup", sessionID, err)
	}
	return integrity("cleanup", sessionID, tx.Commit())
}

// CountTested counts the session's rows.
func (db *SQLDatabase) CountTested(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := db.conn.GetContext(ctx, &count, db.conn.Rebind(
		`SELECT COUNT(*) FROM continue_entries WHERE session_id = ?`), sessionID)
	return count, integrity("count", sessionID, err)
}

// Entries lists the session's rows ordered by subject.
func (db *SQLDatabase) Entries(ctx context.Context, sessionID string) ([]models.ContinueEntry, error) {
	rows := []continueRow{}
	err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(
		`SELECT session_id, checker_type, subject, status, tested_at FROM continue_entries
		WHERE session_id = ? ORDER BY subject`), sessionID)
	if err != nil {
		return nil, integrity("list", sessionID, err)
	}
	entries := make([]models.ContinueEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.ContinueEntry{
			SessionID:   row.SessionID,
			CheckerType: row.CheckerType,
			Subject:     row.Subject,
			Status:      models.Status(row.Status),
			TestedAt:    time.Unix(row.TestedAt, 0),
		})
	}
	return entries, nil
}

// DeleteOlderThan removes rows tested before cutoff.
func (db *SQLDatabase) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`DELETE FROM continue_entries WHERE tested_at < ?`), cutoff.Unix())
	if err != nil {
		return 0, integrity("expire", "continue_entries", err)
	}
	return res.RowsAffected()
}

// CACHE FUNCTIONS

// GetCache returns the record for (kind, subject) while it has not expired.
func (db *SQLDatabase) GetCache(ctx context.Context, kind models.CacheKind, subject string) (*models.CacheRecord, error) {
	var record models.CacheRecord
	err := db.conn.GetContext(ctx, &record, db.conn.Rebind(
		`SELECT kind, subject, payload, expiration_epoch FROM lookup_cache
		WHERE kind = ? AND subject = ? AND expiration_epoch > ?`),
		string(kind), subject, db.clock().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, integrity("cache get", subject, err)
	}
	return &record, nil
}

const upsertCacheQuery = `
INSERT INTO lookup_cache (kind, subject, payload, expiration_epoch)
VALUES (?, ?, ?, ?)
ON CONFLICT (kind, subject)
DO UPDATE SET payload = excluded.payload, expiration_epoch = excluded.expiration_epoch`

// PutCache upserts a payload expiring ttlDays from now.
func (db *SQLDatabase) PutCache(ctx context.Context, kind models.CacheKind, subject, payload string, ttlDays int) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(upsertCacheQuery),
		string(kind), subject, payload, models.ExpirationFor(db.clock(), ttlDays))
	return integrity("cache put", subject, err)
}

// PurgeExpired deletes cache rows that expired at or before now.
func (db *SQLDatabase) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`DELETE FROM lookup_cache WHERE expiration_epoch <= ?`), now.Unix())
	if err != nil {
		return 0, integrity("purge", "lookup_cache", err)
	}
	return res.RowsAffected()
}

// ClearTables nukes all the tables. ** Should only be used during testing **
func (db *SQLDatabase) ClearTables(ctx context.Context) error {
	for _, table := range []string{"continue_entries", "lookup_cache"} {
		if _, err := db.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// GetName retrieves a readable name for this data store (for use in error messages)
func (db *SQLDatabase) GetName() string {
	return "SQL Database (" + db.conn.DriverName() + ")"
}

// Close closes the connection pool.
func (db *SQLDatabase) Close() error {
	return db.conn.Close()
}
