// Package db holds the continuation and lookup-cache stores behind a common
// interface, with CSV, SQLite, Postgres and in-memory backends.
package db

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/models"
)

// ContinueStore remembers which subjects a session already tested.
type ContinueStore interface {
	// Reports whether subject already has an entry in the session.
	IsAlreadyTested(ctx context.Context, sessionID, checkerType, subject string) (bool, error)
	// Upserts a single entry atomically.
	Record(ctx context.Context, entry models.ContinueEntry) error
	// Removes every entry of a session. Entries of other sessions are untouched.
	Cleanup(ctx context.Context, sessionID string) error
	// Counts the entries of a session.
	CountTested(ctx context.Context, sessionID string) (int, error)
	// Removes entries tested before cutoff, in any session.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CacheStore keeps raw upstream payloads for a number of days.
type CacheStore interface {
	// Returns the live record, or nil when it is absent or expired.
	GetCache(ctx context.Context, kind models.CacheKind, subject string) (*models.CacheRecord, error)
	// Upserts a payload that stays usable for ttlDays days.
	PutCache(ctx context.Context, kind models.CacheKind, subject, payload string, ttlDays int) error
	// Drops every record that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Database is a backend serving both stores.
type Database interface {
	ContinueStore
	CacheStore
	// Retrieves a readable name for this data store (for use in error messages)
	GetName() string
	Close() error
}

// IntegrityError reports a store operation that failed for one key. The
// caller decides whether to continue; a bulk run logs it and moves on.
type IntegrityError struct {
	Op  string
	Key string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func integrity(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &IntegrityError{Op: op, Key: key, Err: err}
}

// Open returns the backend selected by cfg.DB.Type. When a Redis address is
// configured the lookup cache lives in Redis instead.
func Open(ctx context.Context, cfg *config.Config) (Database, error) {
	var (
		base Database
		err  error
	)
	switch cfg.DB.Type {
	case config.DBCSV:
		base, err = InitFileDatabase(cfg.DB.Path)
	case config.DBSQLite:
		base, err = InitSQLiteDatabase(ctx, filepath.Join(cfg.DB.Path, "availability.db"))
	case config.DBPostgres:
		base, err = InitSQLDatabase(ctx, cfg.DB)
	case config.DBMemory:
		base = InitMemDatabase()
	default:
		return nil, &config.ConfigurationError{Key: "db.type", Value: cfg.DB.Type, Reason: "unknown backend"}
	}
	if err != nil {
		return nil, err
	}
	if cfg.Cache.RedisAddress == "" {
		return base, nil
	}
	cache, err := InitRedisCache(ctx, cfg.Cache)
	if err != nil {
		base.Close()
		return nil, err
	}
	return &splitDatabase{Database: base, cache: cache}, nil
}

// splitDatabase serves continuation entries from one backend and the lookup
// cache from another.
type splitDatabase struct {
	Database
	cache *RedisCache
}

func (s *splitDatabase) GetCache(ctx context.Context, kind models.CacheKind, subject string) (*models.CacheRecord, error) {
	return s.cache.GetCache(ctx, kind, subject)
}

func (s *splitDatabase) PutCache(ctx context.Context, kind models.CacheKind, subject, payload string, ttlDays int) error {
	return s.cache.PutCache(ctx, kind, subject, payload, ttlDays)
}

func (s *splitDatabase) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.cache.PurgeExpired(ctx, now)
}

func (s *splitDatabase) GetName() string {
	return s.Database.GetName() + " + " + s.cache.GetName()
}

func (s *splitDatabase) Close() error {
	cacheErr := s.cache.Close()
	if err := s.Database.Close(); err != nil {
		return err
	}
	return cacheErr
}
