package db

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/EFForg/availability-backend/models"
)

// MemDatabase keeps everything in process memory. Cache records live in a
// go-cache with per-item expiration.
type MemDatabase struct {
	clock func() time.Time

	mu      sync.Mutex
	entries map[models.ContinueKey]models.ContinueEntry
	cache   *gocache.Cache
}

// InitMemDatabase returns an empty in-memory store. Expired cache records
// are dropped by PurgeExpired; no background cleanup runs.
func InitMemDatabase() *MemDatabase {
	return &MemDatabase{
		clock:   time.Now,
		entries: make(map[models.ContinueKey]models.ContinueEntry),
		cache:   gocache.New(gocache.NoExpiration, 0),
	}
}

func memCacheKey(kind models.CacheKind, subject string) string {
	return string(kind) + "\x00" + subject
}

func (db *MemDatabase) IsAlreadyTested(_ context.Context, sessionID, checkerType, subject string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.entries[models.ContinueKey{SessionID: sessionID, CheckerType: checkerType, Subject: subject}]
	return ok, nil
}

func (db *MemDatabase) Record(_ context.Context, entry models.ContinueEntry) error {
	if entry.TestedAt.IsZero() {
		entry.TestedAt = db.clock()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.entries[entry.Key()] = entry
	return nil
}

func (db *MemDatabase) Cleanup(_ context.Context, sessionID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key := range db.entries {
		if key.SessionID == sessionID {
			delete(db.entries, key)
		}
	}
	return nil
}

func (db *MemDatabase) CountTested(_ context.Context, sessionID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	count := 0
	for key := range db.entries {
		if key.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (db *MemDatabase) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var deleted int64
	for key, entry := range db.entries {
		if entry.TestedAt.Before(cutoff) {
			delete(db.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (db *MemDatabase) GetCache(_ context.Context, kind models.CacheKind, subject string) (*models.CacheRecord, error) {
	item, ok := db.cache.Get(memCacheKey(kind, subject))
	if !ok {
		return nil, nil
	}
	record := item.(models.CacheRecord)
	if record.Expired(db.clock()) {
		return nil, nil
	}
	return &record, nil
}

func (db *MemDatabase) PutCache(_ context.Context, kind models.CacheKind, subject, payload string, ttlDays int) error {
	now := db.clock()
	record := models.CacheRecord{
		Kind:            kind,
		Subject:         subject,
		Payload:         payload,
		ExpirationEpoch: models.ExpirationFor(now, ttlDays),
	}
	ttl := time.Duration(ttlDays) * 24 * time.Hour
	if ttl <= 0 {
		db.cache.Delete(memCacheKey(kind, subject))
		return nil
	}
	db.cache.Set(memCacheKey(kind, subject), record, ttl)
	return nil
}

func (db *MemDatabase) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var purged int64
	for key, item := range db.cache.Items() {
		if record, ok := item.Object.(models.CacheRecord); ok && record.Expired(now) {
			db.cache.Delete(key)
			purged++
		}
	}
	return purged, nil
}

func (db *MemDatabase) GetName() string {
	return "Memory Database"
}

func (db *MemDatabase) Close() error {
	db.cache.Flush()
	return nil
}
