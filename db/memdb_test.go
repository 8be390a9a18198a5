package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/EFForg/availability-backend/models"
)

func newTestMemDatabase() (*MemDatabase, *fakeClock) {
	clock := newFakeClock()
	db := InitMemDatabase()
	db.clock = clock.Now
	return db, clock
}

func TestMemContinueStore(t *testing.T) {
	db, clock := newTestMemDatabase()
	testContinueStore(t, db, clock)
}

func TestMemCacheStore(t *testing.T) {
	db, clock := newTestMemDatabase()
	testCacheStore(t, db, clock)
}

func TestMemPurgeExpired(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestMemDatabase()
	require.NoError(t, db.PutCache(ctx, models.CacheWhois, "short.example", "a", 1))
	require.NoError(t, db.PutCache(ctx, models.CacheWhois, "long.example", "b", 5))

	purged, err := db.PurgeExpired(ctx, clock.Now().AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 1, db.cache.ItemCount())
}

func TestMemDatabaseStartsNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	db := InitMemDatabase()
	require.NoError(t, db.PutCache(context.Background(), models.CacheWhois, "example.com", "a", 1))
	require.NoError(t, db.Close())
}
