package db

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/EFForg/availability-backend/models"
)

const (
	continueFile = "continue.csv"
	cacheFile    = "cache.csv"
)

// FileDatabase keeps both stores as append-only CSV logs in a directory.
// Appending a row is the upsert; the last row for a key wins when the log
// is loaded. Deletions rewrite the log into a temporary file that is synced
// and renamed over the original.
type FileDatabase struct {
	dir   string
	clock func() time.Time

	mu          sync.Mutex
	entries     map[models.ContinueKey]models.ContinueEntry
	cache       map[cacheKey]models.CacheRecord
	continueLog *csvLog
	cacheLog    *csvLog
}

type cacheKey struct {
	kind    models.CacheKind
	subject string
}

// InitFileDatabase loads (or creates) the logs in dir. Expired and
// superseded cache rows are compacted away on open.
func InitFileDatabase(dir string) (*FileDatabase, error) {
	return openFileDatabase(dir, time.Now)
}

func openFileDatabase(dir string, clock func() time.Time) (*FileDatabase, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db := &FileDatabase{
		dir:     dir,
		clock:   clock,
		entries: make(map[models.ContinueKey]models.ContinueEntry),
		cache:   make(map[cacheKey]models.CacheRecord),
	}
	if err := readLog(filepath.Join(dir, continueFile), 5, db.loadEntry); err != nil {
		return nil, err
	}
	cacheRows := 0
	countRow := func(row []string) {
		cacheRows++
		db.loadCache(row)
	}
	if err := readLog(filepath.Join(dir, cacheFile), 4, countRow); err != nil {
		return nil, err
	}
	var err error
	if db.continueLog, err = openLog(filepath.Join(dir, continueFile)); err != nil {
		return nil, err
	}
	if db.cacheLog, err = openLog(filepath.Join(dir, cacheFile)); err != nil {
		db.continueLog.close()
		return nil, err
	}
	if cacheRows > db.liveCacheRecords(clock()) {
		if _, err := db.PurgeExpired(context.Background(), clock()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *FileDatabase) liveCacheRecords(now time.Time) int {
	live := 0
	for _, record := range db.cache {
		if !record.Expired(now) {
			live++
		}
	}
	return live
}

func (db *FileDatabase) loadEntry(row []string) {
	testedAt, err := strconv.ParseInt(row[4], 10, 64)
	if err != nil {
		return
	}
	entry := models.ContinueEntry{
		SessionID:   row[0],
		CheckerType: row[1],
		Subject:     row[2],
		Status:      models.Status(row[3]),
		TestedAt:    time.Unix(testedAt, 0),
	}
	db.entries[entry.Key()] = entry
}

func (db *FileDatabase) loadCache(row []string) {
	expiration, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return
	}
	record := models.CacheRecord{
		Kind:            models.CacheKind(row[0]),
		Subject:         row[1],
		Payload:         row[2],
		ExpirationEpoch: expiration,
	}
	db.cache[cacheKey{record.Kind, record.Subject}] = record
}

func entryRow(e models.ContinueEntry) []string {
	return []string{e.SessionID, e.CheckerType, e.Subject, string(e.Status), strconv.FormatInt(e.TestedAt.Unix(), 10)}
}

func cacheRow(r models.CacheRecord) []string {
	return []string{string(r.Kind), r.Subject, r.Payload, strconv.FormatInt(r.ExpirationEpoch, 10)}
}

// CONTINUATION FUNCTIONS

// IsAlreadyTested reports whether subject has an entry in the session.
func (db *FileDatabase) IsAlreadyTested(_ context.Context, sessionID, checkerType, subject string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.entries[models.ContinueKey{SessionID: sessionID, CheckerType: checkerType, Subject: subject}]
	return ok, nil
}

// Record appends entry to the log.
func (db *FileDatabase) Record(_ context.Context, entry models.ContinueEntry) error {
	if entry.TestedAt.IsZero() {
		entry.TestedAt = db.clock()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.continueLog.append(entryRow(entry)); err != nil {
		return integrity("record", entry.Subject, err)
	}
	db.entries[entry.Key()] = entry
	return nil
}

// Cleanup drops the session's entries and compacts the log.
func (db *FileDatabase) Cleanup(_ context.Context, sessionID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return integrity("cleanup", sessionID, db.rewriteEntries(func(e models.ContinueEntry) bool {
		return e.SessionID != sessionID
	}))
}

// CountTested counts the session's entries.
func (db *FileDatabase) CountTested(_ context.Context, sessionID string) (int, error) {
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

// DeleteOlderThan drops entries tested before cutoff.
func (db *FileDatabase) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	before := len(db.entries)
	err := db.rewriteEntries(func(e models.ContinueEntry) bool {
		return !e.TestedAt.Before(cutoff)
	})
	if err != nil {
		return 0, integrity("expire", continueFile, err)
	}
	return int64(before - len(db.entries)), nil
}

// rewriteEntries keeps the entries matching keep. The in-memory view only
// changes once the new log is in place.
func (db *FileDatabase) rewriteEntries(keep func(models.ContinueEntry) bool) error {
	kept := make(map[models.ContinueKey]models.ContinueEntry, len(db.entries))
	rows := make([][]string, 0, len(db.entries))
	for key, entry := range db.entries {
		if keep(entry) {
			kept[key] = entry
			rows = append(rows, entryRow(entry))
		}
	}
	if err := db.continueLog.replace(rows); err != nil {
		return err
	}
	db.entries = kept
	return nil
}

// CACHE FUNCTIONS

// GetCache returns the record for (kind, subject) while it has not expired.
func (db *FileDatabase) GetCache(_ context.Context, kind models.CacheKind, subject string) (*models.CacheRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	record, ok := db.cache[cacheKey{kind, subject}]
	if !ok || record.Expired(db.clock()) {
		return nil, nil
	}
	return &record, nil
}

// PutCache appends a payload expiring ttlDays from now.
func (db *FileDatabase) PutCache(_ context.Context, kind models.CacheKind, subject, payload string, ttlDays int) error {
	record := models.CacheRecord{
		Kind:            kind,
		Subject:         subject,
		Payload:         payload,
		ExpirationEpoch: models.ExpirationFor(db.clock(), ttlDays),
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.cacheLog.append(cacheRow(record)); err != nil {
		return integrity("cache put", subject, err)
	}
	db.cache[cacheKey{kind, subject}] = record
	return nil
}

// PurgeExpired drops expired records and compacts the cache log.
func (db *FileDatabase) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	kept := make(map[cacheKey]models.CacheRecord, len(db.cache))
	rows := make([][]string, 0, len(db.cache))
	for key, record := range db.cache {
		if !record.Expired(now) {
			kept[key] = record
			rows = append(rows, cacheRow(record))
		}
	}
	if err := db.cacheLog.replace(rows); err != nil {
		return 0, integrity("purge", cacheFile, err)
	}
	purged := int64(len(db.cache) - len(kept))
	db.cache = kept
	return purged, nil
}

// GetName retrieves a readable name for this data store (for use in error messages)
func (db *FileDatabase) GetName() string {
	return "CSV Database (" + db.dir + ")"
}

// Close closes both logs.
func (db *FileDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return errors.Join(db.continueLog.close(), db.cacheLog.close())
}

// csvLog is an append-only CSV file.
type csvLog struct {
	path string
	file *os.File
	w    *csv.Writer
}

func openLog(path string) (*csvLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &csvLog{path: path, file: f, w: csv.NewWriter(f)}, nil
}

func (l *csvLog) append(row []string) error {
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

// replace atomically swaps the log content for rows.
func (l *csvLog) replace(rows [][]string) error {
	sort.Slice(rows, func(i, j int) bool {
		for k := range rows[i] {
			if rows[i][k] != rows[j][k] {
				return rows[i][k] < rows[j][k]
			}
		}
		return false
	})
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return err
	}
	reopened, err := openLog(l.path)
	if err != nil {
		return err
	}
	*l = *reopened
	return nil
}

func (l *csvLog) close() error {
	l.w.Flush()
	return l.file.Close()
}

// readLog feeds every well-formed row of the file at path to load. A
// truncated trailing row (interrupted write) is skipped.
func readLog(path string, fields int, load func([]string)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if len(row) == fields {
			load(row)
		}
	}
}
