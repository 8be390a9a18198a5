package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/models"
)

type mockStore struct {
	purgeErr  error
	deleteErr error
	purgedAt  chan time.Time
	cutoffs   chan time.Time
}

func newMockStore() *mockStore {
	return &mockStore{purgedAt: make(chan time.Time, 16), cutoffs: make(chan time.Time, 16)}
}

func (m *mockStore) GetName() string { return "mock" }

func (m *mockStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	select {
	case m.purgedAt <- now:
	default:
	}
	if m.purgeErr != nil {
		return 0, m.purgeErr
	}
	return 2, nil
}

func (m *mockStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	select {
	case m.cutoffs <- cutoff:
	default:
	}
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return 3, nil
}

var fixedNow = time.Date(2024, 3, 30, 12, 0, 0, 0, time.UTC)

func TestSweepUsesRetention(t *testing.T) {
	store := newMockStore()
	j := Janitor{Store: store, RetentionDays: 28, now: func() time.Time { return fixedNow }}
	report, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.CacheRecords != 2 || report.ContinueEntries != 3 {
		t.Errorf("Unexpected report %+v", report)
	}
	if got := <-store.cutoffs; !got.Equal(fixedNow.AddDate(0, 0, -28)) {
		t.Errorf("Expected cutoff 28 days back, got %v", got)
	}
	if got := <-store.purgedAt; !got.Equal(fixedNow) {
		t.Errorf("Expected purge at %v, got %v", fixedNow, got)
	}
}

func TestSweepWithoutRetentionKeepsSessions(t *testing.T) {
	store := newMockStore()
	j := Janitor{Store: store}
	report, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if !report.ContinueDisabled {
		t.Errorf("Expected continuation cleanup to be disabled")
	}
	if len(store.cutoffs) != 0 {
		t.Errorf("Expected no continuation deletion")
	}
}

func TestSweepReportsEveryFailure(t *testing.T) {
	store := newMockStore()
	store.purgeErr = errors.New("cache offline")
	store.deleteErr = errors.New("table locked")
	var failures []error
	j := Janitor{
		Name:          "test",
		Store:         store,
		RetentionDays: 1,
		OnFailure:     func(_ string, err error) { failures = append(failures, err) },
	}
	_, err := j.Sweep(context.Background())
	if !errors.Is(err, store.purgeErr) {
		t.Errorf("Expected the first failure to be returned, got %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("Expected both steps to be reported, got %v", failures)
	}
	if !errors.Is(failures[1], store.deleteErr) {
		t.Errorf("Expected the delete failure second, got %v", failures[1])
	}
}

func TestRegularSweeps(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	store := newMockStore()
	swept := make(chan Report, 4)
	j := Janitor{
		Store:         store,
		Interval:      20 * time.Millisecond,
		RetentionDays: 1,
		OnSweep: func(_ string, report Report) {
			select {
			case swept <- report:
			default:
			}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go j.runLoop(ctx, exited)

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Errorf("Janitor never swept")
	}
	cancel()
	<-exited
}

func TestSweepAgainstMemDatabase(t *testing.T) {
	ctx := context.Background()
	store := db.InitMemDatabase()
	defer store.Close()
	old := time.Now().AddDate(0, 0, -40)
	store.Record(ctx, models.ContinueEntry{SessionID: "old", CheckerType: "availability",
		Subject: "a.com", Status: models.StatusUp, TestedAt: old})
	store.Record(ctx, models.ContinueEntry{SessionID: "new", CheckerType: "availability",
		Subject: "b.com", Status: models.StatusUp, TestedAt: time.Now()})

	j := Janitor{Store: store, RetentionDays: 28}
	report, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.ContinueEntries != 1 {
		t.Errorf("Expected one stale entry removed, got %d", report.ContinueEntries)
	}
	if n, _ := store.CountTested(ctx, "new"); n != 1 {
		t.Errorf("Expected the recent session to survive")
	}
}
