package checker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/models"
)

// hookSource marks every subject UP after an optional per-subject delay.
type hookSource struct {
	log   *callLog
	delay map[string]time.Duration
	hook  func(*Record)
}

func (h *hookSource) Name() models.Source { return models.SourceDNS }

func (h *hookSource) Enabled(*Record) bool { return true }

func (h *hookSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	h.log.add(r.IDNASubject)
	if h.hook != nil {
		h.hook(r)
	}
	if d := h.delay[r.IDNASubject]; d > 0 {
		time.Sleep(d)
	}
	return up(), nil
}

func hookChecker(h *hookSource) func() (*Checker, error) {
	return func() (*Checker, error) {
		return &Checker{Sources: []LookupSource{h}}, nil
	}
}

func subjectsN(n int) []string {
	subjects := make([]string, n)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("s%02d.example.com", i)
	}
	return subjects
}

func subjectsOf(records []*Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Subject
	}
	return out
}

var testSession = models.Session{ID: "s1", Source: "list.txt", CheckerType: config.CheckerAvailability}

func TestPoolEndsKeepsInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	subjects := subjectsN(10)
	h := &hookSource{log: &callLog{}, delay: map[string]time.Duration{
		subjects[0]: 30 * time.Millisecond,
		subjects[4]: 20 * time.Millisecond,
	}}
	var handled []string
	pool := &Pool{
		NewChecker:  hookChecker(h),
		Concurrency: 3,
		MergeMode:   config.MergeEnds,
		Handler:     ResultHandlerFunc(func(r *Record) { handled = append(handled, r.Subject) }),
	}
	records, err := pool.Run(context.Background(), subjects)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := subjectsOf(records); !reflect.DeepEqual(got, subjects) {
		t.Errorf("Expected input order %v, got %v", subjects, got)
	}
	if !reflect.DeepEqual(handled, subjects) {
		t.Errorf("Expected handler in input order, got %v", handled)
	}
}

func TestPoolLiveSerializesHandler(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	subjects := subjectsN(20)
	store := db.InitMemDatabase()
	defer store.Close()
	var inflight, maxInflight int32
	pool := &Pool{
		NewChecker:  hookChecker(&hookSource{log: &callLog{}}),
		Store:       store,
		Session:     testSession,
		Concurrency: 4,
		MergeMode:   config.MergeLive,
		Handler: ResultHandlerFunc(func(*Record) {
			n := atomic.AddInt32(&inflight, 1)
			if n > atomic.LoadInt32(&maxInflight) {
				atomic.StoreInt32(&maxInflight, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inflight, -1)
		}),
	}
	records, err := pool.Run(context.Background(), subjects)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := subjectsOf(records)
	sort.Strings(got)
	if !reflect.DeepEqual(got, subjects) {
		t.Errorf("Expected every subject once, got %v", got)
	}
	if maxInflight != 1 {
		t.Errorf("Expected handler calls to be serialized, saw %d at once", maxInflight)
	}
	if count, _ := store.CountTested(context.Background(), "s1"); count != 20 {
		t.Errorf("Expected 20 continuation entries, got %d", count)
	}
}

func TestPoolSkipsAlreadyTested(t *testing.T) {
	for _, mode := range []string{config.MergeEnds, config.MergeLive} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			store := db.InitMemDatabase()
			defer store.Close()
			store.Record(ctx, models.ContinueEntry{SessionID: "s1", CheckerType: config.CheckerAvailability,
				Subject: "b.com", Status: models.StatusUp})
			h := &hookSource{log: &callLog{}}
			var progress atomic.Int32
			pool := &Pool{
				NewChecker:  hookChecker(h),
				Store:       store,
				Session:     testSession,
				Concurrency: 2,
				MergeMode:   mode,
				Progress:    func() { progress.Add(1) },
			}
			records, err := pool.Run(ctx, []string{"a.com", "B.com", "c.com"})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			resolved := h.log.list()
			sort.Strings(resolved)
			if !reflect.DeepEqual(resolved, []string{"a.com", "c.com"}) {
				t.Errorf("Expected b.com never to be resolved, resolved %v", resolved)
			}
			if len(records) != 2 || pool.Skipped() != 1 {
				t.Errorf("Expected 2 records and 1 skip, got %d and %d", len(records), pool.Skipped())
			}
			if progress.Load() != 3 {
				t.Errorf("Expected progress for every subject, got %d", progress.Load())
			}
		})
	}
}

func TestPoolResumesInterruptedSession(t *testing.T) {
	for _, mode := range []string{config.MergeEnds, config.MergeLive} {
		t.Run(mode, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			store := db.InitMemDatabase()
			defer store.Close()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h := &hookSource{log: &callLog{}, hook: func(r *Record) {
				if r.IDNASubject == "a.com" {
					cancel()
				}
			}}
			pool := &Pool{
				NewChecker:  hookChecker(h),
				Store:       store,
				Session:     testSession,
				Concurrency: 1,
				MergeMode:   mode,
			}
			subjects := []string{"a.com", "b.com"}

			records, err := pool.Run(ctx, subjects)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Expected interrupted run, got %v", err)
			}
			if len(records) != 1 || records[0].Status != models.StatusUp {
				t.Fatalf("Expected a.com to finish with a real verdict, got %+v", records)
			}
			tested, _ := store.IsAlreadyTested(context.Background(), "s1", config.CheckerAvailability, "a.com")
			if !tested {
				t.Error("Expected a.com to be recorded before shutdown")
			}

			records, err = pool.Run(context.Background(), subjects)
			if err != nil {
				t.Fatalf("Resume failed: %v", err)
			}
			if got := subjectsOf(records); !reflect.DeepEqual(got, []string{"b.com"}) {
				t.Errorf("Expected resume to test only b.com, got %v", got)
			}
			if got := h.log.list(); !reflect.DeepEqual(got, []string{"a.com", "b.com"}) {
				t.Errorf("Expected each subject resolved once overall, got %v", got)
			}
		})
	}
}

// failingStore accepts lookups but rejects every write.
type failingStore struct {
	db.ContinueStore
}

func (failingStore) IsAlreadyTested(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (failingStore) Record(context.Context, models.ContinueEntry) error {
	return errors.New("database is locked")
}

func TestPoolContinuesOnStoreFailure(t *testing.T) {
	var reported []error
	pool := &Pool{
		NewChecker:  hookChecker(&hookSource{log: &callLog{}}),
		Store:       failingStore{},
		Session:     testSession,
		Concurrency: 1,
		MergeMode:   config.MergeLive,
		ReportError: func(err error, tags map[string]string) {
			reported = append(reported, err)
		},
	}
	records, err := pool.Run(context.Background(), []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected both subjects tested, got %d", len(records))
	}
	if len(reported) != 2 {
		t.Fatalf("Expected 2 reported failures, got %d", len(reported))
	}
	var integrityErr *db.IntegrityError
	if !errors.As(reported[0], &integrityErr) || integrityErr.Op != "record" {
		t.Errorf("Expected an IntegrityError for the record op, got %v", reported[0])
	}
}

func TestPoolCheckerConstructionFailure(t *testing.T) {
	for _, mode := range []string{config.MergeEnds, config.MergeLive} {
		t.Run(mode, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			boom := errors.New("no resolver")
			pool := &Pool{
				NewChecker:  func() (*Checker, error) { return nil, boom },
				Concurrency: 2,
				MergeMode:   mode,
			}
			if _, err := pool.Run(context.Background(), subjectsN(5)); !errors.Is(err, boom) {
				t.Errorf("Expected construction error, got %v", err)
			}
		})
	}
}

func TestPoolCooldownStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := &Pool{
		NewChecker: hookChecker(&hookSource{log: &callLog{}, hook: func(*Record) { cancel() }}),
		Cooldown:   time.Hour,
		MergeMode:  config.MergeEnds,
	}
	done := make(chan struct{})
	go func() {
		pool.Run(ctx, []string{"a.com", "b.com"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPartition(t *testing.T) {
	parts := partition(subjectsN(7), 3)
	sizes := []int{}
	var joined []string
	for _, part := range parts {
		sizes = append(sizes, len(part))
		joined = append(joined, part...)
	}
	if !reflect.DeepEqual(sizes, []int{3, 2, 2}) {
		t.Errorf("Expected sizes [3 2 2], got %v", sizes)
	}
	if !reflect.DeepEqual(joined, subjectsN(7)) {
		t.Errorf("Expected contiguous partitions")
	}
	if partition(nil, 3) != nil {
		t.Errorf("Expected no partitions for no subjects")
	}
}
