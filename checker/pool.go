package checker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	raven "github.com/getsentry/raven-go"
	"golang.org/x/sync/errgroup"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/stats"
	"github.com/EFForg/availability-backend/subject"
)

// Pool runs the pipeline over a subject list with independent workers.
//
// In ends mode the list is cut into one contiguous partition per worker and
// results reach the handler in input order once every worker is done. In
// live mode workers pull from a shared queue and a single coordinator
// goroutine hands each result to the store and the handler as it arrives.
//
// Continuation entries are written as soon as a subject finishes in both
// modes, so an interrupted run loses at most the subjects in flight. On
// cancellation no new subject is started, but subjects already in the
// pipeline run to completion and are recorded.
type Pool struct {
	// NewChecker builds the pipeline of one worker.
	NewChecker func() (*Checker, error)
	// Store remembers tested subjects. If nil, nothing is skipped or recorded.
	Store   db.ContinueStore
	Session models.Session

	Concurrency int
	MergeMode   string
	// Cooldown is slept by a worker between two subjects.
	Cooldown time.Duration

	Handler ResultHandler
	// Progress is called by workers once per subject, skipped or tested.
	// It must be safe for concurrent use.
	Progress func()
	Log      logger.Logger
	Metrics  *stats.Metrics
	// ReportError forwards store failures. Defaults to Sentry.
	ReportError func(err error, tags map[string]string)

	skipped atomic.Int64
}

// Skipped returns how many subjects the last runs skipped because the
// session already tested them.
func (p *Pool) Skipped() int {
	return int(p.skipped.Load())
}

// Run tests subjects and returns the records it produced. Skipped subjects
// have no record. The error is the context error when the run was
// interrupted, or a worker construction failure.
func (p *Pool) Run(ctx context.Context, subjects []string) ([]*Record, error) {
	var (
		records []*Record
		err     error
	)
	if p.MergeMode == config.MergeLive {
		records, err = p.runLive(ctx, subjects)
	} else {
		records, err = p.runEnds(ctx, subjects)
	}
	if err == nil {
		err = ctx.Err()
	}
	return records, err
}

func (p *Pool) workers(n int) int {
	workers := p.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	return workers
}

func (p *Pool) runEnds(ctx context.Context, subjects []string) ([]*Record, error) {
	parts := partition(subjects, p.workers(len(subjects)))
	buffers := make([][]*Record, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			c, err := p.NewChecker()
			if err != nil {
				return err
			}
			for _, raw := range part {
				if gctx.Err() != nil {
					return nil
				}
				r := p.test(gctx, c, raw)
				if r == nil {
					continue
				}
				p.record(ctx, r)
				buffers[i] = append(buffers[i], r)
				p.cooldown(gctx)
			}
			return nil
		})
	}
	err := g.Wait()

	records := make([]*Record, 0, len(subjects))
	for _, buffer := range buffers {
		records = append(records, buffer...)
	}
	for _, r := range records {
		p.handle(r)
	}
	return records, err
}

func (p *Pool) runLive(ctx context.Context, subjects []string) ([]*Record, error) {
	work := make(chan string)
	results := make(chan *Record)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, raw := range subjects {
			select {
			case work <- raw:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < p.workers(len(subjects)); i++ {
		g.Go(func() error {
			c, err := p.NewChecker()
			if err != nil {
				return err
			}
			for raw := range work {
				if gctx.Err() != nil {
					continue
				}
				if r := p.test(gctx, c, raw); r != nil {
					results <- r
					p.cooldown(gctx)
				}
			}
			return nil
		})
	}

	errc := make(chan error, 1)
	go func() {
		// Close the results channel when all the worker goroutines have finished.
		errc <- g.Wait()
		close(results)
	}()

	records := make([]*Record, 0, len(subjects))
	for r := range results {
		p.record(ctx, r)
		p.handle(r)
		records = append(records, r)
	}
	return records, <-errc
}

// test resolves raw unless the session already tested it. The pipeline runs
// on a context that ignores cancellation so a started subject always ends
// with a real verdict; stage timeouts still bound it.
func (p *Pool) test(ctx context.Context, c *Checker, raw string) *Record {
	if p.Progress != nil {
		defer p.Progress()
	}
	if p.alreadyTested(ctx, subject.Parse(raw).IDNA) {
		p.skipped.Add(1)
		p.Metrics.ObserveSkipped()
		return nil
	}
	return c.Resolve(context.WithoutCancel(ctx), raw)
}

func (p *Pool) alreadyTested(ctx context.Context, key string) bool {
	if p.Store == nil {
		return false
	}
	tested, err := p.Store.IsAlreadyTested(ctx, p.Session.ID, p.Session.CheckerType, key)
	if err != nil {
		p.storeFailure("lookup", key, err)
		return false
	}
	return tested
}

func (p *Pool) record(ctx context.Context, r *Record) {
	if p.Store == nil {
		return
	}
	err := p.Store.Record(context.WithoutCancel(ctx), models.ContinueEntry{
		SessionID:   p.Session.ID,
		CheckerType: p.Session.CheckerType,
		Subject:     r.IDNASubject,
		Status:      r.Status,
		TestedAt:    r.TestedAt,
	})
	if err != nil {
		p.storeFailure("record", r.IDNASubject, err)
	}
}

// storeFailure logs a failed store operation and moves on: losing one entry
// only means the subject is tested again on resume.
func (p *Pool) storeFailure(op, key string, err error) {
	var integrityErr *db.IntegrityError
	if !errors.As(err, &integrityErr) {
		err = &db.IntegrityError{Op: op, Key: key, Err: err}
	}
	p.logger().Warn("continuation store failure",
		logger.String("subject", key),
		logger.String("session_id", p.Session.ID),
		logger.Error(err))
	p.Metrics.ObserveStoreFailure(op)
	report := p.ReportError
	if report == nil {
		report = func(err error, tags map[string]string) { raven.CaptureError(err, tags) }
	}
	report(err, map[string]string{"op": op, "session_id": p.Session.ID})
}

func (p *Pool) handle(r *Record) {
	if p.Handler != nil {
		p.Handler.HandleRecord(r)
	}
}

func (p *Pool) cooldown(ctx context.Context) {
	if p.Cooldown <= 0 {
		return
	}
	timer := time.NewTimer(p.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (p *Pool) logger() logger.Logger {
	if p.Log == nil {
		return logger.NewNop()
	}
	return p.Log
}

// partition cuts subjects into n contiguous chunks whose sizes differ by at
// most one.
func partition(subjects []string, n int) [][]string {
	if n < 1 || len(subjects) == 0 {
		return nil
	}
	parts := make([][]string, 0, n)
	size, extra := len(subjects)/n, len(subjects)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		parts = append(parts, subjects[start:end])
		start = end
	}
	return parts
}
