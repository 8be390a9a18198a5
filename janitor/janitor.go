// Package janitor keeps the stores from growing without bound: it purges
// expired lookup-cache records and continuation entries of sessions that
// were abandoned long ago.
package janitor

import (
	"context"
	"fmt"
	"time"

	raven "github.com/getsentry/raven-go"

	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
)

// Store is the part of a backend the janitor cleans.
type Store interface {
	GetName() string
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Store = db.Database(nil)

// Report summarizes one sweep.
type Report struct {
	CacheRecords     int64
	ContinueEntries  int64
	ContinueDisabled bool
}

// Called with failures by default.
func reportToSentry(name string, err error) {
	raven.CaptureError(err, map[string]string{"janitorName": name})
}

type failureCallback func(name string, err error)
type sweepCallback func(name string, report Report)

// Janitor sweeps a store at a regular interval.
type Janitor struct {
	// Name: appears in log entries and error reports.
	Name string
	// Store: required. The backend to sweep.
	Store Store
	// Interval: optional; time between two sweeps.
	// If not set, the default interval is 1 day.
	Interval time.Duration
	// RetentionDays: continuation entries older than this many days are
	// removed. Zero or less keeps them forever.
	RetentionDays int
	Log           logger.Logger
	// OnFailure: optional. Called when a sweep step fails. Defaults to a
	// sentry report.
	OnFailure failureCallback
	// OnSweep: optional. Called after every sweep.
	OnSweep sweepCallback

	now func() time.Time
}

func (j *Janitor) interval() time.Duration {
	if j.Interval != 0 {
		return j.Interval
	}
	return time.Hour * 24
}

func (j *Janitor) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

func (j *Janitor) logger() logger.Logger {
	if j.Log == nil {
		return logger.NewNop()
	}
	return j.Log
}

func (j *Janitor) failed(err error) {
	j.logger().Warn("sweep failed", logger.String("janitor", j.Name), logger.Error(err))
	if j.OnFailure != nil {
		j.OnFailure(j.Name, err)
		return
	}
	reportToSentry(j.Name, err)
}

// Sweep runs a single cleanup pass. Both steps run even if the first one
// fails; the first error is returned.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	now := j.clock()
	report := Report{ContinueDisabled: j.RetentionDays <= 0}
	var firstErr error

	purged, err := j.Store.PurgeExpired(ctx, now)
	if err != nil {
		firstErr = fmt.Errorf("purge expired cache of %s: %w", j.Store.GetName(), err)
		j.failed(firstErr)
	}
	report.CacheRecords = purged

	if !report.ContinueDisabled {
		cutoff := now.AddDate(0, 0, -j.RetentionDays)
		deleted, err := j.Store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			err = fmt.Errorf("delete continuation entries of %s: %w", j.Store.GetName(), err)
			j.failed(err)
			if firstErr == nil {
				firstErr = err
			}
		}
		report.ContinueEntries = deleted
	}

	j.logger().Info("sweep finished",
		logger.String("janitor", j.Name),
		logger.Int64("cache_records", report.CacheRecords),
		logger.Int64("continue_entries", report.ContinueEntries))
	if j.OnSweep != nil {
		j.OnSweep(j.Name, report)
	}
	return report, firstErr
}

func (j *Janitor) runLoop(ctx context.Context, exited chan struct{}) {
	defer close(exited)
	ticker := time.NewTicker(j.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Run starts the sweep loop and blocks until ctx is done. The first sweep
// happens after the given Interval.
func (j *Janitor) Run(ctx context.Context) {
	exited := make(chan struct{})
	go j.runLoop(ctx, exited)
	<-exited
}
