package checker

import (
	"context"
	"time"

	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
)

// Resolve runs raw through the stages and returns its final record. Stage
// failures never surface: a failing stage is logged and has no verdict. It
// is safe to call concurrently on different subjects.
func (c *Checker) Resolve(ctx context.Context, raw string) *Record {
	r := newRecord(raw, c.clock())
	log := c.logger().With(logger.String("subject", r.IDNASubject))

	for _, source := range c.Sources {
		if !c.continueTesting(r) {
			break
		}
		if !source.Enabled(r) {
			continue
		}
		c.attempt(ctx, source, r, log)
	}

	if r.Status == "" || r.provisional {
		r.set(Verdict{Status: models.StatusDown}, models.SourceStdLookup)
		log.Debug("no stage decided", logger.String("status", string(r.Status)))
	}
	if c.Rules != nil {
		c.Rules.Apply(r)
	}
	c.Metrics.ObserveResolved(string(r.Status), string(r.StatusSource))
	return r
}

// continueTesting reports whether later stages still need to run: while no
// status is set, or while the status is a provisional syntax pass that is
// not configured as final.
func (c *Checker) continueTesting(r *Record) bool {
	if r.Status == "" {
		return true
	}
	return r.provisional && !c.SyntaxFinal
}

func (c *Checker) attempt(ctx context.Context, source LookupSource, r *Record, log logger.Logger) {
	stage := source.Name()
	if throttled, ok := source.(Throttled); ok {
		if err := throttled.Wait(ctx, r); err != nil {
			lookupErr := &LookupError{Stage: stage, Subject: r.IDNASubject, Err: err}
			log.Warn("lookup not started", logger.String("stage", string(stage)), logger.Error(lookupErr))
			return
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	verdict, err := source.Attempt(stageCtx, r)
	elapsed := time.Since(start)
	c.Metrics.ObserveStage(string(stage), elapsed, err != nil)

	if err != nil {
		lookupErr := &LookupError{Stage: stage, Subject: r.IDNASubject, Err: err}
		log.Warn("lookup failed", logger.String("stage", string(stage)), logger.Error(lookupErr))
		return
	}
	if verdict == nil {
		log.Debug("no verdict", logger.String("stage", string(stage)), logger.Duration("elapsed", elapsed))
		return
	}
	if r.decided() {
		return
	}
	r.set(*verdict, stage)
	log.Debug("status decided",
		logger.String("stage", string(stage)),
		logger.String("status", string(r.Status)),
		logger.Bool("provisional", r.provisional))
}

func (c *Checker) logger() logger.Logger {
	if c.Log == nil {
		return logger.NewNop()
	}
	return c.Log
}
