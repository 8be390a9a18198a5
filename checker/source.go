package checker

import (
	"context"
	"fmt"

	"github.com/EFForg/availability-backend/models"
)

// Verdict is the answer of one lookup stage. A Provisional verdict keeps the
// pipeline going unless syntax results are configured to be final.
type Verdict struct {
	Status      models.Status
	Provisional bool
}

// LookupSource is one stage of the pipeline.
type LookupSource interface {
	// Name is the provenance tag recorded with the verdict.
	Name() models.Source
	// Enabled reports whether the stage applies to the record at all.
	Enabled(r *Record) bool
	// Attempt queries the collaborator behind the stage. A nil verdict with
	// a nil error means the stage has no opinion.
	Attempt(ctx context.Context, r *Record) (*Verdict, error)
}

// Throttled is implemented by stages that queue for a shared upstream quota.
// The pipeline calls Wait before the stage timeout starts, so time spent
// queued does not count against the lookup.
type Throttled interface {
	Wait(ctx context.Context, r *Record) error
}

// LookupError is a stage that errored or timed out. The pipeline logs it and
// treats the stage as having no verdict.
type LookupError struct {
	Stage   models.Source
	Subject string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup for %s: %v", e.Stage, e.Subject, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

func up() *Verdict   { return &Verdict{Status: models.StatusUp} }
func down() *Verdict { return &Verdict{Status: models.StatusDown} }
