package checker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
)

// ResultHandler processes finished records.
// It could print them, aggregate them, write them to a file, etc.
type ResultHandler interface {
	HandleRecord(*Record)
}

// ResultHandlerFunc adapts a function to ResultHandler.
type ResultHandlerFunc func(*Record)

// HandleRecord calls f(r).
func (f ResultHandlerFunc) HandleRecord(r *Record) { f(r) }

// MultiHandler fans records out to several handlers in order.
type MultiHandler []ResultHandler

// HandleRecord passes r to every handler.
func (m MultiHandler) HandleRecord(r *Record) {
	for _, h := range m {
		h.HandleRecord(r)
	}
}

// Totals is the status distribution of a run.
// Implements ResultHandler.
type Totals struct {
	Time      time.Time
	Source    string
	Attempted int
	ByStatus  map[models.Status]int
	BySource  map[models.Source]int
	// Log receives a progress line every 1000 records. Optional.
	Log logger.Logger
}

// NewTotals starts an empty distribution for the named input source.
func NewTotals(source string) *Totals {
	return &Totals{
		Time:     time.Now(),
		Source:   source,
		ByStatus: make(map[models.Status]int),
		BySource: make(map[models.Source]int),
	}
}

// HandleRecord adds one finished record to the distribution.
func (t *Totals) HandleRecord(r *Record) {
	t.Attempted++
	t.ByStatus[r.Status]++
	t.BySource[r.StatusSource]++
	// Show progress.
	if t.Log != nil && t.Attempted%1000 == 0 {
		t.Log.Info("progress",
			logger.Int("attempted", t.Attempted),
			logger.Int("up", t.ByStatus[models.StatusUp]),
			logger.Int("down", t.ByStatus[models.StatusDown]),
			logger.Int("invalid", t.ByStatus[models.StatusInvalid]))
	}
}

// Percent returns the share of status among attempted records.
func (t *Totals) Percent(status models.Status) float64 {
	if t.Attempted == 0 {
		return 0
	}
	return float64(t.ByStatus[status]) * 100 / float64(t.Attempted)
}

func (t Totals) String() string {
	s := strings.Join([]string{"time", "source", "attempted", "up", "down", "invalid"}, "\t") + "\n"
	s += fmt.Sprintf("%v\t%s\t%d\t%d\t%d\t%d\n", t.Time.Format(time.RFC3339), t.Source, t.Attempted,
		t.ByStatus[models.StatusUp], t.ByStatus[models.StatusDown], t.ByStatus[models.StatusInvalid])
	sources := make([]string, 0, len(t.BySource))
	for source := range t.BySource {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)
	for _, source := range sources {
		s += fmt.Sprintf("%s\t%d\n", source, t.BySource[models.Source(source)])
	}
	return s
}
