package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExecutionTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{15 * time.Second, "00:00:00:15.0"},
		{24*time.Hour + 50*time.Hour, "03:02:00:0.0"},
		{time.Hour + 2*time.Minute + 3500*time.Millisecond, "00:01:02:3.5"},
		{-time.Second, "00:00:00:0.0"},
	}
	for _, test := range tests {
		if got := ExecutionTime(start, start.Add(test.elapsed)); got != test.want {
			t.Errorf("ExecutionTime(%v) = %q, want %q", test.elapsed, got, test.want)
		}
	}
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveResolved("UP", "DNS")
	m.ObserveResolved("UP", "DNS")
	m.ObserveStage("WHOIS", 10*time.Millisecond, true)
	m.ObserveSkipped()
	m.ObserveStoreFailure("record")

	if got := testutil.ToFloat64(m.resolved.WithLabelValues("UP", "DNS")); got != 2 {
		t.Errorf("resolved = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues("WHOIS")); got != 1 {
		t.Errorf("stage failures = %v, want 1", got)
	}
	expected := `
# HELP availability_subjects_skipped_total Subjects skipped because the session already tested them.
# TYPE availability_subjects_skipped_total counter
availability_subjects_skipped_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "availability_subjects_skipped_total"); err != nil {
		t.Error(err)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveResolved("UP", "DNS")
	m.ObserveStage("DNS", time.Second, false)
	m.ObserveSkipped()
	m.ObserveStoreFailure("record")
}
