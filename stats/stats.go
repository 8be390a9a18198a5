// Package stats reports how a run went: elapsed time in the classic
// DD:HH:MM:SS.S layout and Prometheus metrics for the pipeline.
package stats

import (
	"fmt"
	"time"
)

// ExecutionTime formats the time elapsed between start and end as
// days:hours:minutes:seconds. Days, hours and minutes are zero-padded to two
// digits; seconds are printed unpadded with one decimal. A reversed interval
// is reported as zero.
func ExecutionTime(start, end time.Time) string {
	return FormatDuration(end.Sub(start))
}

// FormatDuration is ExecutionTime for an already computed duration.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := float64(d) / float64(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d:%.1f", days, hours, minutes, seconds)
}
