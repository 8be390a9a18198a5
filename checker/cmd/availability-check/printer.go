package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/EFForg/availability-backend/checker"
	"github.com/EFForg/availability-backend/models"
)

var statusColors = map[models.Status]*color.Color{
	models.StatusUp:      color.New(color.FgGreen, color.Bold),
	models.StatusDown:    color.New(color.FgRed, color.Bold),
	models.StatusInvalid: color.New(color.FgYellow, color.Bold),
}

// printer writes one line per record.
// Implements checker.ResultHandler.
type printer struct {
	w io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) HandleRecord(r *checker.Record) {
	status := fmt.Sprintf("%-7s", r.Status)
	if c, ok := statusColors[r.Status]; ok {
		status = c.Sprint(status)
	}
	fmt.Fprintf(p.w, "%s %-11s %s\n", status, r.StatusSource, r.Subject)
}
