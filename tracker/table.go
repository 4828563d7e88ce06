package tracker

import (
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/normalize"
	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

// Table is an acquired visits table.
type Table = normalize.Table

// Record is one visit row.
type Record = normalize.Record

// Summary is the day's delivery plan.
type Summary = report.Summary

// ReadCSV loads a visits CSV written by a previous run.
func ReadCSV(path string) (*Table, error) {
	return report.ReadCSV(path)
}

// PrintTable renders t as a terminal table.
func PrintTable(w io.Writer, t *Table) {
	report.Print(w, t)
}

// Summarize builds the delivery summary of t for the day of now.
func Summarize(t *Table, now time.Time, logger *slog.Logger) Summary {
	return report.Build(t, now, report.DefaultColumns(), logger)
}
