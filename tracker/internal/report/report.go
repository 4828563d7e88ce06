// Package report turns acquired visits into today's delivery summary and
// the artifacts written at the end of a run.
package report

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/normalize"
)

// DateLayout is the portal's date format (DD/MM/YYYY).
const DateLayout = "02/01/2006"

// NoDeliveries is the summary text when nothing is planned for the day.
const NoDeliveries = "No deliveries scheduled for today."

// Columns names the report columns a summary reads.
type Columns struct {
	Date     string
	Time     string
	Quantity string
	Salvage  string
}

// DefaultColumns returns the Site Visits grid column names.
func DefaultColumns() Columns {
	return Columns{
		Date:     "PTA Date",
		Time:     "PTA Time",
		Quantity: "Planned Quantity",
		Salvage:  "Has Planned Asset Return",
	}
}

// Summary is the day's delivery plan.
type Summary struct {
	// Day is the date filtered on, formatted with DateLayout.
	Day string
	// Filtered is false when the date column was missing and every record
	// was kept.
	Filtered bool
	Records  []normalize.Record
	Lines    []string
}

// Text returns the summary body: one line per delivery, or NoDeliveries.
func (s Summary) Text() string {
	if len(s.Lines) == 0 {
		return NoDeliveries
	}
	return strings.Join(s.Lines, "\n")
}

// Build keeps the records dated now and formats one line per record. A
// table without the date column is summarised unfiltered.
func Build(t *normalize.Table, now time.Time, cols Columns, logger *slog.Logger) Summary {
	if logger == nil {
		logger = slog.Default()
	}
	s := Summary{Day: now.Format(DateLayout)}

	kept := t
	if t.HasColumn(cols.Date) {
		s.Filtered = true
		kept = t.Filter(func(r normalize.Record) bool {
			return r.Get(cols.Date, "") == s.Day
		})
		logger.Info("report: filtered for today", "day", s.Day, "kept", kept.Len(), "total", t.Len())
	} else if t.Len() > 0 {
		logger.Error("report: date column not found, using all rows", "column", cols.Date, "rows", t.Len())
	}

	if kept != nil {
		s.Records = kept.Records
	}
	for _, r := range s.Records {
		s.Lines = append(s.Lines, Line(r, cols))
	}
	if len(s.Lines) == 0 {
		logger.Info("report: no deliveries for today", "day", s.Day)
	}
	return s
}

// Line formats one delivery as "{time}: {n} Pallets, {salvage|no salvage}".
func Line(r normalize.Record, cols Columns) string {
	t := strings.TrimSpace(r.Get(cols.Time, ""))
	if t == "" {
		t = "No Time"
	}
	salvage := "no salvage"
	if Salvage(r.Get(cols.Salvage, "No")) {
		salvage = "salvage"
	}
	return t + ": " + strconv.Itoa(Quantity(r.Get(cols.Quantity, "0"))) + " Pallets, " + salvage
}

// Quantity parses a planned quantity, truncating fractions. Anything that
// is not a finite number is 0.
func Quantity(v string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int(f)
}

// Salvage reports whether an asset-return flag means yes.
func Salvage(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "yes")
}
