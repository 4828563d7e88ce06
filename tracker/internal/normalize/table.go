// Package normalize turns either acquisition channel's raw output into a
// Table of Visit Records keyed by column name.
package normalize

import "errors"

// ErrMalformed is returned for payloads that do not have the expected shape.
var ErrMalformed = errors.New("normalize: malformed payload")

// Record is one visit row. Columns absent from the source row are absent
// from the record, which is different from present-but-empty.
type Record map[string]string

// Lookup returns the value of col and whether the record has it.
func (r Record) Lookup(col string) (string, bool) {
	v, ok := r[col]
	return v, ok
}

// Get returns the value of col, or def when the record has no such column.
func (r Record) Get(col, def string) string {
	if v, ok := r[col]; ok {
		return v
	}
	return def
}

// Table is an ordered set of columns and the records over them.
type Table struct {
	Columns []string
	Records []Record
	// Synthetic is set when the source header could not be trusted and the
	// columns were named col_1..col_n instead.
	Synthetic bool
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// Empty reports whether the table has no records or no columns. Rows
// without any field carry no data.
func (t *Table) Empty() bool { return t.Len() == 0 || len(t.Columns) == 0 }

// HasColumn reports whether col is one of the table's columns.
func (t *Table) HasColumn(col string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Rows returns the records as string slices in column order, missing
// values rendered as "".
func (t *Table) Rows() [][]string {
	out := make([][]string, 0, t.Len())
	for _, r := range t.Records {
		row := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = r[c]
		}
		out = append(out, row)
	}
	return out
}

// Filter returns a table with the same columns holding only the records
// keep accepts.
func (t *Table) Filter(keep func(Record) bool) *Table {
	out := &Table{Columns: t.Columns, Synthetic: t.Synthetic}
	for _, r := range t.Records {
		if keep(r) {
			out.Records = append(out.Records, r)
		}
	}
	return out
}
