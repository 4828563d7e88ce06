package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hazyhaar/sitevisits/tracker/internal/normalize"
)

// WriteCSV writes t with a header row to path, replacing it atomically.
func WriteCSV(path string, t *normalize.Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return fmt.Errorf("report: csv header: %w", err)
	}
	if err := w.WriteAll(t.Rows()); err != nil {
		return fmt.Errorf("report: csv rows: %w", err)
	}
	return writeAtomic(path, buf.Bytes())
}

// ReadCSV loads a table previously written by WriteCSV.
func ReadCSV(path string) (*normalize.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("report: read csv: %w", err)
	}
	t := &normalize.Table{}
	if len(rows) == 0 {
		return t, nil
	}
	t.Columns = rows[0]
	for _, row := range rows[1:] {
		rec := make(normalize.Record, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(row) {
				rec[c] = row[i]
			}
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// WriteRaw writes the intercepted API payload, indented, to path.
func WriteRaw(path string, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("report: indent raw payload: %w", err)
	}
	buf.WriteByte('\n')
	return writeAtomic(path, buf.Bytes())
}

// Print renders t as a terminal table.
func Print(w io.Writer, t *normalize.Table) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	tw.AppendHeader(header)
	for _, row := range t.Rows() {
		r := make(table.Row, len(row))
		for i, v := range row {
			r[i] = v
		}
		tw.AppendRow(r)
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d rows", t.Len())})
	tw.Render()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("report: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("report: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: rename %s: %w", path, err)
	}
	return nil
}
