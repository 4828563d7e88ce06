package normalize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors inside the grid markup.
const (
	HeaderCells = "thead tr th"
	BodyRows    = "tbody tr:not(.jqgfirstrow)"
)

// FromMarkup builds a table from the grid's header table and body table
// outer HTML. Header texts are trimmed, empty ones dropped and repeats
// renamed Name.1, Name.2. Body rows
// with no non-empty cell are dropped; short rows are padded.
//
// When the header count differs from the body column count the header is
// discarded and every column is named col_1..col_n; Synthetic is set.
func FromMarkup(header, body string) (*Table, error) {
	names, err := headerNames(header)
	if err != nil {
		return nil, err
	}

	bdoc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: body markup: %v", ErrMalformed, err)
	}

	var rows [][]string
	width := 0
	bdoc.Find(BodyRows).Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		nonEmpty := false
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			v := strings.TrimSpace(td.Text())
			if v != "" {
				nonEmpty = true
			}
			cells = append(cells, v)
		})
		if !nonEmpty {
			return
		}
		if len(cells) > width {
			width = len(cells)
		}
		rows = append(rows, cells)
	})

	t := &Table{}
	switch {
	case len(rows) == 0:
		t.Columns = names
		return t, nil
	case len(names) == width:
		t.Columns = names
	default:
		t.Synthetic = true
		t.Columns = make([]string, width)
		for i := range t.Columns {
			t.Columns[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	for _, cells := range rows {
		rec := make(Record, width)
		for i, c := range t.Columns {
			if i < len(cells) {
				rec[c] = cells[i]
			} else {
				rec[c] = ""
			}
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

func headerNames(header string) ([]string, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(header))
	if err != nil {
		return nil, fmt.Errorf("%w: header markup: %v", ErrMalformed, err)
	}
	var names []string
	doc.Find(HeaderCells).Each(func(_ int, th *goquery.Selection) {
		if v := strings.TrimSpace(th.Text()); v != "" {
			names = append(names, v)
		}
	})
	return uniqueNames(names), nil
}

// uniqueNames suffixes repeated header texts with .1, .2 and so on, so
// every column keeps its own values.
func uniqueNames(names []string) []string {
	used := make(map[string]bool, len(names))
	next := make(map[string]int)
	for i, n := range names {
		if !used[n] {
			used[n] = true
			continue
		}
		for {
			next[n]++
			cand := fmt.Sprintf("%s.%d", n, next[n])
			if !used[cand] {
				used[cand] = true
				names[i] = cand
				break
			}
		}
	}
	return names
}
