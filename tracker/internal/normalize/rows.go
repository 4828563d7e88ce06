package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FromRows flattens the Rows collection of an API payload shaped like
// {"Rows": [{...}, ...]}. Nested objects become dotted column names; column
// order is the order in which fields first appear across rows.
func FromRows(payload []byte) (*Table, error) {
	field, ok := RowsField(payload)
	if !ok {
		return nil, fmt.Errorf("%w: no Rows field", ErrMalformed)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(field, &rows); err != nil {
		return nil, fmt.Errorf("%w: Rows is not a list: %v", ErrMalformed, err)
	}

	t := &Table{}
	seen := make(map[string]bool)
	for i, raw := range rows {
		f := flattener{rec: make(Record)}
		if err := f.run(raw); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformed, i, err)
		}
		for _, c := range f.cols {
			if !seen[c] {
				seen[c] = true
				t.Columns = append(t.Columns, c)
			}
		}
		t.Records = append(t.Records, f.rec)
	}
	return t, nil
}

// RowsField returns the raw value of the payload's "Rows" key. The key is
// matched exactly; a missing or null value reports false.
func RowsField(payload []byte) (json.RawMessage, bool) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	field, ok := env["Rows"]
	if !ok || len(field) == 0 || string(field) == "null" {
		return nil, false
	}
	return field, true
}

type flattener struct {
	rec  Record
	cols []string
}

func (f *flattener) run(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row is not an object")
	}
	return f.object(dec, "")
}

// object reads key/value pairs up to and including the closing brace.
func (f *flattener) object(dec *json.Decoder, prefix string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if err := f.value(dec, key); err != nil {
			return err
		}
	}
	_, err := dec.Token()
	return err
}

func (f *flattener) value(dec *json.Decoder, key string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return f.object(dec, key)
		case '[':
			var items []any
			for dec.More() {
				var item any
				if err := dec.Decode(&item); err != nil {
					return err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			if items == nil {
				items = []any{}
			}
			b, err := json.Marshal(items)
			if err != nil {
				return err
			}
			f.set(key, string(b))
		default:
			return fmt.Errorf("unexpected delimiter %v", v)
		}
	case string:
		f.set(key, v)
	case json.Number:
		f.set(key, formatNumber(v))
	case bool:
		f.set(key, strconv.FormatBool(v))
	case nil:
		f.set(key, "")
	}
	return nil
}

func (f *flattener) set(key, val string) {
	if _, ok := f.rec[key]; !ok {
		f.cols = append(f.cols, key)
	}
	f.rec[key] = val
}

// formatNumber keeps integers verbatim and prints other numbers without
// trailing zeros or exponent.
func formatNumber(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(fl, 'f', -1, 64)
}
