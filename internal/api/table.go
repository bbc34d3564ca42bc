package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// table is the daemon's list response: a header naming each column followed
// by positional rows.
type table struct {
	Name    *string             `json:"name"`
	HasMore bool                `json:"has_more"`
	Header  []string            `json:"header"`
	Rows    [][]json.RawMessage `json:"rows"`

	columns map[string]int
}

func decodeTable(body []byte) (*table, error) {
	var t table
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("%w: decoding list: %v", ErrBadResponse, err)
	}
	if t.Header == nil {
		return nil, fmt.Errorf("%w: list has no header", ErrBadResponse)
	}
	t.columns = make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		t.columns[h] = i
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return nil, fmt.Errorf("%w: row %d has %d columns, header has %d", ErrBadResponse, i, len(row), len(t.Header))
		}
	}
	return &t, nil
}

func (t *table) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.columns[c]; !ok {
			return fmt.Errorf("%w: missing column %q", ErrBadResponse, c)
		}
	}
	return nil
}

func (t *table) name() string {
	if t.Name == nil {
		return ""
	}
	return *t.Name
}

// str returns a string column; null and absent columns read as "".
func (t *table) str(row []json.RawMessage, col string) (string, error) {
	raw, ok := t.cell(row, col)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some columns (ids, versions) may come back as bare numbers.
		var n json.Number
		if err2 := json.Unmarshal(raw, &n); err2 != nil {
			return "", fmt.Errorf("%w: column %q: %v", ErrBadResponse, col, err)
		}
		return n.String(), nil
	}
	return s, nil
}

func (t *table) int64(row []json.RawMessage, col string) (int64, error) {
	raw, ok := t.cell(row, col)
	if !ok {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return 0, fmt.Errorf("%w: column %q: %v", ErrBadResponse, col, err)
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: column %q: %v", ErrBadResponse, col, err)
	}
	return v, nil
}

func (t *table) bool(row []json.RawMessage, col string) (bool, error) {
	raw, ok := t.cell(row, col)
	if !ok {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		var n int
		if err2 := json.Unmarshal(raw, &n); err2 != nil {
			return false, fmt.Errorf("%w: column %q: %v", ErrBadResponse, col, err)
		}
		return n != 0, nil
	}
	return b, nil
}

func (t *table) cell(row []json.RawMessage, col string) (json.RawMessage, bool) {
	i, ok := t.columns[col]
	if !ok {
		return nil, false
	}
	raw := row[i]
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}
