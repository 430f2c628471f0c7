// Package dataset implements the tabular JSON document LurkHub stores its
// collections in:
//
//	{"fields": ["id", "title", ...], "values": [["1", "Go", ...], ...]}
//
// Rows are positional string cells aligned to fields. Typed records are
// mapped to rows by field name through Codec, never by position.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
)

// IDField names the primary key column.
const IDField = "id"

// Dataset is a parsed dataset document.
type Dataset struct {
	Fields []string   `json:"fields"`
	Values [][]string `json:"values"`
}

// Empty returns a dataset with no fields and no rows, the value an absent
// file reads as.
func Empty() *Dataset {
	return &Dataset{Fields: []string{}, Values: [][]string{}}
}

// Parse decodes and validates a dataset document. Scalar cells that are not
// strings (numbers, booleans, null) are converted to their string form.
func Parse(data []byte) (*Dataset, error) {
	var raw struct {
		Fields []string `json:"fields"`
		Values [][]any  `json:"values"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.Malformed("invalid dataset JSON: %v", err)
	}
	ds := &Dataset{Fields: raw.Fields, Values: make([][]string, 0, len(raw.Values))}
	if ds.Fields == nil {
		ds.Fields = []string{}
	}
	for i, row := range raw.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			s, err := cell(v)
			if err != nil {
				return nil, apperr.Malformed("row %d column %d: %v", i, j, err)
			}
			cells[j] = s
		}
		ds.Values = append(ds.Values, cells)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func cell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported cell type %T", v)
	}
}

// Marshal encodes the dataset with 2-space indentation.
func (d *Dataset) Marshal() ([]byte, error) {
	out := d
	if d.Fields == nil || d.Values == nil {
		out = &Dataset{Fields: d.Fields, Values: d.Values}
		if out.Fields == nil {
			out.Fields = []string{}
		}
		if out.Values == nil {
			out.Values = [][]string{}
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// Validate checks that field names are unique and every row has one cell
// per field.
func (d *Dataset) Validate() error {
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if _, dup := seen[f]; dup {
			return apperr.Malformed("duplicate field %q", f)
		}
		seen[f] = struct{}{}
	}
	for i, row := range d.Values {
		if len(row) != len(d.Fields) {
			return apperr.Malformed("row %d has %d values, expected %d", i, len(row), len(d.Fields))
		}
	}
	return nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Values) }

// Column returns the position of field, or -1.
func (d *Dataset) Column(field string) int {
	return slices.Index(d.Fields, field)
}

// IDIndex returns the position of the id column. A dataset without one
// cannot be updated or deleted from.
func (d *Dataset) IDIndex() (int, error) {
	i := d.Column(IDField)
	if i < 0 {
		return -1, apperr.Malformed(`no "id" field in dataset`)
	}
	return i, nil
}

// Find returns the row whose id equals id.
func (d *Dataset) Find(id string) ([]string, bool) {
	idx, err := d.IDIndex()
	if err != nil {
		return nil, false
	}
	for _, row := range d.Values {
		if row[idx] == id {
			return row, true
		}
	}
	return nil, false
}

func (d *Dataset) checkArity(row []string) error {
	if len(row) != len(d.Fields) {
		return apperr.Malformed("data length mismatch: expected %d values, received %d", len(d.Fields), len(row))
	}
	return nil
}

// Append adds row at the end.
func (d *Dataset) Append(row []string) error {
	if len(d.Fields) == 0 {
		return apperr.Malformed("dataset has no fields")
	}
	if err := d.checkArity(row); err != nil {
		return err
	}
	d.Values = append(d.Values, row)
	return nil
}

// Replace swaps in row for the existing row with the same id.
func (d *Dataset) Replace(row []string) error {
	if err := d.checkArity(row); err != nil {
		return err
	}
	idx, err := d.IDIndex()
	if err != nil {
		return err
	}
	for i, existing := range d.Values {
		if existing[idx] == row[idx] {
			d.Values[i] = row
			return nil
		}
	}
	return fmt.Errorf("no entry found with id %q: %w", row[idx], apperr.ErrNotFound)
}

// Remove deletes the row with id. The dataset is left unchanged when no
// row matches.
func (d *Dataset) Remove(id string) error {
	idx, err := d.IDIndex()
	if err != nil {
		return err
	}
	kept := make([][]string, 0, len(d.Values))
	for _, row := range d.Values {
		if row[idx] != id {
			kept = append(kept, row)
		}
	}
	if len(kept) == len(d.Values) {
		return fmt.Errorf("no entry found with id %q: %w", id, apperr.ErrNotFound)
	}
	d.Values = kept
	return nil
}

// Record returns row as a field-name keyed map.
func (d *Dataset) Record(row []string) map[string]string {
	rec := make(map[string]string, len(d.Fields))
	for i, f := range d.Fields {
		if i < len(row) {
			rec[f] = row[i]
		}
	}
	return rec
}

// RowFromRecord aligns rec to the dataset's fields. An empty dataset adopts
// the record's keys as its schema, id first and the rest sorted. Keys the
// dataset does not know are rejected.
func (d *Dataset) RowFromRecord(rec map[string]string) ([]string, error) {
	if len(d.Fields) == 0 {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if k != IDField {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if _, ok := rec[IDField]; ok {
			keys = append([]string{IDField}, keys...)
		}
		d.Fields = keys
	}
	for k := range rec {
		if d.Column(k) < 0 {
			return nil, apperr.Malformed("unknown field %q", k)
		}
	}
	row := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		row[i] = rec[f]
	}
	return row, nil
}

// RequireFields rejects rec unless it has a value for every field of the
// dataset. A replace uses it so an omitted key never blanks a cell.
func (d *Dataset) RequireFields(rec map[string]string) error {
	for _, f := range d.Fields {
		if _, ok := rec[f]; !ok {
			return apperr.Malformed("missing field %q", f)
		}
	}
	return nil
}

// ensureFields appends any of fields missing from the dataset, padding
// existing rows with empty cells.
func (d *Dataset) ensureFields(fields []string) {
	for _, f := range fields {
		if d.Column(f) >= 0 {
			continue
		}
		d.Fields = append(d.Fields, f)
		for i := range d.Values {
			d.Values[i] = append(d.Values[i], "")
		}
	}
}
