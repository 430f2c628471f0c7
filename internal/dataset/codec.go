package dataset

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
)

type column struct {
	name  string
	index int // struct field index
	kind  reflect.Kind
}

// Codec maps T to and from dataset rows by field name. T must be a struct
// whose persisted fields carry a `dataset:"name"` tag and are of kind
// string, bool or int.
type Codec[T any] struct {
	columns []column
}

// NewCodec derives the schema of T from its struct tags.
func NewCodec[T any]() (*Codec[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("dataset: codec type %v is not a struct", rt)
	}
	c := &Codec[T]{}
	seen := map[string]bool{}
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		name := sf.Tag.Get("dataset")
		if name == "" || name == "-" || !sf.IsExported() {
			continue
		}
		switch sf.Type.Kind() {
		case reflect.String, reflect.Bool, reflect.Int, reflect.Int64:
		default:
			return nil, fmt.Errorf("dataset: field %s has unsupported kind %s", sf.Name, sf.Type.Kind())
		}
		if seen[name] {
			return nil, fmt.Errorf("dataset: duplicate column %q", name)
		}
		if name == IDField && sf.Type.Kind() == reflect.Bool {
			return nil, fmt.Errorf("dataset: %q column cannot be bool", IDField)
		}
		seen[name] = true
		c.columns = append(c.columns, column{name: name, index: i, kind: sf.Type.Kind()})
	}
	if !seen[IDField] {
		return nil, fmt.Errorf("dataset: type %v has no %q column", rt, IDField)
	}
	return c, nil
}

// MustCodec is NewCodec for package-level schemas.
func MustCodec[T any]() *Codec[T] {
	c, err := NewCodec[T]()
	if err != nil {
		panic(err)
	}
	return c
}

// Fields returns the column names of T in declaration order.
func (c *Codec[T]) Fields() []string {
	out := make([]string, len(c.columns))
	for i, col := range c.columns {
		out[i] = col.name
	}
	return out
}

// Decode converts every row of ds into T. Columns T does not declare are
// ignored; columns missing from ds leave the zero value.
func (c *Codec[T]) Decode(ds *Dataset) ([]T, error) {
	pos := c.positions(ds)
	out := make([]T, 0, len(ds.Values))
	for i, row := range ds.Values {
		v, err := c.decodeRow(pos, row)
		if err != nil {
			return nil, apperr.Malformed("row %d: %v", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeRow converts a single row of ds.
func (c *Codec[T]) DecodeRow(ds *Dataset, row []string) (T, error) {
	return c.decodeRow(c.positions(ds), row)
}

func (c *Codec[T]) positions(ds *Dataset) []int {
	pos := make([]int, len(c.columns))
	for i, col := range c.columns {
		pos[i] = ds.Column(col.name)
	}
	return pos
}

func (c *Codec[T]) decodeRow(pos []int, row []string) (T, error) {
	var v T
	rv := reflect.ValueOf(&v).Elem()
	for i, col := range c.columns {
		p := pos[i]
		if p < 0 || p >= len(row) {
			continue
		}
		f := rv.Field(col.index)
		switch col.kind {
		case reflect.String:
			f.SetString(row[p])
		case reflect.Bool:
			f.SetBool(row[p] == "true")
		case reflect.Int, reflect.Int64:
			if row[p] == "" {
				continue
			}
			n, err := strconv.ParseInt(row[p], 10, 64)
			if err != nil {
				return v, fmt.Errorf("column %q: %v", col.name, err)
			}
			f.SetInt(n)
		}
	}
	return v, nil
}

// Encode builds the row for v aligned to ds.Fields. A dataset without
// fields adopts T's schema; columns T declares but ds lacks are added.
func (c *Codec[T]) Encode(ds *Dataset, v T) []string {
	return c.EncodeOver(ds, v, nil)
}

// EncodeOver is Encode keeping the cells of prev for columns T does not declare.
func (c *Codec[T]) EncodeOver(ds *Dataset, v T, prev []string) []string {
	ds.ensureFields(c.Fields())
	row := make([]string, len(ds.Fields))
	copy(row, prev)
	rv := reflect.ValueOf(v)
	for _, col := range c.columns {
		f := rv.Field(col.index)
		var s string
		switch col.kind {
		case reflect.String:
			s = f.String()
		case reflect.Bool:
			s = strconv.FormatBool(f.Bool())
		case reflect.Int, reflect.Int64:
			s = strconv.FormatInt(f.Int(), 10)
		}
		row[ds.Column(col.name)] = s
	}
	return row
}

// ID returns the id column of v.
func (c *Codec[T]) ID(v T) string {
	rv := reflect.ValueOf(v)
	for _, col := range c.columns {
		if col.name == IDField {
			f := rv.Field(col.index)
			if col.kind == reflect.String {
				return f.String()
			}
			return strconv.FormatInt(f.Int(), 10)
		}
	}
	return ""
}
