package ttable

import (
	"fmt"
	"io"
	"slices"

	"github.com/happyhackingspace/wordalign/internal/sparse"
)

// Dynamic keeps one growable sparse row per target word. Rows and cells are
// created on first Add or Set, so vocabulary sizes need not be known upfront.
type Dynamic struct {
	maxE, maxF int
	rows       []*sparse.IndexedFloatArray
	null       []float32
}

// NewDynamic creates an empty table. maxE and maxF are size hints.
func NewDynamic(maxE, maxF int) *Dynamic {
	return &Dynamic{
		maxE: maxE,
		maxF: maxF,
		rows: make([]*sparse.IndexedFloatArray, maxE+1),
		null: make([]float32, maxF+1),
	}
}

func (t *Dynamic) rowFor(e int) *sparse.IndexedFloatArray {
	if e >= len(t.rows) {
		n := max(e+1, len(t.rows)*3/2)
		grown := make([]*sparse.IndexedFloatArray, n)
		copy(grown, t.rows)
		t.rows = grown
	}
	if t.rows[e] == nil {
		t.rows[e] = sparse.New(0)
	}
	t.maxE = max(t.maxE, e)
	return t.rows[e]
}

func (t *Dynamic) nullCell(f int) *float32 {
	t.null = growDense(t.null, f)
	t.maxF = max(t.maxF, f)
	return &t.null[f]
}

func checkIDs(e, f int) error {
	if e < 0 || f < 0 {
		return fmt.Errorf("ttable: negative word id (f=%d, e=%d)", f, e)
	}
	return nil
}

// Get returns the value of (e,f), or 0 if absent.
func (t *Dynamic) Get(e, f int) (float32, error) {
	if e == 0 {
		if f >= 0 && f < len(t.null) {
			return t.null[f], nil
		}
		return 0, nil
	}
	if e < 0 || e >= len(t.rows) || t.rows[e] == nil {
		return 0, nil
	}
	return t.rows[e].Get(f), nil
}

// Add accumulates delta into (e,f), creating the cell if needed.
func (t *Dynamic) Add(e, f int, delta float32) error {
	if err := checkIDs(e, f); err != nil {
		return err
	}
	if e == 0 {
		*t.nullCell(f) += delta
		return nil
	}
	t.rowFor(e).Add(f, delta)
	t.maxF = max(t.maxF, f)
	return nil
}

// Set overwrites (e,f), creating the cell if needed.
func (t *Dynamic) Set(e, f int, value float32) error {
	if err := checkIDs(e, f); err != nil {
		return err
	}
	if e == 0 {
		*t.nullCell(f) = value
		return nil
	}
	t.rowFor(e).Set(f, value)
	t.maxF = max(t.maxF, f)
	return nil
}

// SetRow replaces the values of row e.
func (t *Dynamic) SetRow(e int, values []float32) error {
	var dst []float32
	switch {
	case e == 0:
		dst = t.null
	case e > 0 && e < len(t.rows) && t.rows[e] != nil:
		dst = t.rows[e].Values
	}
	if len(values) != len(dst) {
		return fmt.Errorf("%w: row %d has %d cells, got %d", ErrRowLength, e, len(dst), len(values))
	}
	copy(dst, values)
	return nil
}

// Normalize makes every row sum to one.
func (t *Dynamic) Normalize() error {
	normalizeDense(t.null)
	for _, row := range t.rows[min(1, len(t.rows)):] {
		if row != nil {
			row.Normalize()
		}
	}
	return nil
}

// Clear zeroes all values.
func (t *Dynamic) Clear() {
	clear(t.null)
	for _, row := range t.rows {
		if row != nil {
			row.Clear()
		}
	}
}

// Each calls fn for every defined cell.
func (t *Dynamic) Each(fn func(e, f int, v float32) error) error {
	for f, v := range t.null {
		if err := fn(0, f, v); err != nil {
			return err
		}
	}
	for e := 1; e < len(t.rows); e++ {
		row := t.rows[e]
		if row == nil {
			continue
		}
		for i, f := range row.Indices {
			if err := fn(e, int(f), row.Values[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaxE returns the largest target word id seen or hinted.
func (t *Dynamic) MaxE() int { return t.maxE }

// MaxF returns the largest source word id seen or hinted.
func (t *Dynamic) MaxF() int { return t.maxF }

// Clone returns a deep copy.
func (t *Dynamic) Clone() Table {
	c := &Dynamic{
		maxE: t.maxE,
		maxF: t.maxF,
		rows: make([]*sparse.IndexedFloatArray, len(t.rows)),
		null: slices.Clone(t.null),
	}
	for e, row := range t.rows {
		if row != nil {
			c.rows[e] = row.Clone()
		}
	}
	return c
}

// WriteTo serializes the table.
func (t *Dynamic) WriteTo(w io.Writer) (int64, error) {
	var rows []rowEntry
	for e := 1; e < len(t.rows); e++ {
		if t.rows[e] != nil && t.rows[e].Len() > 0 {
			rows = append(rows, rowEntry{e: e, row: t.rows[e]})
		}
	}
	return writeTable(w, t.maxE, t.maxF, t.null, rows)
}

// ReadFrom replaces the table with serialized data.
func (t *Dynamic) ReadFrom(r io.Reader) (int64, error) {
	img, n, err := readTable(r)
	if err != nil {
		return n, fmt.Errorf("read dynamic table: %w", err)
	}
	nt := NewDynamic(img.maxE, max(img.maxF, len(img.null)-1))
	copy(nt.null, img.null)
	for _, re := range img.rows {
		nt.rows[re.e] = re.row
	}
	*t = *nt
	return n, nil
}
