// Package ttable implements translation tables P(f|e) over integer word ids.
//
// Three storage strategies share the Table interface:
//
//   - Compact: flat arrays with a sparsity layout fixed at construction.
//   - Dynamic: one growable sparse row per target word.
//   - Paged: rows live in a store.Store and are faulted in on first touch.
//
// Row e=0 is the NULL target word and is always kept as a dense row.
package ttable

import (
	"errors"
	"io"
)

var (
	// ErrCellNotFound is returned when a fixed-layout table is asked to
	// update a cell outside its sparsity pattern.
	ErrCellNotFound = errors.New("ttable: cell not in table layout")
	// ErrRowLength is returned by SetRow when the row length differs from
	// the stored row.
	ErrRowLength = errors.New("ttable: row length mismatch")
	// ErrCorrupt is returned when serialized table data cannot be decoded.
	ErrCorrupt = errors.New("ttable: corrupt table data")
)

// Table stores P(f|e) or unnormalized counts c(f,e).
type Table interface {
	// Get returns the value of cell (e,f), or 0 if the cell is absent.
	Get(e, f int) (float32, error)
	// Add accumulates delta into cell (e,f).
	Add(e, f int, delta float32) error
	// Set overwrites cell (e,f).
	Set(e, f int, value float32) error
	// SetRow replaces the values of row e. len(values) must equal the
	// number of cells currently defined in the row.
	SetRow(e int, values []float32) error
	// Normalize makes every row e>0 sum to one; all-zero rows become
	// uniform over their defined cells. The NULL row is normalized on its own.
	Normalize() error
	// Clear zeroes all values without changing the sparsity structure.
	Clear()
	// Each calls fn for every defined cell in ascending (e,f) order.
	Each(fn func(e, f int, v float32) error) error
	MaxE() int
	MaxF() int
	// Clone returns a deep copy.
	Clone() Table

	io.WriterTo
	io.ReaderFrom
}

// Coord is a handle to a single cell. It lets a caller touch the same cell
// repeatedly without repeating the row lookup. A handle stays valid until
// the structure of its row changes.
type Coord struct {
	Row    int
	Offset int
}

// Addresser is implemented by tables that hand out cell handles.
type Addresser interface {
	Coord(e, f int) (Coord, error)
	AddAt(c Coord, delta float32) error
}

// Merge adds every cell of src into dst.
func Merge(dst, src Table) error {
	return src.Each(func(e, f int, v float32) error {
		if v == 0 {
			return nil
		}
		return dst.Add(e, f, v)
	})
}

func normalizeDense(v []float32) {
	if len(v) == 0 {
		return
	}
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	if sum == 0 {
		u := float32(1.0 / float64(len(v)))
		for i := range v {
			v[i] = u
		}
		return
	}
	for i, x := range v {
		v[i] = float32(float64(x) / sum)
	}
}

// growDense extends v so that index f is addressable. Capacity grows to
// max(f+1, 1.5x current).
func growDense(v []float32, f int) []float32 {
	if f < len(v) {
		return v
	}
	if f < cap(v) {
		return v[:f+1]
	}
	n := max(f+1, cap(v)*3/2)
	grown := make([]float32, f+1, n)
	copy(grown, v)
	return grown
}
