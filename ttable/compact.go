package ttable

import (
	"fmt"
	"io"
	"slices"

	"github.com/happyhackingspace/wordalign/internal/sparse"
)

// Compact stores all rows in two flat arrays. Row e occupies
// fIdx[offsets[e]:offsets[e+1]], sorted by f. The layout never changes
// after construction; only values do.
type Compact struct {
	maxE, maxF int
	offsets    []int
	fIdx       []int32
	vals       []float32
	null       []float32
}

// NewCompact creates a table whose row e holds exactly the f ids in
// rows[e]. rows[0] is ignored: the NULL row is dense over [0, maxF].
// Each rows[e] must be sorted ascending without duplicates.
func NewCompact(maxE, maxF int, rows [][]int32) (*Compact, error) {
	if len(rows) > maxE+1 {
		return nil, fmt.Errorf("ttable: %d rows for maxE=%d", len(rows), maxE)
	}
	t := &Compact{
		maxE:    maxE,
		maxF:    maxF,
		offsets: make([]int, maxE+2),
		null:    make([]float32, maxF+1),
	}
	total := 0
	for e := 1; e < len(rows); e++ {
		total += len(rows[e])
	}
	t.fIdx = make([]int32, 0, total)
	for e := 1; e <= maxE; e++ {
		t.offsets[e] = len(t.fIdx)
		if e >= len(rows) {
			continue
		}
		for i, f := range rows[e] {
			if f < 0 || int(f) > maxF {
				return nil, fmt.Errorf("ttable: f=%d out of range in row %d", f, e)
			}
			if i > 0 && rows[e][i-1] >= f {
				return nil, fmt.Errorf("ttable: row %d is not sorted and unique", e)
			}
		}
		t.fIdx = append(t.fIdx, rows[e]...)
	}
	t.offsets[maxE+1] = len(t.fIdx)
	t.offsets[0] = 0
	t.vals = make([]float32, len(t.fIdx))
	return t, nil
}

// find returns the absolute offset of (e,f), or -1.
func (t *Compact) find(e, f int) int {
	if e < 1 || e > t.maxE {
		return -1
	}
	lo, hi := t.offsets[e], t.offsets[e+1]
	pos, ok := slices.BinarySearch(t.fIdx[lo:hi], int32(f))
	if !ok {
		return -1
	}
	return lo + pos
}

func (t *Compact) cell(e, f int) (*float32, error) {
	if e == 0 {
		if f >= 0 && f < len(t.null) {
			return &t.null[f], nil
		}
	} else if pos := t.find(e, f); pos >= 0 {
		return &t.vals[pos], nil
	}
	return nil, fmt.Errorf("%w: (f=%d, e=%d)", ErrCellNotFound, f, e)
}

// Get returns the value of (e,f), or 0 for cells outside the layout.
func (t *Compact) Get(e, f int) (float32, error) {
	if e == 0 {
		if f >= 0 && f < len(t.null) {
			return t.null[f], nil
		}
		return 0, nil
	}
	if pos := t.find(e, f); pos >= 0 {
		return t.vals[pos], nil
	}
	return 0, nil
}

// Add accumulates delta into (e,f). The cell must be in the layout.
func (t *Compact) Add(e, f int, delta float32) error {
	p, err := t.cell(e, f)
	if err != nil {
		return err
	}
	*p += delta
	return nil
}

// Set overwrites (e,f). The cell must be in the layout.
func (t *Compact) Set(e, f int, value float32) error {
	p, err := t.cell(e, f)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

// SetRow replaces all values of row e.
func (t *Compact) SetRow(e int, values []float32) error {
	var dst []float32
	switch {
	case e == 0:
		dst = t.null
	case e > 0 && e <= t.maxE:
		dst = t.vals[t.offsets[e]:t.offsets[e+1]]
	}
	if len(values) != len(dst) {
		return fmt.Errorf("%w: row %d has %d cells, got %d", ErrRowLength, e, len(dst), len(values))
	}
	copy(dst, values)
	return nil
}

// Coord returns a handle to (e,f).
func (t *Compact) Coord(e, f int) (Coord, error) {
	if e == 0 {
		if f >= 0 && f < len(t.null) {
			return Coord{Row: 0, Offset: f}, nil
		}
	} else if pos := t.find(e, f); pos >= 0 {
		return Coord{Row: e, Offset: pos}, nil
	}
	return Coord{}, fmt.Errorf("%w: (f=%d, e=%d)", ErrCellNotFound, f, e)
}

// AddAt accumulates delta into the cell addressed by c.
func (t *Compact) AddAt(c Coord, delta float32) error {
	if c.Row == 0 {
		t.null[c.Offset] += delta
		return nil
	}
	t.vals[c.Offset] += delta
	return nil
}

func (t *Compact) row(e int) *sparse.IndexedFloatArray {
	lo, hi := t.offsets[e], t.offsets[e+1]
	return &sparse.IndexedFloatArray{Indices: t.fIdx[lo:hi:hi], Values: t.vals[lo:hi:hi]}
}

// Normalize makes every row sum to one.
func (t *Compact) Normalize() error {
	normalizeDense(t.null)
	for e := 1; e <= t.maxE; e++ {
		t.row(e).Normalize()
	}
	return nil
}

// Clear zeroes all values.
func (t *Compact) Clear() {
	clear(t.null)
	clear(t.vals)
}

// Each calls fn for every cell in the layout.
func (t *Compact) Each(fn func(e, f int, v float32) error) error {
	for f, v := range t.null {
		if err := fn(0, f, v); err != nil {
			return err
		}
	}
	for e := 1; e <= t.maxE; e++ {
		for pos := t.offsets[e]; pos < t.offsets[e+1]; pos++ {
			if err := fn(e, int(t.fIdx[pos]), t.vals[pos]); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaxE returns the largest target word id.
func (t *Compact) MaxE() int { return t.maxE }

// MaxF returns the largest source word id.
func (t *Compact) MaxF() int { return t.maxF }

// Clone returns a deep copy.
func (t *Compact) Clone() Table {
	return &Compact{
		maxE:    t.maxE,
		maxF:    t.maxF,
		offsets: slices.Clone(t.offsets),
		fIdx:    slices.Clone(t.fIdx),
		vals:    slices.Clone(t.vals),
		null:    slices.Clone(t.null),
	}
}

// WriteTo serializes the table.
func (t *Compact) WriteTo(w io.Writer) (int64, error) {
	var rows []rowEntry
	for e := 1; e <= t.maxE; e++ {
		if t.offsets[e] < t.offsets[e+1] {
			rows = append(rows, rowEntry{e: e, row: t.row(e)})
		}
	}
	return writeTable(w, t.maxE, t.maxF, t.null, rows)
}

// ReadFrom replaces the table, including its layout, with serialized data.
func (t *Compact) ReadFrom(r io.Reader) (int64, error) {
	img, n, err := readTable(r)
	if err != nil {
		return n, fmt.Errorf("read compact table: %w", err)
	}
	layout := make([][]int32, img.maxE+1)
	for _, re := range img.rows {
		layout[re.e] = re.row.Indices
	}
	nt, err := NewCompact(img.maxE, max(img.maxF, len(img.null)-1), layout)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	copy(nt.null, img.null)
	for _, re := range img.rows {
		copy(nt.vals[nt.offsets[re.e]:nt.offsets[re.e+1]], re.row.Values)
	}
	*t = *nt
	return n, nil
}

// CompactBuilder collects the (e,f) pairs that define a Compact layout.
type CompactBuilder struct {
	maxE, maxF int
	rows       [][]int32
}

// NewCompactBuilder creates a builder for target ids up to maxE.
func NewCompactBuilder(maxE int) *CompactBuilder {
	return &CompactBuilder{maxE: maxE, rows: make([][]int32, maxE+1)}
}

// Add records that cell (e,f) exists. e=0 is ignored since the NULL row
// is dense.
func (b *CompactBuilder) Add(e, f int) {
	b.maxF = max(b.maxF, f)
	if e <= 0 || e > b.maxE {
		return
	}
	b.rows[e] = append(b.rows[e], int32(f))
}

// AddSentence records every pairing of an english word with a foreign word.
func (b *CompactBuilder) AddSentence(es, fs []int) {
	for _, e := range es {
		for _, f := range fs {
			b.Add(e, f)
		}
	}
	for _, f := range fs {
		b.maxF = max(b.maxF, f)
	}
}

// Build fixes the layout. With uniform set every row starts normalized.
func (b *CompactBuilder) Build(uniform bool) (*Compact, error) {
	for e, row := range b.rows {
		slices.Sort(row)
		b.rows[e] = slices.Compact(row)
	}
	t, err := NewCompact(b.maxE, b.maxF, b.rows)
	if err != nil {
		return nil, err
	}
	if uniform {
		if err := t.Normalize(); err != nil {
			return nil, err
		}
	}
	return t, nil
}
