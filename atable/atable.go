// Package atable implements the jump-distance (distortion) table used as the
// HMM transition model.
package atable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// ErrCorrupt is returned when serialized table data cannot be decoded.
var ErrCorrupt = errors.New("atable: corrupt table data")

// Table maps (jump, class) to a value. Jumps are clipped to
// [-MaxJump, MaxJump]. A homogeneous table ignores the class and keeps a
// single distribution; otherwise the class is usually the target sentence
// length and distributions are created on demand.
type Table struct {
	maxJump     int
	homogeneous bool
	dists       [][]float64
}

// New creates an all-zero table.
func New(maxJump int, homogeneous bool) *Table {
	if maxJump < 0 {
		maxJump = 0
	}
	t := &Table{maxJump: maxJump, homogeneous: homogeneous}
	if homogeneous {
		t.dists = [][]float64{make([]float64, 2*maxJump+1)}
	}
	return t
}

// MaxJump returns the clipping bound.
func (t *Table) MaxJump() int { return t.maxJump }

// Homogeneous reports whether all classes share one distribution.
func (t *Table) Homogeneous() bool { return t.homogeneous }

// Classes returns the number of class slots allocated.
func (t *Table) Classes() int { return len(t.dists) }

func (t *Table) bucket(jump int) int {
	return min(max(jump, -t.maxJump), t.maxJump) + t.maxJump
}

func (t *Table) classIndex(class int) int {
	if t.homogeneous || class < 0 {
		return 0
	}
	return class
}

func (t *Table) dist(class int, create bool) []float64 {
	c := t.classIndex(class)
	if c >= len(t.dists) {
		if !create {
			return nil
		}
		grown := make([][]float64, c+1)
		copy(grown, t.dists)
		t.dists = grown
	}
	if t.dists[c] == nil && create {
		t.dists[c] = make([]float64, 2*t.maxJump+1)
	}
	return t.dists[c]
}

// Get returns the value for jump in class. A class that was never
// allocated reads from the nearest allocated class, the shorter one on a
// tie. An empty table yields 0.
func (t *Table) Get(jump, class int) float64 {
	d := t.dist(class, false)
	if d == nil {
		d = t.nearest(t.classIndex(class))
	}
	if d == nil {
		return 0
	}
	return d[t.bucket(jump)]
}

func (t *Table) nearest(c int) []float64 {
	if c >= len(t.dists) {
		for i := len(t.dists) - 1; i >= 0; i-- {
			if t.dists[i] != nil {
				return t.dists[i]
			}
		}
		return nil
	}
	for k := 1; c-k >= 0 || c+k < len(t.dists); k++ {
		if c-k >= 0 && t.dists[c-k] != nil {
			return t.dists[c-k]
		}
		if c+k < len(t.dists) && t.dists[c+k] != nil {
			return t.dists[c+k]
		}
	}
	return nil
}

// Add accumulates delta for jump in class.
func (t *Table) Add(jump, class int, delta float64) {
	t.dist(class, true)[t.bucket(jump)] += delta
}

// Set overwrites the value for jump in class.
func (t *Table) Set(jump, class int, value float64) {
	t.dist(class, true)[t.bucket(jump)] = value
}

// Normalize makes each class distribution sum to one. All-zero classes
// become uniform.
func (t *Table) Normalize() {
	for _, d := range t.dists {
		if d == nil {
			continue
		}
		sum := floats.Sum(d)
		if sum == 0 {
			for i := range d {
				d[i] = 1 / float64(len(d))
			}
			continue
		}
		floats.Scale(1/sum, d)
	}
}

// EnsureClass allocates the distribution for class.
func (t *Table) EnsureClass(class int) {
	t.dist(class, true)
}

// Clear zeroes every value.
func (t *Table) Clear() {
	for _, d := range t.dists {
		clear(d)
	}
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := &Table{maxJump: t.maxJump, homogeneous: t.homogeneous, dists: make([][]float64, len(t.dists))}
	for i, d := range t.dists {
		c.dists[i] = slices.Clone(d)
	}
	return c
}

// Merge adds every value of src into t. Both must share MaxJump.
func (t *Table) Merge(src *Table) error {
	if src.maxJump != t.maxJump || src.homogeneous != t.homogeneous {
		return fmt.Errorf("atable: merge shape mismatch (maxJump %d/%d)", t.maxJump, src.maxJump)
	}
	for c, d := range src.dists {
		if d == nil {
			continue
		}
		floats.Add(t.dist(c, true), d)
	}
	return nil
}

// Serialized layout, integers as uvarints, floats as little-endian float64:
//
//	maxJump homogeneous classes
//	classes x (present [2*maxJump+1 values])

// WriteTo serializes the table.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(t.maxJump))
	if t.homogeneous {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.AppendUvarint(buf, uint64(len(t.dists)))
	for _, d := range t.dists {
		if d == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		for _, v := range d {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom replaces the table with serialized data.
func (t *Table) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	n := int64(len(data))
	if err != nil {
		return n, err
	}
	maxJump, k := binary.Uvarint(data)
	if k <= 0 || maxJump > math.MaxInt32 || len(data) < k+1 {
		return n, ErrCorrupt
	}
	data = data[k:]
	homogeneous := data[0] == 1
	data = data[1:]
	classes, k := binary.Uvarint(data)
	if k <= 0 || classes > uint64(len(data)) {
		return n, ErrCorrupt
	}
	data = data[k:]
	width := 2*int(maxJump) + 1
	nt := &Table{maxJump: int(maxJump), homogeneous: homogeneous, dists: make([][]float64, classes)}
	for c := range nt.dists {
		if len(data) < 1 {
			return n, ErrCorrupt
		}
		present := data[0] == 1
		data = data[1:]
		if !present {
			continue
		}
		if len(data) < 8*width {
			return n, ErrCorrupt
		}
		d := make([]float64, width)
		for i := range d {
			d[i] = math.Float64frombits(binary.LittleEndian.Uint64(data))
			data = data[8:]
		}
		nt.dists[c] = d
	}
	*t = *nt
	return n, nil
}
