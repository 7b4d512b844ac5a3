// Package sparse provides the growable sparse float row used by the
// translation tables.
package sparse

import "slices"

// IndexedFloatArray is a sparse float32 vector keyed by integer index.
// Indices are kept sorted so lookups are a binary search.
type IndexedFloatArray struct {
	Indices []int32
	Values  []float32
}

// New creates an empty array with room for capacity entries.
func New(capacity int) *IndexedFloatArray {
	return &IndexedFloatArray{
		Indices: make([]int32, 0, capacity),
		Values:  make([]float32, 0, capacity),
	}
}

// NewFromIndices creates an array with the given sorted indices and zero values.
func NewFromIndices(indices []int32) *IndexedFloatArray {
	return &IndexedFloatArray{
		Indices: slices.Clone(indices),
		Values:  make([]float32, len(indices)),
	}
}

// Find returns the offset of idx, or -1 if absent.
func (a *IndexedFloatArray) Find(idx int) int {
	pos, ok := slices.BinarySearch(a.Indices, int32(idx))
	if !ok {
		return -1
	}
	return pos
}

// Get returns the value at idx, or 0 if absent.
func (a *IndexedFloatArray) Get(idx int) float32 {
	if pos := a.Find(idx); pos >= 0 {
		return a.Values[pos]
	}
	return 0
}

// Has reports whether idx is present.
func (a *IndexedFloatArray) Has(idx int) bool {
	return a.Find(idx) >= 0
}

// Set stores val at idx, inserting the index if needed.
func (a *IndexedFloatArray) Set(idx int, val float32) {
	pos := a.slot(idx)
	a.Values[pos] = val
}

// Add accumulates delta at idx, inserting the index if needed.
func (a *IndexedFloatArray) Add(idx int, delta float32) {
	pos := a.slot(idx)
	a.Values[pos] += delta
}

// slot returns the offset of idx, inserting a zero entry when missing.
func (a *IndexedFloatArray) slot(idx int) int {
	pos, ok := slices.BinarySearch(a.Indices, int32(idx))
	if ok {
		return pos
	}
	a.grow(len(a.Indices) + 1)
	a.Indices = slices.Insert(a.Indices, pos, int32(idx))
	a.Values = slices.Insert(a.Values, pos, 0)
	return pos
}

// grow ensures capacity for desired entries. New capacity is
// max(desired, 1.5x current).
func (a *IndexedFloatArray) grow(desired int) {
	if desired <= cap(a.Indices) {
		return
	}
	n := max(desired, cap(a.Indices)*3/2)
	idx := make([]int32, len(a.Indices), n)
	copy(idx, a.Indices)
	vals := make([]float32, len(a.Values), n)
	copy(vals, a.Values)
	a.Indices, a.Values = idx, vals
}

// Len returns the number of stored entries.
func (a *IndexedFloatArray) Len() int {
	return len(a.Indices)
}

// Sum returns the sum of all values.
func (a *IndexedFloatArray) Sum() float64 {
	var sum float64
	for _, v := range a.Values {
		sum += float64(v)
	}
	return sum
}

// Normalize scales values to sum to one. An all-zero array becomes uniform.
func (a *IndexedFloatArray) Normalize() {
	if len(a.Values) == 0 {
		return
	}
	sum := a.Sum()
	if sum == 0 {
		u := float32(1.0 / float64(len(a.Values)))
		for i := range a.Values {
			a.Values[i] = u
		}
		return
	}
	for i, v := range a.Values {
		a.Values[i] = float32(float64(v) / sum)
	}
}

// Clear zeroes all values, keeping the indices.
func (a *IndexedFloatArray) Clear() {
	clear(a.Values)
}

// Clone returns a deep copy.
func (a *IndexedFloatArray) Clone() *IndexedFloatArray {
	return &IndexedFloatArray{
		Indices: slices.Clone(a.Indices),
		Values:  slices.Clone(a.Values),
	}
}
