// Package alignment represents word alignments between a foreign and an
// english sentence, and the operations used to combine and evaluate them.
package alignment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDimensionMismatch is returned when combining alignments of different
// sentence lengths.
var ErrDimensionMismatch = errors.New("alignment: dimension mismatch")

// Alignment is a set of links between foreign positions [0,F) and english
// positions [0,E). A foreign position may link to any number of english
// positions.
type Alignment struct {
	nf, ne int
	links  []bool // row-major by f
}

// New creates an empty alignment.
func New(nf, ne int) *Alignment {
	nf, ne = max(nf, 0), max(ne, 0)
	return &Alignment{nf: nf, ne: ne, links: make([]bool, nf*ne)}
}

// F returns the foreign sentence length.
func (a *Alignment) F() int { return a.nf }

// E returns the english sentence length.
func (a *Alignment) E() int { return a.ne }

func (a *Alignment) inRange(f, e int) bool {
	return f >= 0 && f < a.nf && e >= 0 && e < a.ne
}

func (a *Alignment) check(f, e int) {
	if !a.inRange(f, e) {
		panic(fmt.Sprintf("alignment: link %d-%d outside %dx%d", f, e, a.nf, a.ne))
	}
}

// Align adds the link f-e.
func (a *Alignment) Align(f, e int) {
	a.check(f, e)
	a.links[f*a.ne+e] = true
}

// Unalign removes the link f-e.
func (a *Alignment) Unalign(f, e int) {
	a.check(f, e)
	a.links[f*a.ne+e] = false
}

// UnalignF removes every link of foreign position f.
func (a *Alignment) UnalignF(f int) {
	if f < 0 || f >= a.nf {
		return
	}
	clear(a.links[f*a.ne : (f+1)*a.ne])
}

// UnalignE removes every link of english position e.
func (a *Alignment) UnalignE(e int) {
	if e < 0 || e >= a.ne {
		return
	}
	for f := range a.nf {
		a.links[f*a.ne+e] = false
	}
}

// Aligned reports whether f-e is linked. Out-of-range positions are never
// aligned.
func (a *Alignment) Aligned(f, e int) bool {
	return a.inRange(f, e) && a.links[f*a.ne+e]
}

// IsFAligned reports whether foreign position f has any link.
func (a *Alignment) IsFAligned(f int) bool {
	for e := range a.ne {
		if a.Aligned(f, e) {
			return true
		}
	}
	return false
}

// IsEAligned reports whether english position e has any link.
func (a *Alignment) IsEAligned(e int) bool {
	for f := range a.nf {
		if a.Aligned(f, e) {
			return true
		}
	}
	return false
}

// Len returns the number of links.
func (a *Alignment) Len() int {
	n := 0
	for _, l := range a.links {
		if l {
			n++
		}
	}
	return n
}

// Link is a single foreign-english position pair.
type Link struct {
	F, E int
}

// Links returns all links ascending by f, then e.
func (a *Alignment) Links() []Link {
	var out []Link
	for i, l := range a.links {
		if l {
			out = append(out, Link{F: i / a.ne, E: i % a.ne})
		}
	}
	return out
}

// Clone returns an independent copy.
func (a *Alignment) Clone() *Alignment {
	c := New(a.nf, a.ne)
	copy(c.links, a.links)
	return c
}

// Equal reports whether a and b have the same dimensions and links.
func (a *Alignment) Equal(b *Alignment) bool {
	if a.nf != b.nf || a.ne != b.ne {
		return false
	}
	for i := range a.links {
		if a.links[i] != b.links[i] {
			return false
		}
	}
	return true
}

// Transpose swaps the foreign and english roles.
func (a *Alignment) Transpose() *Alignment {
	t := New(a.ne, a.nf)
	for f := range a.nf {
		for e := range a.ne {
			if a.links[f*a.ne+e] {
				t.links[e*a.nf+f] = true
			}
		}
	}
	return t
}

func combine(a, b *Alignment, op func(x, y bool) bool) (*Alignment, error) {
	if a.nf != b.nf || a.ne != b.ne {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrDimensionMismatch, a.nf, a.ne, b.nf, b.ne)
	}
	c := New(a.nf, a.ne)
	for i := range c.links {
		c.links[i] = op(a.links[i], b.links[i])
	}
	return c, nil
}

// Union returns the links present in a or b.
func Union(a, b *Alignment) (*Alignment, error) {
	return combine(a, b, func(x, y bool) bool { return x || y })
}

// Intersect returns the links present in both a and b.
func Intersect(a, b *Alignment) (*Alignment, error) {
	return combine(a, b, func(x, y bool) bool { return x && y })
}

// String returns the canonical "f-e f-e ..." form.
func (a *Alignment) String() string {
	var sb strings.Builder
	for _, l := range a.Links() {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(l.F))
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(l.E))
	}
	return sb.String()
}

// Parse reads the canonical form into an nf x ne alignment.
func Parse(nf, ne int, s string) (*Alignment, error) {
	a := New(nf, ne)
	for _, tok := range strings.Fields(s) {
		f, e, err := parseLink(tok, "-")
		if err != nil {
			return nil, err
		}
		if !a.inRange(f, e) {
			return nil, fmt.Errorf("alignment: link %q outside %dx%d", tok, nf, ne)
		}
		a.Align(f, e)
	}
	return a, nil
}

func parseLink(tok, sep string) (int, int, error) {
	fs, es, ok := strings.Cut(tok, sep)
	if !ok {
		return 0, 0, fmt.Errorf("alignment: malformed link %q", tok)
	}
	f, err := strconv.Atoi(fs)
	if err != nil {
		return 0, 0, fmt.Errorf("alignment: malformed link %q: %w", tok, err)
	}
	e, err := strconv.Atoi(es)
	if err != nil {
		return 0, 0, fmt.Errorf("alignment: malformed link %q: %w", tok, err)
	}
	return f, e, nil
}

// Neighborhood selects which cells CountNeighbors inspects.
type Neighborhood int

const (
	// EightConnected inspects all eight surrounding cells.
	EightConnected Neighborhood = iota
	// Diagonal inspects only the four diagonal cells.
	Diagonal
	// Orthogonal inspects the four horizontally and vertically adjacent cells.
	Orthogonal
)

var neighborOffsets = map[Neighborhood][][2]int{
	EightConnected: {{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}},
	Diagonal:       {{-1, -1}, {-1, 1}, {1, -1}, {1, 1}},
	Orthogonal:     {{-1, 0}, {0, -1}, {0, 1}, {1, 0}},
}

// CountNeighbors counts aligned cells around (f,e).
func (a *Alignment) CountNeighbors(f, e int, n Neighborhood) int {
	count := 0
	for _, d := range neighborOffsets[n] {
		if a.Aligned(f+d[0], e+d[1]) {
			count++
		}
	}
	return count
}
