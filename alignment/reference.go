package alignment

import (
	"fmt"
	"slices"
	"strings"
)

// ReferenceAlignment is a gold alignment whose links are either sure or
// probable. Every sure link is also probable.
//
// Clone and Transpose keep the sure/probable split. The structural edits
// promoted from Alignment (MergeEnglishWords and the rest) return a plain
// Alignment without it. Removing a link with Unalign or UnalignF also
// drops its sure mark.
type ReferenceAlignment struct {
	*Alignment
	sure []bool
}

// NewReference creates an empty reference alignment.
func NewReference(nf, ne int) *ReferenceAlignment {
	return &ReferenceAlignment{Alignment: New(nf, ne), sure: make([]bool, max(nf, 0)*max(ne, 0))}
}

// AlignSure adds a sure link.
func (r *ReferenceAlignment) AlignSure(f, e int) {
	r.Align(f, e)
	r.sure[f*r.ne+e] = true
}

// AlignProbable adds a probable link. An existing sure link stays sure.
func (r *ReferenceAlignment) AlignProbable(f, e int) {
	linked := r.Aligned(f, e)
	r.Align(f, e)
	if !linked {
		r.sure[f*r.ne+e] = false
	}
}

// IsSure reports whether f-e is a sure link.
func (r *ReferenceAlignment) IsSure(f, e int) bool {
	return r.Aligned(f, e) && r.sure[f*r.ne+e]
}

// CountSure returns the number of sure links.
func (r *ReferenceAlignment) CountSure() int {
	n := 0
	for i, s := range r.sure {
		if s && r.links[i] {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (r *ReferenceAlignment) Clone() *ReferenceAlignment {
	return &ReferenceAlignment{Alignment: r.Alignment.Clone(), sure: slices.Clone(r.sure)}
}

// Transpose swaps the foreign and english roles, keeping sure links sure.
func (r *ReferenceAlignment) Transpose() *ReferenceAlignment {
	t := NewReference(r.ne, r.nf)
	for _, l := range r.Links() {
		if r.IsSure(l.F, l.E) {
			t.AlignSure(l.E, l.F)
		} else {
			t.AlignProbable(l.E, l.F)
		}
	}
	return t
}

// CountSureHits returns how many links of cand are sure links.
func (r *ReferenceAlignment) CountSureHits(cand *Alignment) int {
	n := 0
	for _, l := range cand.Links() {
		if r.IsSure(l.F, l.E) {
			n++
		}
	}
	return n
}

// CountProbableHits returns how many links of cand are sure or probable.
func (r *ReferenceAlignment) CountProbableHits(cand *Alignment) int {
	n := 0
	for _, l := range cand.Links() {
		if r.Aligned(l.F, l.E) {
			n++
		}
	}
	return n
}

// String returns "f-e" for sure links and "f?e" for probable ones.
func (r *ReferenceAlignment) String() string {
	var parts []string
	for _, l := range r.Links() {
		sep := "?"
		if r.IsSure(l.F, l.E) {
			sep = "-"
		}
		parts = append(parts, fmt.Sprintf("%d%s%d", l.F, sep, l.E))
	}
	return strings.Join(parts, " ")
}

// ParseReference reads "f-e" (sure) and "f?e" (probable) links.
func ParseReference(nf, ne int, s string) (*ReferenceAlignment, error) {
	r := NewReference(nf, ne)
	for _, tok := range strings.Fields(s) {
		sep, sure := "-", true
		if strings.Contains(tok, "?") {
			sep, sure = "?", false
		}
		f, e, err := parseLink(tok, sep)
		if err != nil {
			return nil, err
		}
		if !r.inRange(f, e) {
			return nil, fmt.Errorf("alignment: link %q outside %dx%d", tok, nf, ne)
		}
		if sure {
			r.AlignSure(f, e)
		} else {
			r.AlignProbable(f, e)
		}
	}
	return r, nil
}

// ErrorRate accumulates alignment error rate statistics over a corpus.
type ErrorRate struct {
	SureHits     int
	ProbableHits int
	Candidates   int
	Sure         int
}

// Add scores one candidate against its reference.
func (er *ErrorRate) Add(ref *ReferenceAlignment, cand *Alignment) error {
	if ref.nf != cand.nf || ref.ne != cand.ne {
		return fmt.Errorf("%w: reference %dx%d vs candidate %dx%d", ErrDimensionMismatch, ref.nf, ref.ne, cand.nf, cand.ne)
	}
	er.SureHits += ref.CountSureHits(cand)
	er.ProbableHits += ref.CountProbableHits(cand)
	er.Candidates += cand.Len()
	er.Sure += ref.CountSure()
	return nil
}

// Precision is |A∩P| / |A|.
func (er *ErrorRate) Precision() float64 {
	if er.Candidates == 0 {
		return 0
	}
	return float64(er.ProbableHits) / float64(er.Candidates)
}

// Recall is |A∩S| / |S|.
func (er *ErrorRate) Recall() float64 {
	if er.Sure == 0 {
		return 0
	}
	return float64(er.SureHits) / float64(er.Sure)
}

// AER is 1 - (|A∩S| + |A∩P|) / (|A| + |S|).
func (er *ErrorRate) AER() float64 {
	den := er.Candidates + er.Sure
	if den == 0 {
		return 0
	}
	return 1 - float64(er.SureHits+er.ProbableHits)/float64(den)
}
