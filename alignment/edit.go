package alignment

import (
	"fmt"
	"strconv"
	"strings"
)

// MergeEnglishWords coalesces english positions i..j into position i.
// Links of the merged positions move to i and later positions shift down.
func (a *Alignment) MergeEnglishWords(i, j int) (*Alignment, error) {
	t, err := a.Transpose().MergeForeignWords(i, j)
	if err != nil {
		return nil, err
	}
	return t.Transpose(), nil
}

// SplitEnglishWords splits english position i in two. Both halves inherit
// the links of i and later positions shift up.
func (a *Alignment) SplitEnglishWords(i int) (*Alignment, error) {
	t, err := a.Transpose().SplitForeignWords(i)
	if err != nil {
		return nil, err
	}
	return t.Transpose(), nil
}

// MergeForeignWords coalesces foreign positions i..j into position i.
func (a *Alignment) MergeForeignWords(i, j int) (*Alignment, error) {
	if i < 0 || j <= i || j >= a.nf {
		return nil, fmt.Errorf("alignment: cannot merge positions %d..%d of %d", i, j, a.nf)
	}
	span := j - i
	m := New(a.nf-span, a.ne)
	for f := range a.nf {
		nf := f
		switch {
		case f > j:
			nf = f - span
		case f > i:
			nf = i
		}
		for e := range a.ne {
			if a.links[f*a.ne+e] {
				m.links[nf*m.ne+e] = true
			}
		}
	}
	return m, nil
}

// SplitForeignWords splits foreign position i in two.
func (a *Alignment) SplitForeignWords(i int) (*Alignment, error) {
	if i < 0 || i >= a.nf {
		return nil, fmt.Errorf("alignment: cannot split position %d of %d", i, a.nf)
	}
	s := New(a.nf+1, a.ne)
	for f := range a.nf {
		targets := []int{f}
		switch {
		case f > i:
			targets[0] = f + 1
		case f == i:
			targets = append(targets, f+1)
		}
		for e := range a.ne {
			if !a.links[f*a.ne+e] {
				continue
			}
			for _, nf := range targets {
				s.links[nf*s.ne+e] = true
			}
		}
	}
	return s, nil
}

// FromGiza parses one sentence pair from a GIZA++ A3 file. eLine is the
// plain sentence whose 1-based positions appear in braces; fLine is the
// annotated line "NULL ({ }) tok ({ 1 2 }) ...". Each annotated token other
// than NULL is a foreign position. With invert set, the result is
// transposed.
func FromGiza(eLine, fLine string, invert bool) (*Alignment, error) {
	ne := len(strings.Fields(eLine))
	type entry struct {
		positions []int
	}
	var entries []entry
	fields := strings.Fields(fLine)
	for k := 0; k < len(fields); {
		if k+1 >= len(fields) || fields[k+1] != "({" {
			return nil, fmt.Errorf("alignment: giza: expected '({' after %q", fields[k])
		}
		k += 2
		var ent entry
		for ; k < len(fields) && fields[k] != "})"; k++ {
			p, err := strconv.Atoi(fields[k])
			if err != nil {
				return nil, fmt.Errorf("alignment: giza: bad position %q: %w", fields[k], err)
			}
			if p < 1 || p > ne {
				return nil, fmt.Errorf("alignment: giza: position %d outside 1..%d", p, ne)
			}
			ent.positions = append(ent.positions, p-1)
		}
		if k >= len(fields) {
			return nil, fmt.Errorf("alignment: giza: unterminated link list")
		}
		k++
		entries = append(entries, ent)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("alignment: giza: empty annotated line")
	}
	// First entry is the NULL word.
	entries = entries[1:]
	a := New(len(entries), ne)
	for f, ent := range entries {
		for _, e := range ent.positions {
			a.Align(f, e)
		}
	}
	if invert {
		return a.Transpose(), nil
	}
	return a, nil
}
