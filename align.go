package wordalign

import (
	"errors"
	"fmt"
	"sync"

	"github.com/happyhackingspace/wordalign/alignment"
	"github.com/happyhackingspace/wordalign/hmm"
)

// Symmetrization combines the alignments of two directional models.
type Symmetrization int

const (
	Intersection Symmetrization = iota
	Union
)

// ParseSymmetrization maps "intersect" and "union" to a Symmetrization.
func ParseSymmetrization(s string) (Symmetrization, error) {
	switch s {
	case "intersect", "intersection":
		return Intersection, nil
	case "union":
		return Union, nil
	}
	return 0, fmt.Errorf("wordalign: unknown symmetrization %q", s)
}

// Align decodes every pair with Viterbi using up to workers goroutines.
// Pairs whose lattice is degenerate get an empty alignment and are counted
// in the returned Perplexity.
func (m *Model) Align(pairs []hmm.Pair, workers int) ([]*alignment.Alignment, hmm.Perplexity, error) {
	out := make([]*alignment.Alignment, len(pairs))
	workers = max(1, min(workers, len(pairs)))
	stats := make([]hmm.Perplexity, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := range workers {
		tt, at := readView(m.TTable), m.ATable
		wg.Go(func() {
			engine := m.engine()
			n := 0
			for i := w; i < len(pairs); i += workers {
				n++
				release(tt, n)
				a, err := engine.ViterbiAlign(pairs[i], tt, at, &stats[w])
				if errors.Is(err, hmm.ErrDegenerate) {
					a, err = alignment.New(len(pairs[i].F), len(pairs[i].E)), nil
				}
				if err != nil {
					errs[w] = fmt.Errorf("pair %d: %w", i, err)
					return
				}
				out[i] = a
			}
		})
	}
	wg.Wait()

	var total hmm.Perplexity
	for w := range stats {
		total.Merge(&stats[w])
	}
	if err := errors.Join(errs...); err != nil {
		return nil, total, fmt.Errorf("wordalign: %w", err)
	}
	return out, total, nil
}

// AlignSymmetric aligns pairs with m and with inverse, a model trained in
// the opposite direction over the same vocabularies, and combines the two.
// Alignments are returned in m's orientation.
func (m *Model) AlignSymmetric(inverse *Model, pairs []hmm.Pair, how Symmetrization, workers int) ([]*alignment.Alignment, error) {
	forward, _, err := m.Align(pairs, workers)
	if err != nil {
		return nil, err
	}
	swapped := make([]hmm.Pair, len(pairs))
	for i, p := range pairs {
		swapped[i] = hmm.Pair{F: p.E, E: p.F}
	}
	backward, _, err := inverse.Align(swapped, workers)
	if err != nil {
		return nil, err
	}
	out := make([]*alignment.Alignment, len(pairs))
	for i := range pairs {
		b := backward[i].Transpose()
		var err error
		switch how {
		case Union:
			out[i], err = alignment.Union(forward[i], b)
		default:
			out[i], err = alignment.Intersect(forward[i], b)
		}
		if err != nil {
			return nil, fmt.Errorf("wordalign: pair %d: %w", i, err)
		}
	}
	return out, nil
}

// Evaluate aligns pairs and scores them against refs.
func (m *Model) Evaluate(pairs []hmm.Pair, refs []*alignment.ReferenceAlignment, workers int) (alignment.ErrorRate, hmm.Perplexity, error) {
	var er alignment.ErrorRate
	if len(refs) != len(pairs) {
		return er, hmm.Perplexity{}, fmt.Errorf("wordalign: %d references for %d pairs", len(refs), len(pairs))
	}
	cands, pp, err := m.Align(pairs, workers)
	if err != nil {
		return er, pp, err
	}
	for i, cand := range cands {
		if err := er.Add(refs[i], cand); err != nil {
			return er, pp, fmt.Errorf("wordalign: pair %d: %w", i, err)
		}
	}
	return er, pp, nil
}
