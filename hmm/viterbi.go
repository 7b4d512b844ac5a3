package hmm

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/wordalign/alignment"
	"github.com/happyhackingspace/wordalign/atable"
	"github.com/happyhackingspace/wordalign/ttable"
)

// ViterbiAlign finds the most probable state path for p (log-domain) and
// returns it as an alignment. Foreign positions assigned to the null state
// stay unaligned. The path log probability is sent to rep, which may be nil.
// If every path has probability zero, ErrDegenerate is returned.
func (m *Engine) ViterbiAlign(p Pair, tt ttable.Table, at *atable.Table, rep Reporter) (*alignment.Alignment, error) {
	if err := m.BuildTables(p, tt, at); err != nil {
		return nil, err
	}
	path, score := m.viterbi()
	if rep != nil {
		rep.Report(score, len(p.F))
	}
	a := alignment.New(len(p.F), len(p.E))
	if len(p.F) == 0 {
		return a, nil
	}
	if math.IsInf(score, -1) {
		return nil, ErrDegenerate
	}
	for i, s := range path {
		if s < len(p.E) {
			a.Align(i, s)
		}
	}
	return a, nil
}

// viterbi runs max-product over the lattice built by BuildTables.
func (m *Engine) viterbi() ([]int, float64) {
	T, S := len(m.pair.F), m.states
	if T == 0 {
		return nil, 0
	}
	if S == 0 {
		return nil, math.Inf(-1)
	}

	logTrans := make([][]float64, S)
	for s := range S {
		logTrans[s] = logOf(m.trans[s])
	}

	// delta[t][s] = best log score ending at position t in state s
	delta := make([][]float64, T)
	// psi[t][s] = best previous state for backtracking
	psi := make([][]int, T)

	// t = 0
	delta[0] = make([]float64, S)
	psi[0] = make([]int, S)
	for s := range S {
		delta[0][s] = math.Log(m.init[s]) + math.Log(m.emit[0][s])
	}

	// t = 1..T-1
	for t := 1; t < T; t++ {
		delta[t] = make([]float64, S)
		psi[t] = make([]int, S)
		for s := range S {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for sp := range S {
				score := delta[t-1][sp] + logTrans[sp][s]
				if score > bestScore {
					bestScore = score
					bestPrev = sp
				}
			}
			delta[t][s] = bestScore + math.Log(m.emit[t][s])
			psi[t][s] = bestPrev
		}
	}

	best := floats.MaxIdx(delta[T-1])

	// Backtrack
	path := make([]int, T)
	path[T-1] = best
	for t := T - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}
	return path, delta[T-1][best]
}

func logOf(row []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = math.Log(v)
	}
	return out
}

// PosteriorAlignment links every (i, j) whose posterior from the last
// BaumWelch pass is at least threshold. The null state is never linked.
func (m *Engine) PosteriorAlignment(threshold float64) (*alignment.Alignment, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	E := len(m.pair.E)
	a := alignment.New(len(m.pair.F), E)
	for i, row := range m.post {
		for j := range E {
			if row[j] >= threshold {
				a.Align(i, j)
			}
		}
	}
	return a, nil
}
