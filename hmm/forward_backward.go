package hmm

import (
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/wordalign/atable"
	"github.com/happyhackingspace/wordalign/ttable"
)

// Reporter receives the log probability (natural log) of a sentence pair
// together with its number of foreign words.
type Reporter interface {
	Report(logProb float64, words int)
}

// BaumWelch builds the lattice of p and runs scaled forward-backward over
// it. A degenerate lattice is reported in the Result, not as an error;
// errors come only from table lookups. rep may be nil.
func (m *Engine) BaumWelch(p Pair, tt ttable.Table, at *atable.Table, rep Reporter) (Result, error) {
	if err := m.BuildTables(p, tt, at); err != nil {
		return Result{}, err
	}
	m.forwardBackward()
	if rep != nil {
		rep.Report(m.result.LogLikelihood, len(p.F))
	}
	return m.result, nil
}

// forwardBackward runs the scaled forward-backward pass over the current
// lattice. Each forward row is normalized to sum to one and the backward
// pass reuses the same scale factors.
func (m *Engine) forwardBackward() {
	T, S := len(m.pair.F), m.states
	m.alpha, m.beta, m.scale, m.post = nil, nil, nil, nil
	m.result = Result{}
	m.ready = true
	if T == 0 {
		return
	}
	if S == 0 {
		m.result = Result{LogLikelihood: math.Inf(-1), Degenerate: true}
		return
	}

	alpha := make([][]float64, T)
	scale := make([]float64, T)

	// t = 0
	alpha[0] = make([]float64, S)
	for s := range S {
		alpha[0][s] = m.init[s] * m.emit[0][s]
	}

	// t = 0..T-1
	for t := range T {
		if t > 0 {
			alpha[t] = make([]float64, S)
			for s := range S {
				var sum float64
				for sp := range S {
					sum += alpha[t-1][sp] * m.trans[sp][s]
				}
				alpha[t][s] = sum * m.emit[t][s]
			}
		}
		sum := floats.Sum(alpha[t])
		if sum == 0 || math.IsNaN(sum) {
			m.result = Result{LogLikelihood: math.Inf(-1), Degenerate: true}
			return
		}
		scale[t] = 1.0 / sum
		floats.Scale(scale[t], alpha[t])
	}

	// Backward pass with the same scale factors
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, S)
	for s := range S {
		beta[T-1][s] = scale[T-1]
	}
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, S)
		for s := range S {
			var sum float64
			for sn := range S {
				sum += m.trans[s][sn] * m.emit[t+1][sn] * beta[t+1][sn]
			}
			beta[t][s] = sum * scale[t]
		}
	}

	logLik := 0.0
	for t := range T {
		logLik -= math.Log(scale[t])
	}

	// P(a_t=s | pair) = alpha[t][s] * beta[t][s] / scale[t]
	post := make([][]float64, T)
	for t := range T {
		post[t] = make([]float64, S)
		for s := range S {
			post[t][s] = alpha[t][s] * beta[t][s] / scale[t]
		}
	}

	m.alpha, m.beta, m.scale, m.post = alpha, beta, scale, post
	m.result = Result{LogLikelihood: logLik}
}

func (m *Engine) checkReady() error {
	if !m.ready {
		return errNotRun
	}
	if m.result.Degenerate {
		return ErrDegenerate
	}
	return nil
}

// AddPartialTranslationCountsToTTable adds the posteriors of the last
// BaumWelch pass to acc as fractional counts c(f,e). Null-state posteriors
// go to the NULL row e=0. acc is not normalized.
func (m *Engine) AddPartialTranslationCountsToTTable(acc ttable.Table) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	cells := newCellAdder(acc)
	null := m.nullState()
	for t, f := range m.pair.F {
		for s, g := range m.post[t] {
			if g == 0 {
				continue
			}
			e := 0
			if s != null {
				e = m.pair.E[s]
			}
			if err := cells.add(e, f, float32(g)); err != nil {
				return err
			}
		}
	}
	return nil
}

// cellAdder reuses Coord handles for cells touched more than once in a
// pair when the accumulator hands them out.
type cellAdder struct {
	acc    ttable.Table
	adr    ttable.Addresser
	coords map[[2]int]ttable.Coord
}

func newCellAdder(acc ttable.Table) *cellAdder {
	c := &cellAdder{acc: acc}
	if adr, ok := acc.(ttable.Addresser); ok {
		c.adr = adr
		c.coords = make(map[[2]int]ttable.Coord)
	}
	return c
}

func (c *cellAdder) add(e, f int, delta float32) error {
	if c.adr == nil {
		return c.acc.Add(e, f, delta)
	}
	key := [2]int{e, f}
	h, ok := c.coords[key]
	if !ok {
		var err error
		h, err = c.adr.Coord(e, f)
		if errors.Is(err, ttable.ErrCellNotFound) {
			// Add may grow the row and shift the offsets of cached handles.
			clear(c.coords)
			return c.acc.Add(e, f, delta)
		}
		if err != nil {
			return err
		}
		c.coords[key] = h
	}
	return c.adr.AddAt(h, delta)
}

// AddPartialJumpCountsToATable adds the expected jump counts
// P(a_t=j, a_t+1=j' | pair) of the last BaumWelch pass to acc. Transitions
// into or out of the null state are not counted.
func (m *Engine) AddPartialJumpCountsToATable(acc *atable.Table) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	T, E := len(m.pair.F), len(m.pair.E)
	class := m.jumpClass()
	for t := range T - 1 {
		for j := range E {
			a := m.alpha[t][j]
			if a == 0 {
				continue
			}
			for jn := range E {
				xi := a * m.trans[j][jn] * m.emit[t+1][jn] * m.beta[t+1][jn]
				if xi != 0 {
					acc.Add(jn-j, class, xi)
				}
			}
		}
	}
	return nil
}

// Posteriors returns a copy of the [F][S] posterior grid of the last pass.
// In the null-word variant the last column is the null state.
func (m *Engine) Posteriors() ([][]float64, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	grid := make([][]float64, len(m.post))
	for t, row := range m.post {
		grid[t] = slices.Clone(row)
	}
	return grid, nil
}

// ComputeAlignmentPosteriors runs forward-backward on p and returns the
// posterior grid.
func (m *Engine) ComputeAlignmentPosteriors(p Pair, tt ttable.Table, at *atable.Table) ([][]float64, error) {
	if _, err := m.BaumWelch(p, tt, at, nil); err != nil {
		return nil, err
	}
	return m.Posteriors()
}
