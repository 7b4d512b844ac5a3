// Package hmm implements an HMM word aligner. Hidden states are english
// positions, observations are foreign words; transitions come from an
// atable.Table indexed by jump width and emissions from a ttable.Table.
package hmm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/wordalign/atable"
	"github.com/happyhackingspace/wordalign/ttable"
)

// ErrDegenerate is returned when every path through a sentence pair's
// lattice has probability zero, so its posteriors carry no information.
var ErrDegenerate = errors.New("hmm: degenerate lattice")

var errNotRun = errors.New("hmm: no forward-backward pass has been run")

// Pair is a sentence pair as word ids. F indexes the source (foreign) axis
// of the translation table and E the target (english) axis.
type Pair struct {
	F []int
	E []int
}

// Config holds the model switches that are not stored in the tables.
type Config struct {
	// NullWord adds one "aligned to nothing" state per foreign position.
	NullWord bool
	// NullLogProb is the natural-log emission probability of the null state.
	NullLogProb float64
	// NullTransProb is the probability of moving into the null state.
	NullTransProb float64
}

// DefaultConfig returns the default model configuration.
func DefaultConfig() Config {
	return Config{
		NullWord:      false,
		NullLogProb:   math.Log(1e-4),
		NullTransProb: 0.2,
	}
}

// Result summarizes one forward-backward pass.
type Result struct {
	LogLikelihood float64 // natural log of the total lattice probability
	Degenerate    bool
}

// Engine runs forward-backward and Viterbi for one sentence pair at a time.
// It keeps the lattice of the last pair it saw but never holds on to the
// tables it was given. An Engine is not safe for concurrent use.
type Engine struct {
	cfg Config

	pair   Pair
	states int
	init   []float64   // [S]
	emit   [][]float64 // [F][S]
	trans  [][]float64 // [S][S]

	alpha [][]float64 // [F][S] scaled forward variables
	beta  [][]float64 // [F][S] scaled backward variables
	scale []float64   // [F]
	post  [][]float64 // [F][S] P(a_i=j | pair)

	result Result
	ready  bool
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	if cfg.NullTransProb < 0 || cfg.NullTransProb >= 1 {
		cfg.NullTransProb = DefaultConfig().NullTransProb
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (m *Engine) Config() Config { return m.cfg }

// nullState returns the index of the null state, or -1.
func (m *Engine) nullState() int {
	if m.cfg.NullWord {
		return len(m.pair.E)
	}
	return -1
}

// jumpClass returns the distortion class for the current pair.
func (m *Engine) jumpClass() int {
	return len(m.pair.E)
}

// BuildTables materializes the emission and transition matrices of p.
// Missing table entries read as probability zero.
func (m *Engine) BuildTables(p Pair, tt ttable.Table, at *atable.Table) error {
	m.pair = p
	m.ready = false
	E, F := len(p.E), len(p.F)
	S := E
	if m.cfg.NullWord {
		S++
	}
	m.states = S

	m.emit = make([][]float64, F)
	nullEmit := math.Exp(m.cfg.NullLogProb)
	for i, f := range p.F {
		m.emit[i] = make([]float64, S)
		for j, e := range p.E {
			v, err := tt.Get(e, f)
			if err != nil {
				return fmt.Errorf("emission (f=%d, e=%d): %w", f, e, err)
			}
			m.emit[i][j] = float64(v)
		}
		if m.cfg.NullWord {
			m.emit[i][E] = nullEmit
		}
	}

	p0 := 0.0
	if m.cfg.NullWord {
		p0 = m.cfg.NullTransProb
	}

	m.init = make([]float64, S)
	for j := range E {
		m.init[j] = (1 - p0) / float64(E)
	}

	class := m.jumpClass()
	m.trans = make([][]float64, S)
	for j := range E {
		row := make([]float64, S)
		for jn := range E {
			row[jn] = at.Get(jn-j, class)
		}
		// Truncate the jump distribution to the sentence.
		if sum := floats.Sum(row[:E]); sum > 0 {
			floats.Scale((1-p0)/sum, row[:E])
		}
		m.trans[j] = row
	}
	if m.cfg.NullWord {
		m.init[E] = p0
		for j := range E {
			m.trans[j][E] = p0
		}
		row := make([]float64, S)
		for jn := range E {
			row[jn] = (1 - p0) / float64(E)
		}
		row[E] = p0
		m.trans[E] = row
	}
	return nil
}
