package hmm

import (
	"errors"
	"math"
	"testing"

	"github.com/happyhackingspace/wordalign/atable"
	"github.com/happyhackingspace/wordalign/ttable"
)

// toyTables favors the diagonal of a 2x2 lattice: t(f|e) is 0.7 for
// matching ids and 0.1 otherwise; jumps of 0 get 0.5, jumps of ±1 get 0.25.
func toyTables(t *testing.T) (ttable.Table, *atable.Table) {
	t.Helper()
	tt := ttable.NewDynamic(2, 2)
	cells := []struct {
		e, f int
		v    float32
	}{
		{1, 1, 0.7}, {1, 2, 0.1},
		{2, 1, 0.1}, {2, 2, 0.7},
	}
	for _, c := range cells {
		if err := tt.Set(c.e, c.f, c.v); err != nil {
			t.Fatal(err)
		}
	}
	at := atable.New(1, false)
	at.Set(0, 2, 0.5)
	at.Set(1, 2, 0.25)
	at.Set(-1, 2, 0.25)
	return tt, at
}

func TestViterbiToyLattice(t *testing.T) {
	tt, at := toyTables(t)
	m := NewEngine(DefaultConfig())
	var pp Perplexity
	a, err := m.ViterbiAlign(Pair{F: []int{1, 2}, E: []int{1, 2}}, tt, at, &pp)
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != "0-0 1-1" {
		t.Errorf("viterbi = %q, want diagonal", a.String())
	}
	// init 0.5, emit 0.7, truncated jump +1 = 0.25/0.75, emit 0.7
	want := math.Log(0.5 * 0.7 * (0.25 / 0.75) * 0.7)
	if math.Abs(pp.LogProb-want) > 1e-5 {
		t.Errorf("path log prob = %v, want %v", pp.LogProb, want)
	}
	if pp.Words != 2 || pp.Pairs != 1 {
		t.Errorf("reporter = %+v", pp)
	}
}

func TestViterbiEmptyPair(t *testing.T) {
	tt, at := toyTables(t)
	m := NewEngine(DefaultConfig())
	a, err := m.ViterbiAlign(Pair{E: []int{1, 2}}, tt, at, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.F() != 0 || a.E() != 2 || a.Len() != 0 {
		t.Errorf("empty pair alignment = %dx%d %q", a.F(), a.E(), a.String())
	}
}

func TestPosteriorsSumToOne(t *testing.T) {
	tt, at := toyTables(t)
	for _, null := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.NullWord = null
		m := NewEngine(cfg)
		grid, err := m.ComputeAlignmentPosteriors(Pair{F: []int{1, 2, 2}, E: []int{1, 2}}, tt, at)
		if err != nil {
			t.Fatal(err)
		}
		wantCols := 2
		if null {
			wantCols = 3
		}
		for i, row := range grid {
			if len(row) != wantCols {
				t.Fatalf("null=%v row %d has %d columns, want %d", null, i, len(row), wantCols)
			}
			var sum float64
			for _, v := range row {
				sum += v
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("null=%v row %d sums to %v", null, i, sum)
			}
		}
	}
}

func TestPosteriorsToyValues(t *testing.T) {
	tt, at := toyTables(t)
	m := NewEngine(DefaultConfig())
	res, err := m.BaumWelch(Pair{F: []int{1, 2}, E: []int{1, 2}}, tt, at, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Degenerate {
		t.Fatal("toy lattice reported degenerate")
	}
	grid, err := m.Posteriors()
	if err != nil {
		t.Fatal(err)
	}
	// 0.105 / 0.13 for the diagonal cells
	if math.Abs(grid[0][0]-0.105/0.13) > 1e-6 || math.Abs(grid[1][1]-0.105/0.13) > 1e-6 {
		t.Errorf("posteriors = %v", grid)
	}
	if math.Abs(res.LogLikelihood-math.Log(0.13)) > 1e-6 {
		t.Errorf("log likelihood = %v, want %v", res.LogLikelihood, math.Log(0.13))
	}
	a, err := m.PosteriorAlignment(0.5)
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != "0-0 1-1" {
		t.Errorf("posterior alignment = %q", a.String())
	}
}

func TestDegenerateLattice(t *testing.T) {
	tt := ttable.NewDynamic(2, 2)
	at := atable.New(1, true)
	at.Normalize()
	m := NewEngine(DefaultConfig())

	if _, err := m.Posteriors(); err == nil {
		t.Error("expected error before any pass")
	}

	var pp Perplexity
	p := Pair{F: []int{1, 2}, E: []int{1, 2}}
	res, err := m.BaumWelch(p, tt, at, &pp)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Degenerate || !math.IsInf(res.LogLikelihood, -1) {
		t.Errorf("result = %+v, want degenerate", res)
	}
	if pp.Degenerate != 1 || pp.Pairs != 0 {
		t.Errorf("reporter = %+v", pp)
	}
	if err := m.AddPartialTranslationCountsToTTable(ttable.NewDynamic(2, 2)); !errors.Is(err, ErrDegenerate) {
		t.Errorf("translation counts: got %v", err)
	}
	if err := m.AddPartialJumpCountsToATable(atable.New(1, true)); !errors.Is(err, ErrDegenerate) {
		t.Errorf("jump counts: got %v", err)
	}
	if _, err := m.ViterbiAlign(p, tt, at, nil); !errors.Is(err, ErrDegenerate) {
		t.Errorf("viterbi: got %v", err)
	}
}

func TestNullWordCoversEveryPosition(t *testing.T) {
	tt, at := toyTables(t)
	cfg := DefaultConfig()
	cfg.NullWord = true
	cfg.NullLogProb = math.Log(1e-9)
	m := NewEngine(cfg)

	// f=3 has no translation for either english word.
	a, err := m.ViterbiAlign(Pair{F: []int{1, 3, 2}, E: []int{1, 2}}, tt, at, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.F() != 3 || a.E() != 2 {
		t.Fatalf("dims = %dx%d", a.F(), a.E())
	}
	if a.String() != "0-0 2-1" {
		t.Errorf("null viterbi = %q", a.String())
	}
	if a.IsFAligned(1) {
		t.Error("unknown word must go to the null state")
	}
}

func TestCountAccumulation(t *testing.T) {
	tt, at := toyTables(t)
	cfg := DefaultConfig()
	cfg.NullWord = true
	m := NewEngine(cfg)
	p := Pair{F: []int{1, 2, 1}, E: []int{1, 2}}
	if _, err := m.BaumWelch(p, tt, at, nil); err != nil {
		t.Fatal(err)
	}

	ttAcc := ttable.NewDynamic(2, 2)
	if err := m.AddPartialTranslationCountsToTTable(ttAcc); err != nil {
		t.Fatal(err)
	}
	var total, null float64
	err := ttAcc.Each(func(e, f int, v float32) error {
		total += float64(v)
		if e == 0 {
			null += float64(v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// One unit of count per foreign position.
	if math.Abs(total-3) > 1e-5 {
		t.Errorf("translation counts sum to %v, want 3", total)
	}
	if null <= 0 {
		t.Error("null state posteriors must land in the NULL row")
	}

	atAcc := atable.New(1, false)
	if err := m.AddPartialJumpCountsToATable(atAcc); err != nil {
		t.Fatal(err)
	}
	var jumps float64
	for j := -1; j <= 1; j++ {
		jumps += atAcc.Get(j, 2)
	}
	// Two transitions, minus the mass that went through the null state.
	if jumps <= 0 || jumps >= 2 {
		t.Errorf("jump counts sum to %v, want in (0, 2)", jumps)
	}
}

func TestJumpCountsWithoutNull(t *testing.T) {
	tt, at := toyTables(t)
	m := NewEngine(DefaultConfig())
	if _, err := m.BaumWelch(Pair{F: []int{1, 2, 2}, E: []int{1, 2}}, tt, at, nil); err != nil {
		t.Fatal(err)
	}
	acc := atable.New(1, false)
	if err := m.AddPartialJumpCountsToATable(acc); err != nil {
		t.Fatal(err)
	}
	var sum float64
	for j := -1; j <= 1; j++ {
		sum += acc.Get(j, 2)
	}
	if math.Abs(sum-2) > 1e-9 {
		t.Errorf("jump counts sum to %v, want 2", sum)
	}
}

func TestEMDoesNotIncreaseCrossEntropy(t *testing.T) {
	// das haus / the house, das buch / the book, ein buch / a book
	corpus := []Pair{
		{F: []int{1, 2}, E: []int{1, 2}},
		{F: []int{1, 3}, E: []int{1, 3}},
		{F: []int{4, 3}, E: []int{4, 3}},
	}
	var tt ttable.Table = ttable.NewDynamic(4, 4)
	for e := 1; e <= 4; e++ {
		for f := 1; f <= 4; f++ {
			if err := tt.Set(e, f, 0.25); err != nil {
				t.Fatal(err)
			}
		}
	}
	at := atable.New(2, false)
	at.EnsureClass(2)
	at.Normalize()

	m := NewEngine(DefaultConfig())
	decode := func() float64 {
		var pp Perplexity
		for _, p := range corpus {
			if _, err := m.ViterbiAlign(p, tt, at, &pp); err != nil {
				t.Fatal(err)
			}
		}
		return pp.CrossEntropy()
	}

	prev := decode()
	if math.Abs(prev-3) > 1e-5 {
		t.Fatalf("initial cross entropy = %v, want 3", prev)
	}
	prevLL := math.Inf(-1)
	for iter := range 3 {
		ttAcc := tt.Clone()
		ttAcc.Clear()
		atAcc := at.Clone()
		atAcc.Clear()
		var ll float64
		for _, p := range corpus {
			res, err := m.BaumWelch(p, tt, at, nil)
			if err != nil {
				t.Fatal(err)
			}
			ll += res.LogLikelihood
			if err := m.AddPartialTranslationCountsToTTable(ttAcc); err != nil {
				t.Fatal(err)
			}
			if err := m.AddPartialJumpCountsToATable(atAcc); err != nil {
				t.Fatal(err)
			}
		}
		if ll < prevLL {
			t.Errorf("iteration %d: log likelihood dropped %v -> %v", iter, prevLL, ll)
		}
		prevLL = ll
		if err := ttAcc.Normalize(); err != nil {
			t.Fatal(err)
		}
		atAcc.Normalize()
		tt, at = ttAcc, atAcc

		ce := decode()
		if ce > prev+1e-9 {
			t.Errorf("iteration %d: cross entropy rose %v -> %v", iter, prev, ce)
		}
		prev = ce
	}
}

func TestPerplexity(t *testing.T) {
	var pp Perplexity
	pp.Report(math.Log(0.25), 1)
	pp.Report(math.Log(0.25), 1)
	pp.Report(math.Inf(-1), 3)
	if pp.Pairs != 2 || pp.Degenerate != 1 || pp.Words != 2 {
		t.Fatalf("totals = %+v", pp)
	}
	if math.Abs(pp.CrossEntropy()-2) > 1e-12 {
		t.Errorf("cross entropy = %v, want 2", pp.CrossEntropy())
	}
	if math.Abs(pp.Perplexity()-4) > 1e-9 {
		t.Errorf("perplexity = %v, want 4", pp.Perplexity())
	}
	var total Perplexity
	total.Merge(&pp)
	total.Merge(&pp)
	if total.Pairs != 4 || total.Degenerate != 2 {
		t.Errorf("merged = %+v", total)
	}
}

func TestCountsThroughCellHandles(t *testing.T) {
	tt, at := toyTables(t)
	m := NewEngine(DefaultConfig())
	p := Pair{F: []int{1, 2, 1, 2}, E: []int{1, 2}}
	if _, err := m.BaumWelch(p, tt, at, nil); err != nil {
		t.Fatal(err)
	}

	b := ttable.NewCompactBuilder(2)
	b.AddSentence(p.E, p.F)
	compact, err := b.Build(false)
	if err != nil {
		t.Fatal(err)
	}
	dynamic := ttable.NewDynamic(2, 2)
	for _, acc := range []ttable.Table{compact, dynamic} {
		if err := m.AddPartialTranslationCountsToTTable(acc); err != nil {
			t.Fatal(err)
		}
	}
	for e := 1; e <= 2; e++ {
		for f := 1; f <= 2; f++ {
			want, _ := dynamic.Get(e, f)
			got, _ := compact.Get(e, f)
			if math.Abs(float64(got-want)) > 1e-6 {
				t.Errorf("c(%d|%d) = %v, want %v", f, e, got, want)
			}
		}
	}
}
