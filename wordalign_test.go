package wordalign

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/happyhackingspace/wordalign/alignment"
	"github.com/happyhackingspace/wordalign/hmm"
	"github.com/happyhackingspace/wordalign/internal/config"
	"github.com/happyhackingspace/wordalign/internal/corpus"
	"github.com/happyhackingspace/wordalign/internal/store"
	"github.com/happyhackingspace/wordalign/ttable"
)

const (
	toyForeign = "das haus\ndas buch\nein buch\nein haus ist klein\n"
	toyEnglish = "the house\nthe book\na book\na house is small\n"
)

func readToy(t *testing.T, foreign, english string) ([]hmm.Pair, *corpus.Vocab, *corpus.Vocab) {
	t.Helper()
	fv, ev := corpus.NewVocab(), corpus.NewVocab()
	pairs, err := corpus.ReadParallel(strings.NewReader(foreign), strings.NewReader(english),
		fv, ev, corpus.Options{Grow: true})
	if err != nil {
		t.Fatal(err)
	}
	return pairs, fv, ev
}

func toyConfig(table string, workers int) *config.Config {
	cfg := config.Default()
	cfg.Model.MaxJump = 3
	cfg.Train.Iterations = 3
	cfg.Train.Workers = workers
	cfg.Train.Table = table
	return cfg
}

func newFileStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), true)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func crossEntropy(t *testing.T, m *Model, pairs []hmm.Pair) float64 {
	t.Helper()
	_, pp, err := m.Align(pairs, 2)
	if err != nil {
		t.Fatal(err)
	}
	return pp.CrossEntropy()
}

func TestTrainEmptyCorpus(t *testing.T) {
	_, err := Train(nil, corpus.NewVocab(), corpus.NewVocab(), config.Default(), nil)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("got %v, want ErrEmptyCorpus", err)
	}
}

func TestTrainReducesCrossEntropy(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	cfg := toyConfig(config.TableCompact, 2)
	untrained, err := NewModel(pairs, fv, ev, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	before := crossEntropy(t, untrained, pairs)

	m, err := Train(pairs, fv, ev, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	after := crossEntropy(t, m, pairs)
	if after > before {
		t.Errorf("cross entropy rose after training: %v -> %v", before, after)
	}
}

func TestTableStrategiesAgree(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "model.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sqlite.Close() }()

	ref, err := Train(pairs, fv, ev, toyConfig(config.TableCompact, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		table   string
		workers int
		st      store.Store
	}{
		{"compact-parallel", config.TableCompact, 3, nil},
		{"dynamic", config.TableDynamic, 2, nil},
		{"paged-file", config.TablePaged, 2, newFileStore(t)},
		{"paged-sqlite", config.TablePaged, 1, sqlite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Train(pairs, fv, ev, toyConfig(tt.table, tt.workers), tt.st)
			if err != nil {
				t.Fatal(err)
			}
			for _, p := range pairs {
				for _, e := range p.E {
					for _, f := range p.F {
						want, _ := ref.TTable.Get(e, f)
						got, err := m.TTable.Get(e, f)
						if err != nil {
							t.Fatal(err)
						}
						if math.Abs(float64(got-want)) > 1e-4 {
							t.Errorf("t(%s|%s) = %v, want %v", fv.Word(f), ev.Word(e), got, want)
						}
					}
				}
			}
			for j := -3; j <= 3; j++ {
				if d := math.Abs(m.ATable.Get(j, 2) - ref.ATable.Get(j, 2)); d > 1e-4 {
					t.Errorf("jump %d differs by %v", j, d)
				}
			}
		})
	}
}

func TestPagedViewsReleaseRows(t *testing.T) {
	// Enough pairs for a single worker to release its read view.
	n := releaseEvery + 6
	pairs, fv, ev := readToy(t, strings.Repeat(toyForeign, n), strings.Repeat(toyEnglish, n))
	ref, err := Train(pairs, fv, ev, toyConfig(config.TableCompact, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	st := newFileStore(t)
	m, err := Train(pairs, fv, ev, toyConfig(config.TablePaged, 1), st)
	if err != nil {
		t.Fatal(err)
	}
	if p := m.TTable.(*ttable.Paged); p.Resident() != 0 {
		t.Errorf("%d rows resident after training", p.Resident())
	}
	_, want, err := ref.Align(pairs, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, got, err := m.Align(pairs, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.CrossEntropy()-want.CrossEntropy()) > 1e-4 {
		t.Errorf("paged cross entropy %v, compact %v", got.CrossEntropy(), want.CrossEntropy())
	}
}

func TestSaveLoad(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	for _, table := range []string{config.TableCompact, config.TableDynamic, config.TablePaged} {
		t.Run(table, func(t *testing.T) {
			st := newFileStore(t)
			m, err := Train(pairs, fv, ev, toyConfig(table, 2), st)
			if err != nil {
				t.Fatal(err)
			}
			if err := m.Save(st); err != nil {
				t.Fatal(err)
			}
			loaded, err := Load(st)
			if err != nil {
				t.Fatal(err)
			}
			if loaded.Foreign.Size() != fv.Size() || loaded.English.Get("house") != ev.Get("house") {
				t.Error("vocabularies differ after load")
			}
			if loaded.Config.MaxJump != 3 {
				t.Errorf("config max jump = %d", loaded.Config.MaxJump)
			}
			want, _, err := m.Align(pairs, 1)
			if err != nil {
				t.Fatal(err)
			}
			got, _, err := loaded.Align(pairs, 1)
			if err != nil {
				t.Fatal(err)
			}
			for i := range want {
				if !got[i].Equal(want[i]) {
					t.Errorf("pair %d: loaded model aligns %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestSavePagedToOtherStore(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	m, err := Train(pairs, fv, ev, toyConfig(config.TablePaged, 1), newFileStore(t))
	if err != nil {
		t.Fatal(err)
	}
	other := newFileStore(t)
	if err := m.Save(other); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(other)
	if err != nil {
		t.Fatal(err)
	}
	e, f := ev.Get("house"), fv.Get("haus")
	want, _ := m.TTable.Get(e, f)
	got, err := loaded.TTable.Get(e, f)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("t(haus|house) = %v, want %v", got, want)
	}
}

func TestLoadMissingModel(t *testing.T) {
	if _, err := Load(newFileStore(t)); !errors.Is(err, store.ErrNotExist) {
		t.Errorf("got %v, want ErrNotExist", err)
	}
}

func TestDegeneratePairsAreSkipped(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign+"verloren\n", toyEnglish+"\n")
	m, err := NewModel(pairs, fv, ev, toyConfig(config.TableDynamic, 2), nil)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := m.Iterate(pairs, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Perplexity.Degenerate != 1 || stats.Perplexity.Pairs != len(pairs)-1 {
		t.Errorf("stats = %+v", stats.Perplexity)
	}
	links, pp, err := m.Align(pairs, 2)
	if err != nil {
		t.Fatal(err)
	}
	last := links[len(links)-1]
	if last.F() != 1 || last.E() != 0 || last.Len() != 0 {
		t.Errorf("degenerate pair aligned to %dx%d %q", last.F(), last.E(), last)
	}
	if pp.Degenerate != 1 {
		t.Errorf("align perplexity = %+v", pp)
	}
}

func TestAlignUnseenEnglishLength(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	m, err := Train(pairs, fv, ev, toyConfig(config.TableCompact, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	// Training only saw english lengths 2 and 4.
	test, err := corpus.ReadParallel(strings.NewReader("das haus\n"), strings.NewReader("the small house\n"),
		m.Foreign, m.English, corpus.Options{})
	if err != nil {
		t.Fatal(err)
	}
	links, pp, err := m.Align(test, 1)
	if err != nil {
		t.Fatal(err)
	}
	if pp.Degenerate != 0 || pp.Pairs != 1 {
		t.Errorf("perplexity = %+v, want one scored pair", pp)
	}
	if links[0].Len() != 2 || !links[0].IsFAligned(0) || !links[0].IsFAligned(1) {
		t.Errorf("alignment = %q, want every foreign word linked", links[0])
	}
}

func TestNullWordModel(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	cfg := toyConfig(config.TableCompact, 2)
	cfg.Model.NullWord = true
	m, err := Train(pairs, fv, ev, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	var null float32
	for f := 1; f < fv.Size(); f++ {
		v, err := m.TTable.Get(0, f)
		if err != nil {
			t.Fatal(err)
		}
		null += v
	}
	if math.Abs(float64(null)-1) > 1e-4 {
		t.Errorf("NULL row sums to %v, want 1", null)
	}
	links, _, err := m.Align(pairs, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i, a := range links {
		if a.F() != len(pairs[i].F) {
			t.Errorf("pair %d alignment has %d foreign positions", i, a.F())
		}
	}
}

func TestAlignSymmetric(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	cfg := toyConfig(config.TableCompact, 2)
	forward, err := Train(pairs, fv, ev, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	swapped := make([]hmm.Pair, len(pairs))
	for i, p := range pairs {
		swapped[i] = hmm.Pair{F: p.E, E: p.F}
	}
	inverse, err := Train(swapped, ev, fv, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	directional, _, err := forward.Align(pairs, 2)
	if err != nil {
		t.Fatal(err)
	}
	inter, err := forward.AlignSymmetric(inverse, pairs, Intersection, 2)
	if err != nil {
		t.Fatal(err)
	}
	union, err := forward.AlignSymmetric(inverse, pairs, Union, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range pairs {
		if inter[i].F() != len(pairs[i].F) || inter[i].E() != len(pairs[i].E) {
			t.Fatalf("pair %d: dims %dx%d", i, inter[i].F(), inter[i].E())
		}
		for _, l := range inter[i].Links() {
			if !directional[i].Aligned(l.F, l.E) || !union[i].Aligned(l.F, l.E) {
				t.Errorf("pair %d: intersection link %v not in both directions", i, l)
			}
		}
		for _, l := range directional[i].Links() {
			if !union[i].Aligned(l.F, l.E) {
				t.Errorf("pair %d: union misses %v", i, l)
			}
		}
	}

	if _, err := ParseSymmetrization("grow-diag"); err == nil {
		t.Error("expected error for unknown symmetrization")
	}
	if s, _ := ParseSymmetrization("union"); s != Union {
		t.Errorf("ParseSymmetrization(union) = %v", s)
	}
}

func TestEvaluate(t *testing.T) {
	pairs, fv, ev := readToy(t, toyForeign, toyEnglish)
	m, err := Train(pairs, fv, ev, toyConfig(config.TableCompact, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	links, _, err := m.Align(pairs, 1)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	for _, a := range links {
		lines = append(lines, a.String())
	}
	refs, err := corpus.ReadReferences(strings.NewReader(strings.Join(lines, "\n")+"\n"), pairs)
	if err != nil {
		t.Fatal(err)
	}
	er, _, err := m.Evaluate(pairs, refs, 2)
	if err != nil {
		t.Fatal(err)
	}
	if er.AER() != 0 || er.Precision() != 1 || er.Recall() != 1 {
		t.Errorf("self evaluation = %+v (AER %v)", er, er.AER())
	}

	if _, _, err := m.Evaluate(pairs, refs[:1], 1); err == nil {
		t.Error("expected error for reference count mismatch")
	}
	empty := make([]*alignment.ReferenceAlignment, len(pairs))
	for i, p := range pairs {
		empty[i] = alignment.NewReference(len(p.F), len(p.E))
	}
	er, _, err = m.Evaluate(pairs, empty, 1)
	if err != nil {
		t.Fatal(err)
	}
	if er.Precision() != 0 || er.AER() != 1 {
		t.Errorf("empty reference evaluation = %+v", er)
	}
}
