package wordalign

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/happyhackingspace/wordalign/atable"
	"github.com/happyhackingspace/wordalign/hmm"
	"github.com/happyhackingspace/wordalign/internal/config"
	"github.com/happyhackingspace/wordalign/internal/corpus"
	"github.com/happyhackingspace/wordalign/internal/store"
	"github.com/happyhackingspace/wordalign/ttable"
)

// IterationStats summarizes one EM iteration.
type IterationStats struct {
	LogLikelihood float64
	Perplexity    hmm.Perplexity
}

// Train estimates a model for P(foreign | english) from pairs with
// Baum-Welch. The translation table starts uniform over co-occurring
// words and the distortion table uniform over jumps. st backs the paged
// table strategy and may be nil for the others.
func Train(pairs []hmm.Pair, fv, ev *corpus.Vocab, cfg *config.Config, st store.Store) (*Model, error) {
	m, err := NewModel(pairs, fv, ev, cfg, st)
	if err != nil {
		return nil, err
	}
	workers := cfg.Train.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	for iter := range cfg.Train.Iterations {
		stats, err := m.Iterate(pairs, workers)
		if err != nil {
			return nil, fmt.Errorf("wordalign: iteration %d: %w", iter+1, err)
		}
		slog.Debug("EM iteration",
			"iteration", iter+1,
			"log_likelihood", stats.LogLikelihood,
			"cross_entropy", stats.Perplexity.CrossEntropy(),
			"pairs", stats.Perplexity.Pairs,
			"skipped", stats.Perplexity.Degenerate)
		if stats.Perplexity.Degenerate > 0 {
			slog.Warn("Skipped degenerate sentence pairs", "iteration", iter+1, "count", stats.Perplexity.Degenerate)
		}
	}
	return m, nil
}

// NewModel builds an untrained model with uniform tables sized for pairs.
func NewModel(pairs []hmm.Pair, fv, ev *corpus.Vocab, cfg *config.Config, st store.Store) (*Model, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyCorpus
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wordalign: %w", err)
	}
	tt, err := initialTable(pairs, fv.MaxID(), ev.MaxID(), cfg, st)
	if err != nil {
		return nil, fmt.Errorf("wordalign: initial translation table: %w", err)
	}
	at := atable.New(cfg.Model.MaxJump, cfg.Model.Homogeneous)
	for _, p := range pairs {
		at.EnsureClass(len(p.E))
	}
	at.Normalize()
	return &Model{Foreign: fv, English: ev, Config: cfg.Model, TTable: tt, ATable: at}, nil
}

func initialTable(pairs []hmm.Pair, maxF, maxE int, cfg *config.Config, st store.Store) (ttable.Table, error) {
	if cfg.Train.Table == config.TableCompact {
		b := ttable.NewCompactBuilder(maxE)
		for _, p := range pairs {
			b.AddSentence(p.E, p.F)
		}
		return b.Build(true)
	}

	d := ttable.NewDynamic(maxE, maxF)
	for _, p := range pairs {
		for _, e := range p.E {
			for _, f := range p.F {
				if err := d.Set(e, f, 1); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := d.Normalize(); err != nil {
		return nil, err
	}
	if cfg.Train.Table == config.TableDynamic {
		return d, nil
	}
	if st == nil {
		return nil, fmt.Errorf("paged table needs a store")
	}
	return ttable.PageOut(d, st, pagedDir)
}

// releaseEvery is how many pairs a worker handles between releases of the
// rows its paged read view has faulted in.
const releaseEvery = 64

// readView returns a table safe to read from one goroutine while others
// read their own views. Paged tables mutate their resident set on Get.
func readView(t ttable.Table) ttable.Table {
	if p, ok := t.(*ttable.Paged); ok {
		return p.Clone()
	}
	return t
}

// release drops the clean rows of a paged read view once every
// releaseEvery pairs. n counts the pairs the worker has handled.
func release(view ttable.Table, n int) {
	if p, ok := view.(*ttable.Paged); ok && n%releaseEvery == 0 {
		p.Release()
	}
}

type partial struct {
	tt  ttable.Table
	at  *atable.Table
	pp  hmm.Perplexity
	ll  float64
	err error
}

// Iterate runs one EM iteration: an E-step over pairs split across workers,
// each with its own accumulator pair, then a merge and normalization that
// replace the model tables.
//
// With a paged table each worker's read view drops its rows every
// releaseEvery pairs. Accumulators share the model's prefix and cannot be
// written back before the merge, so each keeps the count rows its worker
// touched resident until the iteration ends. The merged table is evicted
// afterwards.
func (m *Model) Iterate(pairs []hmm.Pair, workers int) (IterationStats, error) {
	workers = max(1, min(workers, len(pairs)))
	parts := make([]*partial, workers)
	var wg sync.WaitGroup
	for w := range workers {
		part := &partial{tt: m.TTable.Clone(), at: m.ATable.Clone()}
		part.tt.Clear()
		part.at.Clear()
		parts[w] = part
		tt, at := readView(m.TTable), m.ATable
		wg.Go(func() {
			engine := m.engine()
			n := 0
			for i := w; i < len(pairs); i += workers {
				n++
				release(tt, n)
				res, err := engine.BaumWelch(pairs[i], tt, at, &part.pp)
				if err != nil {
					part.err = fmt.Errorf("pair %d: %w", i, err)
					return
				}
				if res.Degenerate {
					continue
				}
				part.ll += res.LogLikelihood
				if err := engine.AddPartialTranslationCountsToTTable(part.tt); err != nil {
					part.err = fmt.Errorf("pair %d: %w", i, err)
					return
				}
				if err := engine.AddPartialJumpCountsToATable(part.at); err != nil {
					part.err = fmt.Errorf("pair %d: %w", i, err)
					return
				}
			}
		})
	}
	wg.Wait()

	var errs []error
	for _, part := range parts {
		errs = append(errs, part.err)
	}
	if err := errors.Join(errs...); err != nil {
		return IterationStats{}, err
	}

	total := parts[0]
	for _, part := range parts[1:] {
		if err := ttable.Merge(total.tt, part.tt); err != nil {
			return IterationStats{}, fmt.Errorf("merge translation counts: %w", err)
		}
		if err := total.at.Merge(part.at); err != nil {
			return IterationStats{}, fmt.Errorf("merge jump counts: %w", err)
		}
		total.pp.Merge(&part.pp)
		total.ll += part.ll
	}

	if err := total.tt.Normalize(); err != nil {
		return IterationStats{}, fmt.Errorf("normalize translation table: %w", err)
	}
	total.at.Normalize()
	if p, ok := total.tt.(*ttable.Paged); ok {
		if err := p.Evict(); err != nil {
			return IterationStats{}, fmt.Errorf("evict paged rows: %w", err)
		}
	}
	m.TTable, m.ATable = total.tt, total.at
	return IterationStats{LogLikelihood: total.ll, Perplexity: total.pp}, nil
}
