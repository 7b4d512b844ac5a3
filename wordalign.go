// Package wordalign trains HMM word alignment models on sentence-aligned
// parallel text and aligns new sentence pairs with them.
//
//	fv, ev := corpus.NewVocab(), corpus.NewVocab()
//	pairs, _ := corpus.ReadParallelFiles("de.txt", "en.txt", fv, ev, corpus.Options{Grow: true})
//	m, _ := wordalign.Train(pairs, fv, ev, config.Default(), nil)
//	links, _, _ := m.Align(pairs, 4)
//	fmt.Println(links[0]) // "0-0 1-1"
package wordalign

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/happyhackingspace/wordalign/atable"
	"github.com/happyhackingspace/wordalign/hmm"
	"github.com/happyhackingspace/wordalign/internal/config"
	"github.com/happyhackingspace/wordalign/internal/corpus"
	"github.com/happyhackingspace/wordalign/internal/store"
	"github.com/happyhackingspace/wordalign/ttable"
)

// ErrEmptyCorpus is returned when training is given no sentence pairs.
var ErrEmptyCorpus = errors.New("wordalign: empty corpus")

// Blob names inside a model store.
const (
	metaBlob   = "meta.json"
	ttableBlob = "ttable.bin"
	atableBlob = "atable.bin"
	pagedDir   = "ttable"
)

// Model is a trained alignment model for one direction, foreign given
// english.
type Model struct {
	Foreign *corpus.Vocab
	English *corpus.Vocab
	Config  config.ModelConfig
	TTable  ttable.Table
	ATable  *atable.Table
}

type modelMeta struct {
	Foreign *corpus.Vocab      `json:"foreign"`
	English *corpus.Vocab      `json:"english"`
	Config  config.ModelConfig `json:"config"`
	Table   string             `json:"table"`
}

func tableKind(t ttable.Table) string {
	switch t.(type) {
	case *ttable.Paged:
		return config.TablePaged
	case *ttable.Dynamic:
		return config.TableDynamic
	default:
		return config.TableCompact
	}
}

func (m *Model) engine() *hmm.Engine {
	return hmm.NewEngine(m.Config.HMM())
}

// Save writes the model to st. A paged translation table already backed by
// st is flushed in place; any other table is serialized to ttable.bin.
func (m *Model) Save(st store.Store) error {
	if m.TTable == nil || m.ATable == nil {
		return fmt.Errorf("wordalign: model not initialized")
	}
	kind := tableKind(m.TTable)
	meta, err := json.Marshal(modelMeta{Foreign: m.Foreign, English: m.English, Config: m.Config, Table: kind})
	if err != nil {
		return fmt.Errorf("wordalign: encode meta: %w", err)
	}
	if err := st.Write(metaBlob, meta); err != nil {
		return fmt.Errorf("wordalign: %w", err)
	}

	if kind == config.TablePaged {
		p := m.TTable.(*ttable.Paged)
		if ps, prefix := p.Location(); ps == st && prefix == pagedDir {
			err = p.Flush()
		} else {
			_, err = ttable.PageOut(p, st, pagedDir)
		}
		if err != nil {
			return fmt.Errorf("wordalign: save translation table: %w", err)
		}
	} else {
		var buf bytes.Buffer
		if _, err := m.TTable.WriteTo(&buf); err != nil {
			return fmt.Errorf("wordalign: encode translation table: %w", err)
		}
		if err := st.Write(ttableBlob, buf.Bytes()); err != nil {
			return fmt.Errorf("wordalign: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := m.ATable.WriteTo(&buf); err != nil {
		return fmt.Errorf("wordalign: encode distortion table: %w", err)
	}
	if err := st.Write(atableBlob, buf.Bytes()); err != nil {
		return fmt.Errorf("wordalign: %w", err)
	}
	return nil
}

// Load reads a model written by Save. A paged model keeps reading its rows
// from st, so st must stay open while the model is in use.
func Load(st store.Store) (*Model, error) {
	data, err := st.Read(metaBlob)
	if err != nil {
		return nil, fmt.Errorf("wordalign: %w", err)
	}
	var meta modelMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("wordalign: decode meta: %w", err)
	}
	if meta.Foreign == nil || meta.English == nil {
		return nil, fmt.Errorf("wordalign: meta has no vocabularies")
	}
	m := &Model{Foreign: meta.Foreign, English: meta.English, Config: meta.Config}

	switch meta.Table {
	case config.TablePaged:
		p, err := ttable.OpenPaged(st, pagedDir)
		if err != nil {
			return nil, fmt.Errorf("wordalign: %w", err)
		}
		m.TTable = p
	case config.TableDynamic, config.TableCompact, "":
		var t ttable.Table = &ttable.Compact{}
		if meta.Table == config.TableDynamic {
			t = ttable.NewDynamic(0, 0)
		}
		data, err := st.Read(ttableBlob)
		if err != nil {
			return nil, fmt.Errorf("wordalign: %w", err)
		}
		if _, err := t.ReadFrom(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("wordalign: %w", err)
		}
		m.TTable = t
	default:
		return nil, fmt.Errorf("wordalign: unknown table strategy %q", meta.Table)
	}

	data, err = st.Read(atableBlob)
	if err != nil {
		return nil, fmt.Errorf("wordalign: %w", err)
	}
	m.ATable = atable.New(0, false)
	if _, err := m.ATable.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("wordalign: %w", err)
	}
	return m, nil
}
