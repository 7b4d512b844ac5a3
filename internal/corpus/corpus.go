package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/happyhackingspace/wordalign/alignment"
	"github.com/happyhackingspace/wordalign/hmm"
)

// ErrLineCount is returned when the sides of a parallel corpus differ in
// length.
var ErrLineCount = errors.New("corpus: parallel files differ in line count")

// maxLine bounds a single corpus line.
const maxLine = 1 << 20

// Options controls how text is turned into ids.
type Options struct {
	// Lowercase folds case before lookup.
	Lowercase bool
	// Grow adds unseen words to the vocabularies. When false, unseen words
	// map to Vocab.Lookup's out-of-vocabulary id.
	Grow bool
}

// Tokenize splits a line on whitespace.
func Tokenize(line string, lowercase bool) []string {
	if lowercase {
		line = strings.ToLower(line)
	}
	return strings.Fields(line)
}

func ids(v *Vocab, tokens []string, grow bool) []int {
	out := make([]int, len(tokens))
	for i, tok := range tokens {
		if grow {
			out[i] = v.Add(tok)
		} else {
			out[i] = v.Lookup(tok)
		}
	}
	return out
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return sc
}

// ReadParallel reads one sentence per line from foreign and english and
// returns the pairs as ids of fv and ev.
func ReadParallel(foreign, english io.Reader, fv, ev *Vocab, opts Options) ([]hmm.Pair, error) {
	fs, es := newScanner(foreign), newScanner(english)
	var pairs []hmm.Pair
	for line := 1; ; line++ {
		fok, eok := fs.Scan(), es.Scan()
		if !fok || !eok {
			if err := errors.Join(fs.Err(), es.Err()); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if fok != eok {
				return nil, fmt.Errorf("%w (at line %d)", ErrLineCount, line)
			}
			return pairs, nil
		}
		pairs = append(pairs, hmm.Pair{
			F: ids(fv, Tokenize(fs.Text(), opts.Lowercase), opts.Grow),
			E: ids(ev, Tokenize(es.Text(), opts.Lowercase), opts.Grow),
		})
	}
}

// ReadParallelFiles opens both sides of a corpus and calls ReadParallel.
func ReadParallelFiles(foreignPath, englishPath string, fv, ev *Vocab, opts Options) ([]hmm.Pair, error) {
	f, err := os.Open(foreignPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	e, err := os.Open(englishPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.Close() }()
	pairs, err := ReadParallel(f, e, fv, ev, opts)
	if err != nil {
		return nil, fmt.Errorf("%s / %s: %w", foreignPath, englishPath, err)
	}
	return pairs, nil
}

// ReadReferences reads one reference alignment per line ("f-e" sure,
// "f?e" probable), sized by the matching pair.
func ReadReferences(r io.Reader, pairs []hmm.Pair) ([]*alignment.ReferenceAlignment, error) {
	sc := newScanner(r)
	refs := make([]*alignment.ReferenceAlignment, 0, len(pairs))
	for sc.Scan() {
		i := len(refs)
		if i >= len(pairs) {
			return nil, fmt.Errorf("%w: more references than sentence pairs", ErrLineCount)
		}
		ref, err := alignment.ParseReference(len(pairs[i].F), len(pairs[i].E), sc.Text())
		if err != nil {
			return nil, fmt.Errorf("reference line %d: %w", i+1, err)
		}
		refs = append(refs, ref)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(refs) != len(pairs) {
		return nil, fmt.Errorf("%w: %d references for %d sentence pairs", ErrLineCount, len(refs), len(pairs))
	}
	return refs, nil
}

// ReadReferenceFile opens path and calls ReadReferences.
func ReadReferenceFile(path string, pairs []hmm.Pair) ([]*alignment.ReferenceAlignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadReferences(f, pairs)
}
