package hmm

import "math"

// Perplexity accumulates per-pair log probabilities over a corpus.
// Pairs with zero probability are counted in Degenerate and left out of
// the totals.
type Perplexity struct {
	LogProb    float64 // natural log
	Words      int
	Pairs      int
	Degenerate int
}

// Report implements Reporter.
func (p *Perplexity) Report(logProb float64, words int) {
	if math.IsInf(logProb, -1) || math.IsNaN(logProb) {
		p.Degenerate++
		return
	}
	p.LogProb += logProb
	p.Words += words
	p.Pairs++
}

// Merge adds the totals of o to p.
func (p *Perplexity) Merge(o *Perplexity) {
	p.LogProb += o.LogProb
	p.Words += o.Words
	p.Pairs += o.Pairs
	p.Degenerate += o.Degenerate
}

// CrossEntropy returns the average negative log2 probability per foreign
// word.
func (p *Perplexity) CrossEntropy() float64 {
	if p.Words == 0 {
		return 0
	}
	return -p.LogProb / (float64(p.Words) * math.Ln2)
}

// Perplexity returns 2^CrossEntropy.
func (p *Perplexity) Perplexity() float64 {
	return math.Exp2(p.CrossEntropy())
}
