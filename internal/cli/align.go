package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/wordalign"
	"github.com/happyhackingspace/wordalign/alignment"
	"github.com/happyhackingspace/wordalign/hmm"
	"github.com/happyhackingspace/wordalign/internal/config"
	"github.com/happyhackingspace/wordalign/internal/corpus"
	"github.com/happyhackingspace/wordalign/internal/store"
)

// openModel loads a model. The returned store must be closed after the
// model is no longer used.
func openModel(cfg *config.Config, path string) (*wordalign.Model, store.Store, error) {
	st, err := cfg.Store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := wordalign.Load(st)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("load model %s: %w", path, err)
	}
	slog.Debug("Model loaded", "path", path, "foreign_vocab", m.Foreign.Size(), "english_vocab", m.English.Size())
	return m, st, nil
}

func readPairs(m *wordalign.Model, foreignPath, englishPath string) ([]hmm.Pair, error) {
	return corpus.ReadParallelFiles(foreignPath, englishPath, m.Foreign, m.English,
		corpus.Options{Lowercase: m.Config.Lowercase})
}

func writeAlignments(w io.Writer, links []*alignment.Alignment) error {
	bw := bufio.NewWriter(w)
	for _, a := range links {
		if _, err := fmt.Fprintln(bw, a.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (c *CLI) newAlignCommand() *cobra.Command {
	var modelPath, inversePath, foreignPath, englishPath, outputPath, symmetrize string
	var workers int

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align parallel text with a trained model",
		Example: `  # One "f-e f-e ..." line per sentence pair on stdout
  wordalign align --model model -f test.de -e test.en

  # Combine both directions
  wordalign align --model model --inverse model.inv -f test.de -e test.en --symmetrize union

  # Write to a file
  wordalign align --model model -f test.de -e test.en -o test.align`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			m, st, err := openModel(cfg, modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			pairs, err := readPairs(m, foreignPath, englishPath)
			if err != nil {
				return err
			}

			start := time.Now()
			var links []*alignment.Alignment
			if inversePath == "" {
				var pp hmm.Perplexity
				links, pp, err = m.Align(pairs, workers)
				if err != nil {
					return err
				}
				slog.Info("Aligned", "pairs", len(pairs), "cross_entropy", pp.CrossEntropy(),
					"perplexity", pp.Perplexity(), "degenerate", pp.Degenerate)
			} else {
				how, err := wordalign.ParseSymmetrization(symmetrize)
				if err != nil {
					return err
				}
				inv, invStore, err := openModel(cfg, inversePath)
				if err != nil {
					return err
				}
				defer func() { _ = invStore.Close() }()
				links, err = m.AlignSymmetric(inv, pairs, how, workers)
				if err != nil {
					return err
				}
				slog.Info("Aligned", "pairs", len(pairs), "symmetrize", symmetrize)
			}
			slog.Debug("Alignment completed", "duration", time.Since(start))

			out := io.Writer(os.Stdout)
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return writeAlignments(out, links)
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "model", "Trained model location")
	cmd.Flags().StringVar(&inversePath, "inverse", "", "Model trained in the opposite direction, enables symmetrization")
	cmd.Flags().StringVarP(&foreignPath, "foreign", "f", "", "Foreign side, one sentence per line")
	cmd.Flags().StringVarP(&englishPath, "english", "e", "", "English side, one sentence per line")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write alignments here instead of stdout")
	cmd.Flags().StringVar(&symmetrize, "symmetrize", "intersect", "Combination of both directions: intersect or union")
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Parallel workers")
	_ = cmd.MarkFlagRequired("foreign")
	_ = cmd.MarkFlagRequired("english")
	return cmd
}
