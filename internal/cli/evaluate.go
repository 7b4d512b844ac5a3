package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/wordalign/internal/corpus"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var modelPath, foreignPath, englishPath, referencePath string
	var workers int

	cmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "Score model alignments against reference alignments (AER)",
		Example: `  wordalign evaluate --model model -f test.de -e test.en --reference test.wa`,
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
			refs, err := corpus.ReadReferenceFile(referencePath, pairs)
			if err != nil {
				return err
			}

			slog.Info("Evaluating", "pairs", len(pairs), "reference", referencePath)
			start := time.Now()
			er, pp, err := m.Evaluate(pairs, refs, workers)
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			fmt.Printf("Precision: %.1f%% (%d/%d links)\n", er.Precision()*100, er.ProbableHits, er.Candidates)
			fmt.Printf("Recall: %.1f%% (%d/%d sure links)\n", er.Recall()*100, er.SureHits, er.Sure)
			fmt.Printf("AER: %.2f%%\n", er.AER()*100)
			fmt.Printf("Cross entropy: %.3f bits/word (perplexity %.2f)\n", pp.CrossEntropy(), pp.Perplexity())
			if pp.Degenerate > 0 {
				fmt.Printf("Degenerate pairs: %d\n", pp.Degenerate)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "model", "Trained model location")
	cmd.Flags().StringVarP(&foreignPath, "foreign", "f", "", "Foreign side, one sentence per line")
	cmd.Flags().StringVarP(&englishPath, "english", "e", "", "English side, one sentence per line")
	cmd.Flags().StringVarP(&referencePath, "reference", "r", "", "Reference alignments, f-e sure and f?e probable links")
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Parallel workers")
	_ = cmd.MarkFlagRequired("foreign")
	_ = cmd.MarkFlagRequired("english")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}
