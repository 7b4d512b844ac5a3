package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/wordalign"
	"github.com/happyhackingspace/wordalign/hmm"
	"github.com/happyhackingspace/wordalign/internal/corpus"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	var foreignPath, englishPath, outPath, inversePath string
	var iterations, workers int
	var table string
	var nullWord bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an HMM alignment model on parallel text",
		Example: `  wordalign train --foreign corpus.de --english corpus.en --out model
  wordalign train -f corpus.de -e corpus.en --out model --inverse model.inv --null-word
  wordalign train -f corpus.de -e corpus.en --out model --table paged -c wordalign.yaml -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("iterations") {
				cfg.Train.Iterations = iterations
			}
			if flags.Changed("workers") {
				cfg.Train.Workers = workers
			}
			if flags.Changed("table") {
				cfg.Train.Table = table
			}
			if flags.Changed("null-word") {
				cfg.Model.NullWord = nullWord
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			fv, ev := corpus.NewVocab(), corpus.NewVocab()
			pairs, err := corpus.ReadParallelFiles(foreignPath, englishPath, fv, ev,
				corpus.Options{Lowercase: cfg.Model.Lowercase, Grow: true})
			if err != nil {
				return err
			}
			slog.Info("Corpus loaded", "pairs", len(pairs), "foreign_vocab", fv.Size(), "english_vocab", ev.Size())

			train := func(pairs []hmm.Pair, fv, ev *corpus.Vocab, out string) error {
				st, err := cfg.Store.Open(out)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()

				slog.Info("Training model", "output", out, "iterations", cfg.Train.Iterations, "table", cfg.Train.Table)
				start := time.Now()
				m, err := wordalign.Train(pairs, fv, ev, cfg, st)
				if err != nil {
					return err
				}
				slog.Debug("Training completed", "duration", time.Since(start))
				if err := m.Save(st); err != nil {
					return err
				}
				slog.Info("Model saved", "path", out)
				return nil
			}

			if err := train(pairs, fv, ev, outPath); err != nil {
				return err
			}
			if inversePath == "" {
				return nil
			}
			swapped := make([]hmm.Pair, len(pairs))
			for i, p := range pairs {
				swapped[i] = hmm.Pair{F: p.E, E: p.F}
			}
			return train(swapped, ev, fv, inversePath)
		},
	}

	cmd.Flags().StringVarP(&foreignPath, "foreign", "f", "", "Foreign side of the corpus, one sentence per line")
	cmd.Flags().StringVarP(&englishPath, "english", "e", "", "English side of the corpus, one sentence per line")
	cmd.Flags().StringVarP(&outPath, "out", "o", "model", "Model output location (directory or sqlite file)")
	cmd.Flags().StringVar(&inversePath, "inverse", "", "Also train the english-given-foreign model here")
	cmd.Flags().IntVarP(&iterations, "iterations", "i", 5, "Number of EM iterations")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel workers (0: all CPUs)")
	cmd.Flags().StringVar(&table, "table", "compact", "Translation table strategy: compact, dynamic or paged")
	cmd.Flags().BoolVar(&nullWord, "null-word", false, "Add a null state to the HMM")
	_ = cmd.MarkFlagRequired("foreign")
	_ = cmd.MarkFlagRequired("english")
	return cmd
}
