package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/wordalign"
)

func (c *CLI) newInspectCommand() *cobra.Command {
	var modelPath string
	var top, length int

	cmd := &cobra.Command{
		Use:   "inspect [english-word...]",
		Short: "Show the most likely translations of english words and the jump distribution",
		Example: `  wordalign inspect house book --model model --top 5
  wordalign inspect --model model --length 12`,
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

			for _, word := range args {
				if err := printTranslations(m, word, top); err != nil {
					return err
				}
			}
			printJumps(m, length)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "model", "Trained model location")
	cmd.Flags().IntVarP(&top, "top", "n", 10, "Number of translations to show per word")
	cmd.Flags().IntVar(&length, "length", 10, "English sentence length selecting the jump distribution")
	return cmd
}

func printTranslations(m *wordalign.Model, word string, top int) error {
	e := m.English.Get(word)
	if e < 0 {
		fmt.Printf("%s: not in vocabulary\n", word)
		return nil
	}
	type candidate struct {
		f string
		p float32
	}
	var cands []candidate
	for f := 1; f < m.Foreign.Size(); f++ {
		p, err := m.TTable.Get(e, f)
		if err != nil {
			return err
		}
		if p > 0 {
			cands = append(cands, candidate{m.Foreign.Word(f), p})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].p != cands[j].p {
			return cands[i].p > cands[j].p
		}
		return cands[i].f < cands[j].f
	})
	if len(cands) > top {
		cands = cands[:top]
	}
	fmt.Printf("%s:\n", word)
	for _, c := range cands {
		fmt.Printf("  %-20s %.4f\n", c.f, c.p)
	}
	return nil
}

func printJumps(m *wordalign.Model, length int) {
	fmt.Printf("Jump distribution (length %d):\n", length)
	for j := -m.ATable.MaxJump(); j <= m.ATable.MaxJump(); j++ {
		fmt.Printf("  %+4d %.4f\n", j, m.ATable.Get(j, length))
	}
}
