package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/haspeede/experiment"
	"github.com/YuminosukeSato/haspeede/tokenizer"
)

func evaluateCmd(g *globals) *cobra.Command {
	var checkpoint, vocab string
	var batchSize int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "evaluate a saved checkpoint on the test sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := g.experimentFile()
			if err != nil {
				return err
			}
			paths := &session{exp: exp}
			if vocab == "" {
				if vocab, err = paths.output(vocabFile); err != nil {
					return err
				}
			}
			if checkpoint == "" {
				if checkpoint, err = paths.output(exp.Output.Checkpoint); err != nil {
					return err
				}
			}
			v, err := tokenizer.LoadVocabFile(vocab)
			if err != nil {
				return err
			}

			s, err := g.open(cmd, experiment.WithTokenizer(tokenizer.NewWordPiece(v)))
			if err != nil {
				return err
			}
			if err := s.setup.Load(); err != nil {
				return err
			}
			m, err := s.setup.Restore(cmd.Context(), s.device, checkpoint)
			if err != nil {
				return err
			}
			trainer, err := s.setup.NewTrainer(1)
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = s.exp.Final.BatchSize
			}
			tests, err := s.setup.EvaluateTests(cmd.Context(), trainer, m, batchSize)
			if err != nil {
				return err
			}
			return writeTests(cmd, s, tests)
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint path; defaults to the experiment's output")
	cmd.Flags().StringVar(&vocab, "vocab", "", "vocabulary saved by train; defaults to the experiment's output")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "evaluation batch size; defaults to the final batch size")
	return cmd
}
