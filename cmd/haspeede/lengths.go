package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/dataset"
	"github.com/YuminosukeSato/haspeede/report"
)

// tokenLengths counts the real tokens of every example.
func tokenLengths(ds *dataset.Dataset) []int {
	out := make([]int, 0, ds.Len())
	for _, mask := range ds.Inputs.Mask {
		n := 0
		for _, m := range mask {
			n += m
		}
		out = append(out, n)
	}
	return out
}

func lengthsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "lengths",
		Short: "plot the token length distribution of the training split, to choose max_len",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			if err := s.setup.Load(); err != nil {
				return err
			}
			split, err := s.setup.Prepare(cmd.Context(), repro.New(s.device, s.exp.Final.Seed), s.exp.SubsetLen)
			if err != nil {
				return err
			}
			path, err := s.output("lengths.png")
			if err != nil {
				return err
			}
			if err := report.PlotLengths(tokenLengths(split.Train), s.exp.Task+" token lengths", path); err != nil {
				return err
			}
			s.logger.Info("length histogram written", "path", path)
			return nil
		},
	}
}
