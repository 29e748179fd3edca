package main

import (
	"github.com/spf13/cobra"
)

func configCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective experiment file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := g.experimentFile()
			if err != nil {
				return err
			}
			if err := exp.Validate(); err != nil {
				return err
			}
			return exp.Write(cmd.OutOrStdout())
		},
	}
}
