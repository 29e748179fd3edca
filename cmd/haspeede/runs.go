package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/haspeede/report"
)

// runsCmd inspects the run store without touching any corpus.
func runsCmd(g *globals) *cobra.Command {
	var history string
	cmd := &cobra.Command{
		Use:   "runs [SEARCH_ID]",
		Short: "list stored searches, the rows of one search or the epochs of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			exp, err := g.experimentFile()
			if err != nil {
				return err
			}
			db, err := (&session{exp: exp}).openStore()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := db.Close(); err == nil {
					err = cerr
				}
			}()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case history != "":
				h, err := db.History(ctx, history)
				if err != nil {
					return err
				}
				report.WriteHistory(out, h)
			case len(args) == 1:
				rows, err := db.ListResults(ctx, args[0])
				if err != nil {
					return err
				}
				report.WriteResults(out, rows, exp.IsSpan())
			default:
				searches, err := db.Searches(ctx)
				if err != nil {
					return err
				}
				for _, sr := range searches {
					fmt.Fprintf(out, "%s\t%s\t%s\n", sr.ID, sr.Task, sr.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&history, "history", "", "print the epochs of this run id")
	return cmd
}
