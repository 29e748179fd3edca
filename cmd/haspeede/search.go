package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/report"
	"github.com/YuminosukeSato/haspeede/store"
)

func searchCmd(g *globals) *cobra.Command {
	var (
		maxEpochs       int
		continueOnError bool
		noStore         bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "train one model per grid cell and report validation metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			if maxEpochs > 0 {
				s.exp.MaxEpochs = maxEpochs
			}
			if err := s.setup.Load(); err != nil {
				return err
			}
			trainer, err := s.setup.NewTrainer(s.exp.MaxEpochs)
			if err != nil {
				return err
			}

			opts := []gridsearch.Option{
				gridsearch.WithLogger(s.logger),
				gridsearch.WithFixed(s.exp.LearningRate, s.exp.ClassWeight),
			}
			if continueOnError || s.exp.ContinueOnError {
				opts = append(opts, gridsearch.WithContinueOnError())
			}
			if !noStore && s.exp.Output.Store != "" {
				var db *store.Store
				if db, err = s.openStore(); err != nil {
					return err
				}
				defer func() {
					if cerr := db.Close(); err == nil {
						err = cerr
					}
				}()
				opts = append(opts, gridsearch.WithResultHook(db.Hook(ctx, s.exp.Task)))
			}

			d, err := gridsearch.NewDriver(s.exp.Grid, trainer, s.setup.Data(), s.setup.ModelFactory(), opts...)
			if err != nil {
				return err
			}
			res, runErr := d.Run(ctx, repro.New(s.device, 0))
			if res != nil && res.Len() > 0 {
				if err := writeSearch(cmd, s, res); err != nil {
					return errors.Wrap(err, "write search report")
				}
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&maxEpochs, "max-epochs", 0, "override max_epochs of the experiment")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "record failing cells and keep searching")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not write results to the run store")
	return cmd
}

func writeSearch(cmd *cobra.Command, s *session, res *gridsearch.Results) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "search %s: %d cells\n", res.SearchID, res.Len())
	report.WriteResults(out, res.Rows(), s.exp.IsSpan())
	fmt.Fprintln(out)
	report.WriteBest(out, res)
	fmt.Fprintln(out)
	report.WriteAggregates(out, "dropout_rate", res.AggregateBy(gridsearch.ByDropout))
	report.WriteAggregates(out, "batch_size", res.AggregateBy(gridsearch.ByBatchSize))
	report.WriteAggregates(out, "seed", res.AggregateBy(gridsearch.BySeed))
	for _, f := range res.Failures() {
		fmt.Fprintln(out, "failed:", f)
	}
	if !s.exp.Output.Plots {
		return nil
	}
	path, err := s.output("search-" + res.SearchID + ".png")
	if err != nil {
		return err
	}
	return report.PlotSearch(res, path)
}
