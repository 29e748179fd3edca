package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/haspeede/corpus"
	"github.com/YuminosukeSato/haspeede/experiment"
	"github.com/YuminosukeSato/haspeede/metrics"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/report"
	"github.com/YuminosukeSato/haspeede/training"
)

const vocabFile = "vocab.txt"

func trainCmd(g *globals) *cobra.Command {
	var (
		checkpointEvery int
		timeLimit       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "fit the final configuration, save it and evaluate the test sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			if err := s.setup.Load(); err != nil {
				return err
			}
			checkpoint, err := s.output(s.exp.Output.Checkpoint)
			if err != nil {
				return err
			}

			var callbacks []training.Callback
			if checkpointEvery > 0 {
				ext := filepath.Ext(checkpoint)
				pattern := strings.TrimSuffix(checkpoint, ext) + "-epoch%d" + ext
				callbacks = append(callbacks, training.ModelCheckpoint(pattern, checkpointEvery, true))
			}
			if timeLimit > 0 {
				callbacks = append(callbacks, training.TimeLimit(timeLimit))
			}
			run, err := s.setup.FitFinal(ctx, s.device, training.WithCallbacks(callbacks...))
			if err != nil {
				return err
			}

			if err := run.Model.Save(checkpoint); err != nil {
				return err
			}
			vocab, err := s.output(vocabFile)
			if err != nil {
				return err
			}
			if err := s.setup.Tokenizer().Vocab().SaveFile(vocab); err != nil {
				return err
			}
			s.logger.Info("model saved", "checkpoint", checkpoint, "vocab", vocab)

			out := cmd.OutOrStdout()
			report.WriteHistory(out, run.History)
			if err := s.saveHistory(cmd, run.History); err != nil {
				return err
			}
			if s.exp.Output.Plots {
				path, err := s.output("history.png")
				if err != nil {
					return err
				}
				if err := report.PlotHistory(run.History, s.exp.Task, path); err != nil {
					return err
				}
			}

			tests, err := s.setup.EvaluateTests(ctx, run.Trainer, run.Model, run.Config.BatchSize)
			if err != nil {
				return err
			}
			return writeTests(cmd, s, tests)
		},
	}
	cmd.Flags().IntVar(&checkpointEvery, "checkpoint-every", 0, "also save a checkpoint every N epochs when the validation loss improves")
	cmd.Flags().DurationVar(&timeLimit, "time-limit", 0, "stop after the epoch that exceeds this duration")
	return cmd
}

// saveHistory records the final fit in the run store under a fresh run id.
func (s *session) saveHistory(cmd *cobra.Command, h *training.History) (err error) {
	if s.exp.Output.Store == "" {
		return nil
	}
	db, err := s.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	runID := uuid.NewString()
	if err := db.SaveHistory(cmd.Context(), runID, h); err != nil {
		return err
	}
	s.logger.Info("history stored", log.RunIDKey, runID)
	return nil
}

func labelNames(span bool, labels []int) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		if span {
			names[i] = corpus.Tag(l).String()
		} else {
			names[i] = strconv.Itoa(l)
		}
	}
	return names
}

func writeTests(cmd *cobra.Command, s *session, tests []experiment.TestReport) error {
	out := cmd.OutOrStdout()
	labels := s.setup.Task().ReportLabels()
	names := labelNames(s.exp.IsSpan(), labels)
	for _, t := range tests {
		ev := t.Evaluation
		fmt.Fprintf(out, "\n%s (loss %.4f)\n", t.Name, ev.Loss)
		report.WriteClassification(out, ev.Report)
		cm, err := metrics.ConfusionMatrix(ev.Targets, ev.Predictions, labels)
		if err != nil {
			return err
		}
		report.WriteConfusion(out, cm, names)
	}
	return nil
}
