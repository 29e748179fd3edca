// Package report renders search results, classification reports and training
// histories for people: plain-text tables and plots.
package report

import (
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/metrics"
	"github.com/YuminosukeSato/haspeede/training"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_RIGHT)
	return t
}

func f(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func g(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteResults writes one row per grid cell. withPR adds the macro precision
// and recall columns recorded for the span task.
func WriteResults(w io.Writer, rows []gridsearch.Result, withPR bool) {
	header := []string{"learning_rate", "class_weight", "seed", "batch_size", "dropout_rate", "val_loss", "f1_score"}
	if withPR {
		header = append(header, "precision", "recall")
	}
	t := newTable(w, header)
	for _, r := range rows {
		row := []string{
			g(r.LearningRate),
			g(r.ClassWeight),
			strconv.FormatInt(r.Seed, 10),
			strconv.Itoa(r.BatchSize),
			g(r.Dropout),
			f(r.ValLoss, 4),
			f(r.MacroF1, 4),
		}
		if withPR {
			row = append(row, f(r.MacroPrecision, 4), f(r.MacroRecall, 4))
		}
		t.Append(row)
	}
	t.Render()
}

// WriteBest writes the best row by macro F1 and the best row by validation
// loss. The two are not reconciled.
func WriteBest(w io.Writer, res *gridsearch.Results) {
	t := newTable(w, []string{"criterion", "seed", "batch_size", "dropout_rate", "val_loss", "f1_score", "epochs"})
	for _, c := range []gridsearch.Criterion{gridsearch.ByF1, gridsearch.ByValLoss} {
		best, ok := res.Best(c)
		if !ok {
			continue
		}
		t.Append([]string{
			c.String(),
			strconv.FormatInt(best.Seed, 10),
			strconv.Itoa(best.BatchSize),
			g(best.Dropout),
			f(best.ValLoss, 4),
			f(best.MacroF1, 4),
			strconv.Itoa(best.Epochs),
		})
	}
	t.Render()
}

// WriteAggregates writes mean and standard deviation of macro F1 per value
// of one hyperparameter.
func WriteAggregates(w io.Writer, name string, aggs []gridsearch.Aggregate) {
	t := newTable(w, []string{name, "cells", "mean_f1", "std_f1"})
	for _, a := range aggs {
		t.Append([]string{g(a.Value), strconv.Itoa(a.Count), f(a.MeanF1, 4), f(a.StdF1, 4)})
	}
	t.Render()
}

func className(c metrics.ClassMetrics) string {
	if c.Name != "" {
		return c.Name
	}
	return strconv.Itoa(c.Label)
}

// WriteClassification writes a report in the layout of scikit-learn's
// classification_report.
func WriteClassification(w io.Writer, r *metrics.Report) {
	t := newTable(w, []string{"", "precision", "recall", "f1-score", "support"})
	for _, c := range r.Classes {
		t.Append([]string{className(c), f(c.Precision, 2), f(c.Recall, 2), f(c.F1, 2), strconv.Itoa(c.Support)})
	}
	avg := func(name string, a metrics.Average) {
		t.Append([]string{name, f(a.Precision, 2), f(a.Recall, 2), f(a.F1, 2), strconv.Itoa(a.Support)})
	}
	if r.MicroAvg != nil {
		avg("micro avg", *r.MicroAvg)
	} else {
		t.Append([]string{"accuracy", "", "", f(r.Accuracy, 2), strconv.Itoa(r.WeightedAvg.Support)})
	}
	avg("macro avg", r.MacroAvg)
	avg("weighted avg", r.WeightedAvg)
	t.Render()
}

// WriteConfusion writes a confusion matrix with true labels as rows.
func WriteConfusion(w io.Writer, cm *mat.Dense, names []string) {
	header := append([]string{"true \\ pred"}, names...)
	t := newTable(w, header)
	rows, cols := cm.Dims()
	for i := 0; i < rows; i++ {
		row := make([]string, 0, cols+1)
		row = append(row, names[i])
		for j := 0; j < cols; j++ {
			row = append(row, strconv.Itoa(int(cm.At(i, j))))
		}
		t.Append(row)
	}
	t.Render()
}

// WriteHistory writes one row per epoch.
func WriteHistory(w io.Writer, h *training.History) {
	t := newTable(w, []string{"epoch", "train_loss", "val_loss", "f1_score", "duration"})
	for _, e := range h.Epochs {
		t.Append([]string{
			strconv.Itoa(e.Epoch),
			f(e.TrainLoss, 4),
			f(e.ValLoss, 4),
			f(e.MacroF1(), 4),
			e.Duration.Round(time.Millisecond).String(),
		})
	}
	t.Render()
}
