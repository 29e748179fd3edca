package report

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/training"
)

// Plot size in inches.
const (
	plotWidth  = 8
	plotHeight = 5
)

func series(values []float64) plotter.XYs {
	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(i + 1)
		xys[i].Y = v
	}
	return xys
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(plotWidth*vg.Inch, plotHeight*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

// PlotHistory draws train loss, validation loss and macro F1 per epoch. The
// image format follows the extension of path (.png, .svg, .pdf).
func PlotHistory(h *training.History, title, path string) error {
	if h.Len() == 0 {
		return errors.Wrap(errors.ErrEmptyData, "plot history")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Legend.Top = true

	if err := plotutil.AddLinePoints(p,
		"train_loss", series(h.TrainLosses()),
		"val_loss", series(h.ValLosses()),
		"F1 score", series(h.MacroF1s()),
	); err != nil {
		return errors.Wrap(err, "plot history")
	}
	return save(p, path)
}

// PlotSearch draws macro F1 against dropout, one line per seed and batch
// size pair.
func PlotSearch(res *gridsearch.Results, path string) error {
	rows := res.Rows()
	if len(rows) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "plot search")
	}
	type key struct {
		seed  int64
		batch int
	}
	groups := map[key]plotter.XYs{}
	var keys []key
	for _, r := range rows {
		k := key{r.Seed, r.BatchSize}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], plotter.XY{X: r.Dropout, Y: r.MacroF1})
	}

	p := plot.New()
	p.Title.Text = "Grid search"
	p.X.Label.Text = "dropout rate"
	p.Y.Label.Text = "macro F1 (last epoch)"
	var args []interface{}
	for _, k := range keys {
		xys := groups[k]
		sort.Slice(xys, func(i, j int) bool { return xys[i].X < xys[j].X })
		args = append(args, fmt.Sprintf("seed=%d bs=%d", k.seed, k.batch), xys)
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return errors.Wrap(err, "plot search")
	}
	return save(p, path)
}

// PlotLengths draws a histogram of sample lengths with one bin per length.
func PlotLengths(lengths []int, title, path string) error {
	if len(lengths) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "plot lengths")
	}
	values := make(plotter.Values, len(lengths))
	lo, hi := lengths[0], lengths[0]
	for i, l := range lengths {
		values[i] = float64(l)
		lo, hi = min(lo, l), max(hi, l)
	}
	h, err := plotter.NewHist(values, hi-lo+1)
	if err != nil {
		return errors.Wrap(err, "plot lengths")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Length of sample"
	p.Y.Label.Text = "Frequency"
	p.Add(h)
	return save(p, path)
}
