// Package metrics は分類タスクの評価指標を提供します。
//
// scikit-learnのclassification_reportと同じ定義で、クラスごとの適合率・再現率・F1・サポートと
// マクロ平均・重み付き平均を計算します。分母が0になる指標は0とし、UndefinedMetricWarningを発行します。
package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// ClassMetrics は1クラス分の指標
type ClassMetrics struct {
	Label     int     `json:"label"`
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Average は複数クラスを集約した指標
type Average struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report は分類レポート
type Report struct {
	Classes []ClassMetrics `json:"classes"`
	// Accuracy は全サンプルに対する正解率
	Accuracy float64 `json:"accuracy"`
	// MicroAvg はラベルの部分集合を指定した場合のみ設定される
	MicroAvg    *Average `json:"micro avg,omitempty"`
	MacroAvg    Average  `json:"macro avg"`
	WeightedAvg Average  `json:"weighted avg"`
}

// Class はラベルの指標を返す
func (r *Report) Class(label int) (ClassMetrics, bool) {
	for _, c := range r.Classes {
		if c.Label == label {
			return c, true
		}
	}
	return ClassMetrics{}, false
}

// Labels はレポート対象のラベル
func (r *Report) Labels() []int {
	out := make([]int, len(r.Classes))
	for i, c := range r.Classes {
		out[i] = c.Label
	}
	return out
}

// ReportOption はClassificationReportの設定
type ReportOption func(*reportConfig)

type reportConfig struct {
	labels []int
	names  map[int]string
	quiet  bool
}

// WithLabels は評価するラベルを限定する。指定しない場合はyTrueとyPredに現れる全ラベル。
func WithLabels(labels ...int) ReportOption {
	return func(c *reportConfig) { c.labels = append([]int{}, labels...) }
}

// WithTargetNames はラベルの表示名を設定する
func WithTargetNames(names map[int]string) ReportOption {
	return func(c *reportConfig) { c.names = names }
}

// WithoutWarnings はUndefinedMetricWarningを抑制する
func WithoutWarnings() ReportOption {
	return func(c *reportConfig) { c.quiet = true }
}

// ConfusionMatrix は labels×labels の混同行列を返す。行が正解、列が予測。
// labelsに含まれないサンプルは数えない。
func ConfusionMatrix(yTrue, yPred []int, labels []int) (*mat.Dense, error) {
	if err := checkPair("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "no labels")
	}
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := range yTrue {
		r, okT := index[yTrue[i]]
		c, okP := index[yPred[i]]
		if okT && okP {
			cm.Set(r, c, cm.At(r, c)+1)
		}
	}
	return cm, nil
}

// ClassificationReport はクラスごとの適合率・再現率・F1・サポートとその平均を計算する。
//
// 使用例:
//
//	rep, err := metrics.ClassificationReport(yTrue, yPred, metrics.WithLabels(1, 2))
//	fmt.Println(rep.MacroAvg.F1)
func ClassificationReport(yTrue, yPred []int, opts ...ReportOption) (*Report, error) {
	if err := checkPair("ClassificationReport", yTrue, yPred); err != nil {
		return nil, err
	}
	cfg := reportConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	subset := cfg.labels != nil
	labels := cfg.labels
	if !subset {
		labels = uniqueLabels(yTrue, yPred)
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ClassificationReport", "no labels")
	}

	// 部分集合の外のラベルも偽陽性・偽陰性として数えるため、個別に集計する
	tp := make([]float64, len(labels))
	fp := make([]float64, len(labels))
	fn := make([]float64, len(labels))
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	correct := 0
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t == p {
			correct++
			if k, ok := index[t]; ok {
				tp[k]++
			}
			continue
		}
		if k, ok := index[p]; ok {
			fp[k]++
		}
		if k, ok := index[t]; ok {
			fn[k]++
		}
	}

	rep := &Report{
		Classes:  make([]ClassMetrics, len(labels)),
		Accuracy: float64(correct) / float64(len(yTrue)),
	}
	support := make([]float64, len(labels))
	for k, l := range labels {
		support[k] = tp[k] + fn[k]
		cm := ClassMetrics{
			Label:     l,
			Name:      cfg.name(l),
			Precision: ratio(tp[k], tp[k]+fp[k], "precision", l, "no predicted samples", cfg.quiet),
			Recall:    ratio(tp[k], tp[k]+fn[k], "recall", l, "no true samples", cfg.quiet),
			F1:        ratio(2*tp[k], 2*tp[k]+fp[k]+fn[k], "f1-score", l, "no true nor predicted samples", cfg.quiet),
			Support:   int(support[k]),
		}
		rep.Classes[k] = cm
	}

	prec, rec, f1 := columns(rep.Classes)
	total := floats.Sum(support)
	rep.MacroAvg = Average{
		Precision: floats.Sum(prec) / float64(len(labels)),
		Recall:    floats.Sum(rec) / float64(len(labels)),
		F1:        floats.Sum(f1) / float64(len(labels)),
		Support:   int(total),
	}
	rep.WeightedAvg = Average{Support: int(total)}
	if total > 0 {
		rep.WeightedAvg.Precision = floats.Dot(prec, support) / total
		rep.WeightedAvg.Recall = floats.Dot(rec, support) / total
		rep.WeightedAvg.F1 = floats.Dot(f1, support) / total
	}
	if subset {
		sTP, sFP, sFN := floats.Sum(tp), floats.Sum(fp), floats.Sum(fn)
		rep.MicroAvg = &Average{
			Precision: errors.SafeDivide(sTP, sTP+sFP),
			Recall:    errors.SafeDivide(sTP, sTP+sFN),
			F1:        errors.SafeDivide(2*sTP, 2*sTP+sFP+sFN),
			Support:   int(total),
		}
	}
	return rep, nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := checkPair("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// MacroF1 はマクロ平均F1だけを返す
func MacroF1(yTrue, yPred []int, opts ...ReportOption) (float64, error) {
	rep, err := ClassificationReport(yTrue, yPred, append(opts, WithoutWarnings())...)
	if err != nil {
		return 0, err
	}
	return rep.MacroAvg.F1, nil
}

func checkPair(op string, yTrue, yPred []int) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty input")
	}
	if len(yTrue) != len(yPred) {
		return errors.NewDimensionError(op, len(yTrue), len(yPred), 0)
	}
	return nil
}

func (c reportConfig) name(label int) string {
	if n, ok := c.names[label]; ok {
		return n
	}
	return ""
}

// ratio は num/den を返す。den が0なら0を返し警告する（zero_division=0）。
func ratio(num, den float64, metric string, label int, condition string, quiet bool) float64 {
	if den == 0 {
		if !quiet {
			errors.Warn(errors.NewUndefinedMetricWarning(metric, label, condition, 0))
		}
		return 0
	}
	return num / den
}

func columns(classes []ClassMetrics) (prec, rec, f1 []float64) {
	prec = make([]float64, len(classes))
	rec = make([]float64, len(classes))
	f1 = make([]float64, len(classes))
	for i, c := range classes {
		prec[i], rec[i], f1[i] = c.Precision, c.Recall, c.F1
	}
	return prec, rec, f1
}

func uniqueLabels(a, b []int) []int {
	seen := make(map[int]struct{})
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
