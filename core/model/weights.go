package model

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LayerSummary describes one parameter tensor without its values.
type LayerSummary struct {
	Name   string  `json:"name"`
	Rows   int     `json:"rows"`
	Cols   int     `json:"cols"`
	Norm   float64 `json:"l2_norm"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// ModelWeights はチェックポイントの人間向けJSONサマリ（シリアライゼーション用）
type ModelWeights struct {
	ModelType       string             `json:"model_type"`
	Version         string             `json:"version"`
	Layers          []LayerSummary     `json:"layers"`
	TotalParameters int                `json:"total_parameters"`
	Hyperparameters map[string]float64 `json:"hyperparameters"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
	IsFitted        bool               `json:"is_fitted"`
}

// Summarize builds a ModelWeights from a checkpoint.
func Summarize(c *Checkpoint) *ModelWeights {
	mw := &ModelWeights{
		ModelType:       c.ModelType,
		Version:         c.Version,
		Layers:          make([]LayerSummary, len(c.Tensors)),
		Hyperparameters: make(map[string]float64, len(c.Hyperparameters)),
		Metadata:        make(map[string]string, len(c.Meta)),
		IsFitted:        c.State.Fitted,
	}
	for i, t := range c.Tensors {
		mean, std := stat.MeanStdDev(t.Data, nil)
		if len(t.Data) < 2 {
			std = 0
		}
		mw.Layers[i] = LayerSummary{
			Name:   t.Name,
			Rows:   t.Rows,
			Cols:   t.Cols,
			Norm:   floats.Norm(t.Data, 2),
			Mean:   mean,
			StdDev: std,
		}
		mw.TotalParameters += len(t.Data)
	}
	for k, v := range c.Hyperparameters {
		mw.Hyperparameters[k] = v
	}
	for k, v := range c.Meta {
		mw.Metadata[k] = v
	}
	return mw
}

// ToJSON はModelWeightsをJSON形式にシリアライズ
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mw, "", "  ")
}

// FromJSON はJSON形式からModelWeightsをデシリアライズ
func (mw *ModelWeights) FromJSON(data []byte) error {
	return json.Unmarshal(data, mw)
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return fmt.Errorf("model_type is required")
	}
	if mw.Version == "" {
		return fmt.Errorf("version is required")
	}
	if len(mw.Layers) == 0 {
		return fmt.Errorf("at least one layer is required")
	}
	n := 0
	for _, l := range mw.Layers {
		n += l.Rows * l.Cols
	}
	if n != mw.TotalParameters {
		return fmt.Errorf("total_parameters %d does not match layer shapes (%d)", mw.TotalParameters, n)
	}
	return nil
}

// Clone はModelWeightsのディープコピーを作成
func (mw *ModelWeights) Clone() *ModelWeights {
	clone := *mw
	clone.Layers = append([]LayerSummary(nil), mw.Layers...)
	clone.Hyperparameters = make(map[string]float64, len(mw.Hyperparameters))
	for k, v := range mw.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	clone.Metadata = make(map[string]string, len(mw.Metadata))
	for k, v := range mw.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}
