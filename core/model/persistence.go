package model

import (
	"encoding/gob"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// CheckpointVersion is written into every checkpoint and checked on restore.
const CheckpointVersion = "1"

// Tensor is the serialised form of one parameter.
type Tensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// Checkpoint is the persisted state of a head+encoder pairing.
type Checkpoint struct {
	ModelType       string
	Version         string
	Hyperparameters map[string]float64
	Meta            map[string]string
	State           ModelState
	Tensors         []Tensor
}

// Snapshot copies the current values of params into a Checkpoint.
func Snapshot(modelType string, params []*nn.Parameter) *Checkpoint {
	c := &Checkpoint{
		ModelType:       modelType,
		Version:         CheckpointVersion,
		Hyperparameters: make(map[string]float64),
		Meta:            make(map[string]string),
		Tensors:         make([]Tensor, len(params)),
	}
	for i, p := range params {
		r, cols := p.Value.Dims()
		d := make([]float64, r*cols)
		copy(d, p.Value.RawMatrix().Data)
		c.Tensors[i] = Tensor{Name: p.Name, Rows: r, Cols: cols, Data: d}
	}
	return c
}

// Restore writes the checkpoint values into params, matching by name. Every
// parameter must be present with the same shape.
//
// 使用例:
//
//	ckpt, err := model.LoadCheckpoint("model_it_hs.gob")
//	...
//	err = ckpt.Restore(clf.Parameters())
func (c *Checkpoint) Restore(params []*nn.Parameter) error {
	if c.Version != CheckpointVersion {
		return errors.NewValueError("Checkpoint.Restore", "unsupported checkpoint version "+c.Version)
	}
	byName := make(map[string]Tensor, len(c.Tensors))
	for _, t := range c.Tensors {
		byName[t.Name] = t
	}
	for _, p := range params {
		t, ok := byName[p.Name]
		if !ok {
			return errors.NewValueError("Checkpoint.Restore", "missing parameter "+p.Name)
		}
		r, cols := p.Value.Dims()
		if t.Rows != r {
			return errors.NewDimensionError("Checkpoint.Restore "+p.Name, r, t.Rows, 0)
		}
		if t.Cols != cols {
			return errors.NewDimensionError("Checkpoint.Restore "+p.Name, cols, t.Cols, 1)
		}
		p.Value.Copy(mat.NewDense(t.Rows, t.Cols, t.Data))
	}
	return nil
}

// SaveCheckpoint はチェックポイントをファイルに保存する
func SaveCheckpoint(c *Checkpoint, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close checkpoint file")
		}
	}()
	return WriteCheckpoint(file, c)
}

// LoadCheckpoint はファイルからチェックポイントを読み込む
func LoadCheckpoint(filename string) (*Checkpoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()
	return ReadCheckpoint(file)
}

// WriteCheckpoint はチェックポイントをio.Writerにgob形式で書き出す
func WriteCheckpoint(w io.Writer, c *Checkpoint) error {
	if err := gob.NewEncoder(w).Encode(c); err != nil {
		return errors.NewModelError("WriteCheckpoint", "encode failed", err)
	}
	return nil
}

// ReadCheckpoint はio.Readerからチェックポイントを読み込む
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	var c Checkpoint
	if err := gob.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.NewModelError("ReadCheckpoint", "decode failed", err)
	}
	return &c, nil
}
