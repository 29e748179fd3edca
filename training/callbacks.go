package training

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// CallbackEnv is what a callback sees after every epoch.
type CallbackEnv struct {
	Model        model.Module
	Epoch        int
	Result       EpochResult
	StopTraining bool
}

// Callback runs after each epoch. Setting env.StopTraining ends the fit
// after the current epoch; returning an error aborts it.
type Callback func(env *CallbackEnv) error

// Saver is implemented by models that can write a checkpoint.
type Saver interface {
	Save(path string) error
}

// ModelCheckpoint saves the model every period epochs to
// fmt.Sprintf(pattern, epoch). With saveOnlyImproved only epochs that lower
// the validation loss are written.
func ModelCheckpoint(pattern string, period int, saveOnlyImproved bool) Callback {
	best := 0.0
	seen := false
	return func(env *CallbackEnv) error {
		if period <= 0 || env.Epoch%period != 0 {
			return nil
		}
		if saveOnlyImproved {
			if seen && !(env.Result.ValLoss < best) {
				return nil
			}
			best, seen = env.Result.ValLoss, true
		}
		s, ok := env.Model.(Saver)
		if !ok {
			return errors.NewModelError("ModelCheckpoint", "model cannot be saved", nil)
		}
		if err := s.Save(fmt.Sprintf(pattern, env.Epoch)); err != nil {
			return errors.Wrap(err, "failed to save checkpoint")
		}
		return nil
	}
}

// TimeLimit stops the fit once maxDuration has elapsed since the first epoch
// ended.
func TimeLimit(maxDuration time.Duration) Callback {
	var start time.Time
	return func(env *CallbackEnv) error {
		if start.IsZero() {
			start = time.Now().Add(-env.Result.Duration)
		}
		if time.Since(start) > maxDuration {
			env.StopTraining = true
		}
		return nil
	}
}

// RecordEvaluation appends every epoch's metrics to history under the keys
// "train_loss", "val_loss" and "macro_f1".
func RecordEvaluation(history map[string][]float64) Callback {
	return func(env *CallbackEnv) error {
		history["train_loss"] = append(history["train_loss"], env.Result.TrainLoss)
		history["val_loss"] = append(history["val_loss"], env.Result.ValLoss)
		history["macro_f1"] = append(history["macro_f1"], env.Result.MacroF1())
		return nil
	}
}

// CallbackList runs callbacks in order.
type CallbackList struct {
	callbacks []Callback
}

// NewCallbackList creates a list.
func NewCallbackList(callbacks ...Callback) *CallbackList {
	return &CallbackList{callbacks: callbacks}
}

// AfterEpoch runs every callback and reports whether one asked to stop.
func (cl *CallbackList) AfterEpoch(m model.Module, result EpochResult) (stop bool, err error) {
	env := &CallbackEnv{Model: m, Epoch: result.Epoch, Result: result}
	for _, cb := range cl.callbacks {
		if err := cb(env); err != nil {
			return false, err
		}
	}
	return env.StopTraining, nil
}
