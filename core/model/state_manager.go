package model

import (
	"sync"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// StateManager tracks whether a classifier has weights worth predicting with,
// either from a finished fit or from a loaded checkpoint.
type StateManager struct {
	Fitted bool // Public for gob encoding
	mu     sync.RWMutex

	// Epochs is the number of completed training epochs.
	Epochs int
	// NSamples is the size of the training split seen by the last fit.
	NSamples int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted marks the model as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// RecordEpoch counts one finished epoch over nSamples examples and marks the
// model fitted.
func (s *StateManager) RecordEpoch(nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
	s.Epochs++
	s.NSamples = nSamples
}

// Reset returns to the untrained state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.Epochs = 0
	s.NSamples = 0
}

// RequireFitted returns a NotFittedError naming modelName and method if the
// model is not fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// ModelState is a serialisable copy of the state.
type ModelState struct {
	Fitted   bool `json:"fitted"`
	Epochs   int  `json:"epochs,omitempty"`
	NSamples int  `json:"n_samples,omitempty"`
}

// GetState returns the current state.
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelState{Fitted: s.Fitted, Epochs: s.Epochs, NSamples: s.NSamples}
}

// SetState restores a state captured by GetState.
func (s *StateManager) SetState(state ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = state.Fitted
	s.Epochs = state.Epochs
	s.NSamples = state.NSamples
}
