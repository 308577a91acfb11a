package tracker

import (
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Return tracks the episodic return of an experiment and saves the
// per-episode returns with gob encoding.
//
// An episode must finish for its return to be saved: if the last
// episode of an experiment is cut short, its partial return is
// dropped.
type Return struct {
	currentReturn  float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new Return tracker that saves to
// filename.
func NewReturn(filename string) *Return {
	return &Return{filename: filename}
}

// Track accumulates the reward of a timestep into the current
// episode's return.
func (r *Return) Track(step ts.TimeStep) {
	if step.First() {
		r.currentReturn = 0.0
		return
	}

	r.currentReturn += step.Reward
	if step.Last() {
		r.episodeReturns = append(r.episodeReturns, r.currentReturn)
		r.currentReturn = 0.0
	}
}

// Returns returns the per-episode returns tracked so far
func (r *Return) Returns() []float64 {
	out := make([]float64, len(r.episodeReturns))
	copy(out, r.episodeReturns)
	return out
}

// Save saves the tracked episodic returns to disk
func (r *Return) Save() error {
	return saveGob(r.filename, r.episodeReturns)
}
