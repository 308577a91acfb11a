package tracker

import (
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// EpisodeLength tracks the number of timesteps per episode and saves
// the per-episode lengths with gob encoding.
type EpisodeLength struct {
	lengths  []float64
	filename string
}

// NewEpisodeLength creates and returns a new EpisodeLength tracker
// that saves to filename.
func NewEpisodeLength(filename string) *EpisodeLength {
	return &EpisodeLength{filename: filename}
}

// Track records the timestep, caching the episode's length when the
// episode ends.
func (e *EpisodeLength) Track(step ts.TimeStep) {
	if step.Last() {
		e.lengths = append(e.lengths, float64(step.Number))
	}
}

// Save saves the tracked episode lengths to disk
func (e *EpisodeLength) Save() error {
	return saveGob(e.filename, e.lengths)
}
