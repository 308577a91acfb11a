// Package tracker implements Trackers, which record data generated
// during an experiment and persist it once the experiment finishes.
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Tracker keeps track of experiment data and saves the data after the
// experiment has finished.
type Tracker interface {
	// Track caches the data of a single environmental timestep.
	// Track must be called on every timestep of the experiment,
	// including the first timestep of each episode.
	Track(t ts.TimeStep)

	// Save persists all data cached so far
	Save() error
}

// LoadData loads and returns the data saved by a gob-encoding Tracker
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loaddata: could not open data file: %v",
			err)
	}
	defer file.Close()

	var data []float64
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("loaddata: could not decode data: %v", err)
	}

	return data, nil
}

// saveGob gob-encodes data into filename
func saveGob(filename string, data []float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create save file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("could not encode data: %v", err)
	}
	return nil
}
