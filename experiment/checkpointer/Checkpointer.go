// Package checkpointer implements periodic checkpointing of learned
// agent weights during an experiment.
package checkpointer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Saveable is an object whose state can be written into a directory of
// checkpoint files.
type Saveable interface {
	Save(dir string) error
}

// Episodic checkpoints a Saveable every fixed number of episodes. Each
// checkpoint is written into its own directory named after the episode
// index. Checkpoints are written to a temporary directory first and
// renamed into place, so a crash mid-write never corrupts an existing
// checkpoint.
type Episodic struct {
	interval int
	object   Saveable
	dir      string
}

// NewEpisodic returns a checkpointer that saves object under dir every
// interval episodes.
func NewEpisodic(interval int, object Saveable, dir string) (*Episodic,
	error) {
	if interval < 1 {
		return nil, fmt.Errorf("newepisodic: interval must be positive "+
			"\n\thave(%v)", interval)
	}
	if dir == "" {
		return nil, fmt.Errorf("newepisodic: no checkpoint directory given")
	}

	return &Episodic{
		interval: interval,
		object:   object,
		dir:      dir,
	}, nil
}

// Checkpoint saves the tracked object if the episode index falls on
// the checkpoint interval.
func (e *Episodic) Checkpoint(episode int) error {
	if episode%e.interval != 0 {
		return nil
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: could not create checkpoint "+
			"directory: %v", err)
	}

	final := filepath.Join(e.dir, strconv.Itoa(episode))
	tmp := filepath.Join(e.dir, fmt.Sprintf(".tmp-%d", episode))

	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("checkpoint: could not clear temporary "+
			"directory: %v", err)
	}
	if err := e.object.Save(tmp); err != nil {
		return fmt.Errorf("checkpoint: could not save episode %v: %v",
			episode, err)
	}
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("checkpoint: could not replace checkpoint: %v",
			err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("checkpoint: could not finalize checkpoint: %v",
			err)
	}

	return nil
}
