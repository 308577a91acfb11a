package checkpointer

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeSaveable records the directories it was asked to save into and
// writes a marker file into each.
type fakeSaveable struct {
	saves []string
}

func (f *fakeSaveable) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f.saves = append(f.saves, dir)
	return os.WriteFile(filepath.Join(dir, "weights.bin"),
		[]byte("weights"), 0o644)
}

func TestCheckpointOnlyOnInterval(t *testing.T) {
	dir := t.TempDir()
	obj := &fakeSaveable{}

	c, err := NewEpisodic(3, obj, dir)
	if err != nil {
		t.Fatalf("could not create checkpointer: %v", err)
	}

	for episode := 0; episode < 7; episode++ {
		if err := c.Checkpoint(episode); err != nil {
			t.Fatalf("could not checkpoint episode %v: %v", episode, err)
		}
	}

	// Episodes 0, 3, and 6 fall on the interval
	if len(obj.saves) != 3 {
		t.Fatalf("got %v saves, expected 3", len(obj.saves))
	}
	for _, episode := range []string{"0", "3", "6"} {
		filename := filepath.Join(dir, episode, "weights.bin")
		if _, err := os.Stat(filename); err != nil {
			t.Errorf("missing checkpoint file for episode %v: %v", episode,
				err)
		}
	}
}

func TestCheckpointLeavesNoTemporaryDirectories(t *testing.T) {
	dir := t.TempDir()

	c, err := NewEpisodic(1, &fakeSaveable{}, dir)
	if err != nil {
		t.Fatalf("could not create checkpointer: %v", err)
	}
	if err := c.Checkpoint(0); err != nil {
		t.Fatalf("could not checkpoint: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("could not read checkpoint directory: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != "0" {
			t.Errorf("unexpected entry %v in checkpoint directory",
				entry.Name())
		}
	}
}

func TestCheckpointOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	obj := &fakeSaveable{}

	c, err := NewEpisodic(1, obj, dir)
	if err != nil {
		t.Fatalf("could not create checkpointer: %v", err)
	}
	if err := c.Checkpoint(0); err != nil {
		t.Fatalf("could not checkpoint: %v", err)
	}
	if err := c.Checkpoint(0); err != nil {
		t.Fatalf("could not re-checkpoint: %v", err)
	}

	if len(obj.saves) != 2 {
		t.Errorf("got %v saves, expected 2", len(obj.saves))
	}
}

func TestNewEpisodicRejectsInvalidParameters(t *testing.T) {
	if _, err := NewEpisodic(0, &fakeSaveable{}, "dir"); err == nil {
		t.Error("expected error creating checkpointer with zero interval")
	}
	if _, err := NewEpisodic(1, &fakeSaveable{}, ""); err == nil {
		t.Error("expected error creating checkpointer with no directory")
	}
}
