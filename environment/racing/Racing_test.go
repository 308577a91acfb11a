package racing

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/MertAtesmen/deep-racing-gymnasium/preprocess"
)

func newTestEnv(t *testing.T, seed uint64) *Racing {
	t.Helper()

	p, err := preprocess.NewProcessor(64)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}
	e, _, err := New(p, 0.99, seed, "")
	if err != nil {
		t.Fatalf("could not create environment: %v", err)
	}
	return e.(*Racing)
}

func TestNewStartsReadyToUse(t *testing.T) {
	p, err := preprocess.NewProcessor(64)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}

	_, step, err := New(p, 0.99, 12, "")
	if err != nil {
		t.Fatalf("could not create environment: %v", err)
	}

	if !step.First() {
		t.Error("expected first timestep after creation")
	}
	if step.Observation.Len() != 64*64 {
		t.Errorf("got %v observation features, expected %v",
			step.Observation.Len(), 64*64)
	}
	for i := 0; i < step.Observation.Len(); i++ {
		if v := step.Observation.AtVec(i); v < 0.0 || v > 1.0 {
			t.Fatalf("observation component %v out of [0, 1]: %v", i, v)
		}
	}
}

func TestStepAdvancesTimeStepNumbers(t *testing.T) {
	e := newTestEnv(t, 12)

	action := mat.NewVecDense(ActionDims, []float64{0.0, 1.0, 0.0})
	for i := 1; i <= 5; i++ {
		step, last, err := e.Step(action)
		if err != nil {
			t.Fatalf("could not step: %v", err)
		}
		if last {
			t.Fatalf("episode ended after %v steps", i)
		}
		if step.Number != i {
			t.Errorf("got timestep number %v, expected %v", step.Number, i)
		}
	}
}

func TestDrivingForwardEventuallyPaysTileReward(t *testing.T) {
	e := newTestEnv(t, 12)

	// Full gas with slight steering toward the loop must reach a new
	// tile well before the episode cutoff.
	action := mat.NewVecDense(ActionDims, []float64{0.1, 1.0, 0.0})
	start := e.TilesLeft()

	for i := 0; i < EpisodeCutoff; i++ {
		step, last, err := e.Step(action)
		if err != nil {
			t.Fatalf("could not step: %v", err)
		}
		if e.TilesLeft() < start {
			if step.Reward <= 0.0 {
				t.Errorf("got reward %v on tile visit, expected positive",
					step.Reward)
			}
			return
		}
		if last {
			break
		}
	}
	t.Error("never visited a new tile while driving forward")
}

func TestSameSeedSameTrack(t *testing.T) {
	first := newTestEnv(t, 42)
	second := newTestEnv(t, 42)

	for i := range first.checkpoints {
		if first.checkpoints[i] != second.checkpoints[i] {
			t.Fatalf("checkpoint %v differs across environments with the "+
				"same seed: %v != %v", i, first.checkpoints[i],
				second.checkpoints[i])
		}
	}
}

func TestStepRejectsWrongActionSize(t *testing.T) {
	e := newTestEnv(t, 12)

	if _, _, err := e.Step(mat.NewVecDense(2, nil)); err == nil {
		t.Error("expected error stepping with a 2-dimensional action")
	}
}

func TestSpecs(t *testing.T) {
	e := newTestEnv(t, 12)

	obsSpec := e.ObservationSpec()
	if obsSpec.Shape.Len() != 64*64 {
		t.Errorf("got observation shape %v, expected %v",
			obsSpec.Shape.Len(), 64*64)
	}

	actionSpec := e.ActionSpec()
	if actionSpec.Shape.Len() != ActionDims {
		t.Errorf("got action shape %v, expected %v", actionSpec.Shape.Len(),
			ActionDims)
	}
	if actionSpec.LowerBound.AtVec(0) != -1.0 ||
		actionSpec.UpperBound.AtVec(0) != 1.0 {
		t.Errorf("got turn bounds [%v, %v], expected [-1, 1]",
			actionSpec.LowerBound.AtVec(0), actionSpec.UpperBound.AtVec(0))
	}
	if actionSpec.LowerBound.AtVec(1) != 0.0 ||
		actionSpec.UpperBound.AtVec(1) != 1.0 {
		t.Errorf("got gas bounds [%v, %v], expected [0, 1]",
			actionSpec.LowerBound.AtVec(1), actionSpec.UpperBound.AtVec(1))
	}
}

func TestResetStartsNewEpisode(t *testing.T) {
	e := newTestEnv(t, 12)

	action := mat.NewVecDense(ActionDims, []float64{0.0, 1.0, 0.0})
	for i := 0; i < 10; i++ {
		if _, _, err := e.Step(action); err != nil {
			t.Fatalf("could not step: %v", err)
		}
	}

	step, err := e.Reset()
	if err != nil {
		t.Fatalf("could not reset: %v", err)
	}
	if !step.First() {
		t.Error("expected first timestep after reset")
	}
	if step.Number != 0 {
		t.Errorf("got timestep number %v after reset, expected 0",
			step.Number)
	}
	if e.TilesLeft() != Tiles-1 {
		t.Errorf("got %v tiles left after reset, expected %v", e.TilesLeft(),
			Tiles-1)
	}
}
