package ddpg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	env "github.com/MertAtesmen/deep-racing-gymnasium/environment"
	"github.com/MertAtesmen/deep-racing-gymnasium/initwfn"
	"github.com/MertAtesmen/deep-racing-gymnasium/network"
	"github.com/MertAtesmen/deep-racing-gymnasium/replay"
	"github.com/MertAtesmen/deep-racing-gymnasium/solver"
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

const (
	testFeatures   int = 4
	testActionDims int = 3
)

// fakeEnv provides environment specs for agent construction. Tests
// feed observations to the agent directly, so the environment is never
// stepped.
type fakeEnv struct{}

func (f fakeEnv) Reset() (ts.TimeStep, error) { return ts.TimeStep{}, nil }

func (f fakeEnv) Step(*mat.VecDense) (ts.TimeStep, bool, error) {
	return ts.TimeStep{}, false, nil
}

func (f fakeEnv) CurrentTimeStep() ts.TimeStep { return ts.TimeStep{} }

func (f fakeEnv) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(testFeatures, nil)
	low := mat.NewVecDense(testFeatures, nil)
	high := mat.NewVecDense(testFeatures, []float64{1, 1, 1, 1})
	return env.NewSpec(shape, env.Observation, low, high, env.Continuous)
}

func (f fakeEnv) ActionSpec() env.Spec {
	shape := mat.NewVecDense(testActionDims, nil)
	low := mat.NewVecDense(testActionDims, []float64{-1, 0, 0})
	high := mat.NewVecDense(testActionDims, []float64{1, 1, 1})
	return env.NewSpec(shape, env.Action, low, high, env.Continuous)
}

func (f fakeEnv) Render() error { return nil }
func (f fakeEnv) Close() error  { return nil }

func newTestConfig(t *testing.T) Config {
	t.Helper()

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}
	actorSolver, err := solver.NewDefaultAdam(0.01, 2)
	if err != nil {
		t.Fatalf("could not create actor solver: %v", err)
	}
	criticSolver, err := solver.NewDefaultAdam(0.01, 2)
	if err != nil {
		t.Fatalf("could not create critic solver: %v", err)
	}

	return Config{
		HiddenSizes:  []int{8},
		Biases:       []bool{true},
		Activations:  []*network.Activation{network.ReLU()},
		InitWFn:      init,
		ActorSolver:  actorSolver,
		CriticSolver: criticSolver,
		Tau:          0.05,
		Replay: replay.Config{
			Type:        replay.Uniform,
			MaxCapacity: 2,
			MinCapacity: 2,
			BatchSize:   2,
		},
		Noise:      0.1,
		NoiseDecay: 0.9,
		NoiseMin:   0.01,
	}
}

// observation returns a distinct observation vector per id
func observation(id float64) *mat.VecDense {
	data := make([]float64, testFeatures)
	for i := range data {
		data[i] = id
	}
	return mat.NewVecDense(testFeatures, data)
}

func netWeights(net network.NeuralNet, i int) []float64 {
	data := net.Learnables()[i].Value().(*tensor.Dense).Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

// feedTransitions pushes n transitions through the agent's observation
// interface.
func feedTransitions(t *testing.T, d *DDPG, n int) {
	t.Helper()

	step := ts.New(ts.First, 0, 0.9, observation(0), 0)
	if err := d.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	action := mat.NewVecDense(testActionDims, []float64{0.1, 0.5, 0.0})
	for i := 1; i <= n; i++ {
		next := ts.New(ts.Mid, 1.0, 0.9, observation(float64(i)), i)
		if err := d.Observe(action, next); err != nil {
			t.Fatalf("could not observe timestep %v: %v", i, err)
		}
	}
}

func TestDDPGBufferRetainsNewestTransitions(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}

	// Three pushes into a capacity-2 buffer retain the newest two
	feedTransitions(t, d, 3)
	if d.replay.Len() != 2 {
		t.Errorf("got buffer length %v, expected 2", d.replay.Len())
	}
}

func TestDDPGStepUpdatesWeights(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	feedTransitions(t, d, 3)

	actorBefore := netWeights(d.trainActor, 0)
	criticBefore := netWeights(d.critic, 0)

	if err := d.Step(); err != nil {
		t.Fatalf("could not step agent: %v", err)
	}

	changed := func(before []float64, net network.NeuralNet) bool {
		after := netWeights(net, 0)
		for i := range after {
			if after[i] != before[i] {
				return true
			}
		}
		return false
	}
	if !changed(actorBefore, d.trainActor) {
		t.Error("actor weights unchanged after learning step")
	}
	if !changed(criticBefore, d.critic) {
		t.Error("critic weights unchanged after learning step")
	}

	// The selection actor mirrors the training actor
	trainData := netWeights(d.trainActor, 0)
	selectData := netWeights(d.actor, 0)
	for i := range trainData {
		if trainData[i] != selectData[i] {
			t.Fatal("selection actor differs from training actor after " +
				"learning step")
		}
	}
}

func TestDDPGStepWithInsufficientSamplesIsNoOp(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	feedTransitions(t, d, 1)

	before := netWeights(d.trainActor, 0)
	if err := d.Step(); err != nil {
		t.Fatalf("could not step agent: %v", err)
	}
	after := netWeights(d.trainActor, 0)
	for i := range after {
		if after[i] != before[i] {
			t.Fatal("weights changed with insufficient replay samples")
		}
	}
}

func TestDDPGSelectActionShapeAndBounds(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}

	step := ts.New(ts.First, 0, 0.9, observation(0.5), 0)
	for i := 0; i < 20; i++ {
		action := d.SelectAction(step)
		if action.Len() != testActionDims {
			t.Fatalf("got %v action dimensions, expected %v", action.Len(),
				testActionDims)
		}
		for j := 0; j < action.Len(); j++ {
			if action.AtVec(j) < -1.0 || action.AtVec(j) > 1.0 {
				t.Fatalf("action dimension %v out of [-1, 1]: %v", j,
					action.AtVec(j))
			}
		}
	}
}

func TestDDPGEvalActionsAreDeterministic(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	d.Eval()
	if !d.IsEval() {
		t.Fatal("agent not in evaluation mode after Eval()")
	}

	step := ts.New(ts.First, 0, 0.9, observation(0.5), 0)
	first := d.SelectAction(step)
	second := d.SelectAction(step)
	for i := 0; i < first.Len(); i++ {
		if first.AtVec(i) != second.AtVec(i) {
			t.Fatal("evaluation actions differ for the same observation")
		}
	}
}

func TestDDPGNoiseDecaysAtEpisodeEnd(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}

	before := d.NoiseScale()
	d.EndEpisode()
	if d.NoiseScale() >= before {
		t.Errorf("noise scale did not decay: %v -> %v", before,
			d.NoiseScale())
	}
}

func TestDDPGSaveLoadRoundTrip(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	feedTransitions(t, d, 3)
	if err := d.Step(); err != nil {
		t.Fatalf("could not step agent: %v", err)
	}

	dir := t.TempDir()
	if err := d.Save(dir); err != nil {
		t.Fatalf("could not save agent: %v", err)
	}

	restored, err := New(fakeEnv{}, newTestConfig(t), 13)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	if err := restored.Load(dir); err != nil {
		t.Fatalf("could not load agent: %v", err)
	}

	saved := netWeights(d.trainActor, 0)
	loaded := netWeights(restored.trainActor, 0)
	for i := range saved {
		if saved[i] != loaded[i] {
			t.Fatalf("actor weight %v differs after load: %v != %v", i,
				loaded[i], saved[i])
		}
	}
}

func TestDDPGStepAfterLoadUpdatesWeights(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	feedTransitions(t, d, 3)
	if err := d.Step(); err != nil {
		t.Fatalf("could not step agent: %v", err)
	}

	dir := t.TempDir()
	if err := d.Save(dir); err != nil {
		t.Fatalf("could not save agent: %v", err)
	}

	// A restored agent must be able to keep training: loading may not
	// invalidate the training graphs its solvers and virtual machines
	// were built against.
	restored, err := New(fakeEnv{}, newTestConfig(t), 13)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	if err := restored.Load(dir); err != nil {
		t.Fatalf("could not load agent: %v", err)
	}
	feedTransitions(t, restored, 3)

	actorBefore := netWeights(restored.trainActor, 0)
	criticBefore := netWeights(restored.critic, 0)
	if err := restored.Step(); err != nil {
		t.Fatalf("could not step restored agent: %v", err)
	}

	actorAfter := netWeights(restored.trainActor, 0)
	criticAfter := netWeights(restored.critic, 0)
	var actorChanged, criticChanged bool
	for i := range actorAfter {
		if actorAfter[i] != actorBefore[i] {
			actorChanged = true
			break
		}
	}
	for i := range criticAfter {
		if criticAfter[i] != criticBefore[i] {
			criticChanged = true
			break
		}
	}
	if !actorChanged {
		t.Error("restored actor weights unchanged after learning step")
	}
	if !criticChanged {
		t.Error("restored critic weights unchanged after learning step")
	}
}

func TestDDPGStepRecordsLosses(t *testing.T) {
	d, err := New(fakeEnv{}, newTestConfig(t), 12)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}

	if !math.IsNaN(d.CriticLoss()) || !math.IsNaN(d.ActorLoss()) {
		t.Errorf("got losses (%v, %v) before the first learning step, "+
			"expected NaN", d.CriticLoss(), d.ActorLoss())
	}

	feedTransitions(t, d, 3)
	if err := d.Step(); err != nil {
		t.Fatalf("could not step agent: %v", err)
	}

	critic := d.CriticLoss()
	if math.IsNaN(critic) || math.IsInf(critic, 0) || critic < 0 {
		t.Errorf("got critic loss %v, expected a finite non-negative value",
			critic)
	}
	actor := d.ActorLoss()
	if math.IsNaN(actor) || math.IsInf(actor, 0) {
		t.Errorf("got actor loss %v, expected a finite value", actor)
	}
}
