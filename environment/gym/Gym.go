// Package gym provides access to OpenAI Gym's CarRacing environment
// through the Go bindings at https://github.com/samuelfneumann/gogym.
//
// Raw Gym observations are 96 x 96 RGB frames flattened into vectors.
// The wrapper preprocesses every frame before the agent sees it, so
// observations match those of the native racing environment.
package gym

import (
	"fmt"

	"github.com/samuelfneumann/gogym"
	"gonum.org/v1/gonum/mat"

	env "github.com/MertAtesmen/deep-racing-gymnasium/environment"
	"github.com/MertAtesmen/deep-racing-gymnasium/preprocess"
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// CarRacing frame geometry
const (
	FrameW int = 96
	FrameH int = 96
)

// EnvName is the Gym environment this package wraps
const EnvName string = "CarRacing-v0"

// GymEnv wraps a Gym environment and preprocesses its pixel
// observations.
type GymEnv struct {
	gogym.Environment

	processor   *preprocess.Processor
	currentStep ts.TimeStep
	discount    float64
}

// New returns a new GymEnv along with the first timestep of the first
// episode.
func New(processor *preprocess.Processor, discount float64,
	seed uint64) (env.Environment, ts.TimeStep, error) {
	goGymEnv, err := gogym.Make(EnvName)
	if err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: could not create "+
			"environment: %v", err)
	}
	goGymEnv.Seed(int(seed))

	gymEnv := &GymEnv{
		Environment: goGymEnv,
		processor:   processor,
		discount:    discount,
	}

	step, err := gymEnv.Reset()
	if err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: could not reset "+
			"environment: %v", err)
	}

	return gymEnv, step, nil
}

// Step takes a single environmental step
func (g *GymEnv) Step(a *mat.VecDense) (ts.TimeStep, bool, error) {
	obs, reward, done, err := g.Environment.Step(a)
	if err != nil {
		return ts.TimeStep{}, true, fmt.Errorf("step: could not step "+
			"environment: %v", err)
	}

	processed, err := g.process(obs)
	if err != nil {
		return ts.TimeStep{}, true, fmt.Errorf("step: %v", err)
	}

	t := ts.New(ts.Mid, reward, g.discount, processed,
		g.currentStep.Number+1)
	if done {
		t.StepType = ts.Last
		t.Discount = 0.0
	}
	g.currentStep = t

	return t, done, nil
}

// Reset resets the environment to a starting state
func (g *GymEnv) Reset() (ts.TimeStep, error) {
	obs, err := g.Environment.Reset()
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: could not reset "+
			"environment: %v", err)
	}

	processed, err := g.process(obs)
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: %v", err)
	}

	t := ts.New(ts.First, 0, g.discount, processed, 0)
	g.currentStep = t

	return t, nil
}

// process converts a raw flattened RGB frame into an observation
// vector.
func (g *GymEnv) process(obs *mat.VecDense) (*mat.VecDense, error) {
	raw := obs.RawVector().Data
	rgb := make([]uint8, len(raw))
	for i, v := range raw {
		rgb[i] = uint8(v)
	}
	return g.processor.ProcessRGB(rgb, FrameW, FrameH)
}

// CurrentTimeStep returns the current timestep in the environment
func (g *GymEnv) CurrentTimeStep() ts.TimeStep {
	return g.currentStep
}

// ObservationSpec returns the observation specification of the
// environment after preprocessing.
func (g *GymEnv) ObservationSpec() env.Spec {
	features := g.processor.Features()
	shape := mat.NewVecDense(features, nil)

	low := make([]float64, features)
	high := make([]float64, features)
	for i := range high {
		high[i] = 1.0
	}

	return env.NewSpec(shape, env.Observation, mat.NewVecDense(features, low),
		mat.NewVecDense(features, high), env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (g *GymEnv) ActionSpec() env.Spec {
	space := g.ActionSpace()

	var low, high *mat.VecDense
	switch space.(type) {
	case *gogym.BoxSpace:
		low = space.Low()[0]
		high = space.High()[0]
	default:
		panic("actionSpec: package gym supports only BoxSpace action " +
			"spaces")
	}
	shape := mat.NewVecDense(low.Len(), nil)

	return env.NewSpec(shape, env.Action, low, high, env.Continuous)
}

// Render displays the environment's graphical window
func (g *GymEnv) Render() error {
	g.Environment.Render()
	return nil
}

// Close performs resource cleanup after the environment is no longer
// needed.
func (g *GymEnv) Close() error {
	g.Environment.Close()
	return nil
}
