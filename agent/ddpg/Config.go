package ddpg

import (
	"fmt"

	"github.com/MertAtesmen/deep-racing-gymnasium/initwfn"
	"github.com/MertAtesmen/deep-racing-gymnasium/network"
	"github.com/MertAtesmen/deep-racing-gymnasium/replay"
	"github.com/MertAtesmen/deep-racing-gymnasium/solver"
)

// Config implements a configuration of the DDPG agent
type Config struct {
	// Network architecture, shared by the actor and the critic
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	InitWFn     *initwfn.InitWFn

	ActorSolver  *solver.Solver
	CriticSolver *solver.Solver

	// Polyak averaging constant for the target networks
	Tau float64

	Replay replay.Config

	// Gaussian exploration noise with geometric per-episode decay
	Noise      float64
	NoiseDecay float64
	NoiseMin   float64
}

// BatchSize returns the batch size of the agent constructed with this
// Config.
func (c Config) BatchSize() int {
	return c.Replay.BatchSize
}

// Validate returns an error describing why the Config cannot be used,
// or nil if it can.
func (c Config) Validate() error {
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("ddpg: at least one hidden layer is required")
	}
	if len(c.HiddenSizes) != len(c.Biases) ||
		len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("ddpg: one bias and one activation per hidden "+
			"layer required \n\thave(%v sizes, %v biases, %v activations)",
			len(c.HiddenSizes), len(c.Biases), len(c.Activations))
	}
	if c.InitWFn == nil {
		return fmt.Errorf("ddpg: no weight initializer given")
	}
	if c.ActorSolver == nil || c.CriticSolver == nil {
		return fmt.Errorf("ddpg: both actor and critic solvers are " +
			"required")
	}
	if c.Tau <= 0.0 || c.Tau > 1.0 {
		return fmt.Errorf("ddpg: tau must be in (0, 1] \n\thave(%v)", c.Tau)
	}
	if c.Replay.Type != replay.Uniform {
		return fmt.Errorf("ddpg: only uniform replay is supported "+
			"\n\thave(%v)", c.Replay.Type)
	}
	if c.Noise < 0.0 || c.NoiseMin < 0.0 {
		return fmt.Errorf("ddpg: noise scales cannot be negative "+
			"\n\thave(%v, %v)", c.Noise, c.NoiseMin)
	}
	if c.NoiseDecay <= 0.0 || c.NoiseDecay > 1.0 {
		return fmt.Errorf("ddpg: noise decay must be in (0, 1] "+
			"\n\thave(%v)", c.NoiseDecay)
	}
	return nil
}
