package dqn

import (
	"fmt"

	"github.com/MertAtesmen/deep-racing-gymnasium/initwfn"
	"github.com/MertAtesmen/deep-racing-gymnasium/network"
	"github.com/MertAtesmen/deep-racing-gymnasium/replay"
	"github.com/MertAtesmen/deep-racing-gymnasium/solver"
)

// Config implements a configuration of the DQN agent
type Config struct {
	// Network architecture of the action-value network
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	InitWFn     *initwfn.InitWFn

	Solver *solver.Solver

	// ε-greedy exploration with linear per-step decay
	EpsilonInitial    float64
	EpsilonFinal      float64
	EpsilonDecaySteps int

	// Prioritized replay
	Replay replay.Config

	// Gradient steps between full target network refreshes
	TargetUpdateInterval int

	// Discretization levels of the continuous action space
	TurnLevels  []float64
	GasLevels   []float64
	BrakeLevels []float64
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
		return fmt.Errorf("dqn: at least one hidden layer is required")
	}
	if len(c.HiddenSizes) != len(c.Biases) ||
		len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("dqn: one bias and one activation per hidden "+
			"layer required \n\thave(%v sizes, %v biases, %v activations)",
			len(c.HiddenSizes), len(c.Biases), len(c.Activations))
	}
	if c.InitWFn == nil {
		return fmt.Errorf("dqn: no weight initializer given")
	}
	if c.Solver == nil {
		return fmt.Errorf("dqn: no solver given")
	}
	if c.EpsilonInitial < 0.0 || c.EpsilonInitial > 1.0 ||
		c.EpsilonFinal < 0.0 || c.EpsilonFinal > c.EpsilonInitial {
		return fmt.Errorf("dqn: epsilon schedule must satisfy 0 <= final "+
			"<= initial <= 1 \n\thave(%v, %v)", c.EpsilonInitial,
			c.EpsilonFinal)
	}
	if c.EpsilonDecaySteps < 1 {
		return fmt.Errorf("dqn: epsilon decay steps must be positive "+
			"\n\thave(%v)", c.EpsilonDecaySteps)
	}
	if c.Replay.Type != replay.Prioritized {
		return fmt.Errorf("dqn: only prioritized replay is supported "+
			"\n\thave(%v)", c.Replay.Type)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("dqn: target update interval must be positive "+
			"\n\thave(%v)", c.TargetUpdateInterval)
	}
	if len(c.TurnLevels) == 0 || len(c.GasLevels) == 0 ||
		len(c.BrakeLevels) == 0 {
		return fmt.Errorf("dqn: at least one level per action dimension "+
			"required \n\thave(turn %v, gas %v, brake %v)",
			len(c.TurnLevels), len(c.GasLevels), len(c.BrakeLevels))
	}
	return nil
}
