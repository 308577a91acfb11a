// Package environment outlines the interfaces needed to implement
// concrete environments that agents learn to control.
package environment

import (
	"gonum.org/v1/gonum/mat"

	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Cardinality indicates whether the associated type is continuous or
// discrete
type Cardinality int

const (
	Discrete Cardinality = iota
	Continuous
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action, an observation, a discount, or a
// reward.
type SpecType int

const (
	Action SpecType = iota
	Observation
	Discount
	Reward
)

// Spec implements a specification, which tells the type, shape, and
// bounds of an action, observation, discount, or reward.
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec returns a new Spec
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	return Spec{
		Shape:       shape,
		Type:        t,
		LowerBound:  lowerBound,
		UpperBound:  upperBound,
		Cardinality: cardinality,
	}
}

// Environment implements a simulated environment. Environments start
// ready to use: the constructor returns the first timestep of the
// first episode.
type Environment interface {
	// Reset resets the environment between episodes and returns the
	// first timestep of the new episode
	Reset() (ts.TimeStep, error)

	// Step takes a single environmental step. The returned bool
	// indicates whether the episode has ended.
	Step(action *mat.VecDense) (ts.TimeStep, bool, error)

	// CurrentTimeStep returns the last timestep of the environment
	CurrentTimeStep() ts.TimeStep

	ObservationSpec() Spec
	ActionSpec() Spec

	// Render displays or records the current frame
	Render() error

	Close() error
}
