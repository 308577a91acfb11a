package timestep

import "gonum.org/v1/gonum/mat"

// Transition is an immutable record of one interaction step. Once a
// Transition has been stored in a replay buffer, ownership of its data
// belongs to the buffer and it is never mutated in place.
//
// A nil NextState signals a terminal transition. On terminal
// transitions the Discount is always 0 so that bootstrapped update
// targets reduce to the immediate reward.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	Discount  float64
	NextState mat.Vector
}

// NewTransition packages an environmental step and the action taken at
// the previous step into a Transition. The discount of the next step
// determines the bootstrap discount of the transition.
func NewTransition(step TimeStep, action mat.Vector,
	nextStep TimeStep) Transition {
	t := Transition{
		State:    step.Observation,
		Action:   action,
		Reward:   nextStep.Reward,
		Discount: nextStep.Discount,
	}

	if !nextStep.Last() {
		t.NextState = nextStep.Observation
	} else {
		t.Discount = 0.0
	}

	return t
}

// NewTerminalTransition returns a Transition for which no next state
// exists, e.g. when an episode was cut off before the environment
// produced a successor observation.
func NewTerminalTransition(step TimeStep, action mat.Vector,
	reward float64) Transition {
	return Transition{
		State:    step.Observation,
		Action:   action,
		Reward:   reward,
		Discount: 0.0,
	}
}

// Terminal returns whether the transition ends an episode
func (t Transition) Terminal() bool {
	return t.NextState == nil
}
