package dqn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ActionTable enumerates a discrete action set over the continuous
// [turn, gas, brake] action space. The table is the Cartesian product
// of the per-dimension levels, so a discrete action index maps to one
// concrete continuous action.
//
// Indices enumerate brake levels fastest and turn levels slowest.
type ActionTable struct {
	actions [][3]float64
}

// NewActionTable returns a new ActionTable over the given levels
func NewActionTable(turn, gas, brake []float64) (*ActionTable, error) {
	if len(turn) == 0 || len(gas) == 0 || len(brake) == 0 {
		return nil, fmt.Errorf("newactiontable: at least one level per "+
			"dimension required \n\thave(turn %v, gas %v, brake %v)",
			len(turn), len(gas), len(brake))
	}

	actions := make([][3]float64, 0, len(turn)*len(gas)*len(brake))
	for _, t := range turn {
		for _, g := range gas {
			for _, b := range brake {
				actions = append(actions, [3]float64{t, g, b})
			}
		}
	}

	return &ActionTable{actions: actions}, nil
}

// Len returns the number of discrete actions in the table
func (a *ActionTable) Len() int {
	return len(a.actions)
}

// Action returns the continuous action at the given index
func (a *ActionTable) Action(i int) (*mat.VecDense, error) {
	if i < 0 || i >= len(a.actions) {
		return nil, fmt.Errorf("action: index out of range "+
			"\n\twant(<%v)\n\thave(%v)", len(a.actions), i)
	}
	action := a.actions[i]
	return mat.NewVecDense(3, []float64{action[0], action[1],
		action[2]}), nil
}
