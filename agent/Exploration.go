package agent

import (
	"fmt"

	"github.com/leesper/go_rng"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// GaussianNoise perturbs continuous actions with zero-mean Gaussian
// noise for exploration. The noise scale decays geometrically between
// episodes down to a floor:
//
//	scale <- max(scale * decay, min)
type GaussianNoise struct {
	scale float64
	decay float64
	min   float64

	rng *rng.GaussianGenerator
}

// NewGaussianNoise returns a new GaussianNoise with the given initial
// scale, per-episode decay rate, and scale floor.
func NewGaussianNoise(scale, decay, min float64,
	seed int64) (*GaussianNoise, error) {
	if scale < 0.0 || min < 0.0 {
		return nil, fmt.Errorf("newgaussiannoise: noise scales cannot be "+
			"negative \n\thave(scale %v, min %v)", scale, min)
	}
	if decay <= 0.0 || decay > 1.0 {
		return nil, fmt.Errorf("newgaussiannoise: decay must be in (0, 1] "+
			"\n\thave(%v)", decay)
	}

	return &GaussianNoise{
		scale: scale,
		decay: decay,
		min:   min,
		rng:   rng.NewGaussianGenerator(seed),
	}, nil
}

// Scale returns the current noise scale
func (g *GaussianNoise) Scale() float64 {
	return g.scale
}

// Decay decays the noise scale geometrically, stopping at the floor.
// Decay should be called once at the end of each episode.
func (g *GaussianNoise) Decay() {
	g.scale *= g.decay
	if g.scale < g.min {
		g.scale = g.min
	}
}

// Perturb adds Gaussian noise to each action dimension and clips the
// result to the given per-dimension bounds. The action is modified in
// place and returned.
func (g *GaussianNoise) Perturb(action *mat.VecDense,
	bounds []r1.Interval) (*mat.VecDense, error) {
	if len(bounds) != action.Len() {
		return nil, fmt.Errorf("perturb: one bound per action dimension "+
			"required \n\twant(%v)\n\thave(%v)", action.Len(), len(bounds))
	}

	for i := 0; i < action.Len(); i++ {
		v := action.AtVec(i) + g.rng.Gaussian(0.0, 1.0)*g.scale
		if v < bounds[i].Min {
			v = bounds[i].Min
		} else if v > bounds[i].Max {
			v = bounds[i].Max
		}
		action.SetVec(i, v)
	}

	return action, nil
}

// LinearSchedule anneals a value linearly from an initial to a final
// value over a fixed number of steps, staying constant afterward. It
// is used for ε-greedy exploration where ε decays as training
// progresses.
type LinearSchedule struct {
	initial    float64
	final      float64
	decaySteps int
	steps      int
}

// NewLinearSchedule returns a new LinearSchedule
func NewLinearSchedule(initial, final float64,
	decaySteps int) (*LinearSchedule, error) {
	if decaySteps < 1 {
		return nil, fmt.Errorf("newlinearschedule: decaySteps must be "+
			"positive \n\thave(%v)", decaySteps)
	}
	if final > initial {
		return nil, fmt.Errorf("newlinearschedule: final value cannot "+
			"exceed initial value \n\thave(%v > %v)", final, initial)
	}

	return &LinearSchedule{
		initial:    initial,
		final:      final,
		decaySteps: decaySteps,
	}, nil
}

// Value returns the current value of the schedule
func (l *LinearSchedule) Value() float64 {
	if l.steps >= l.decaySteps {
		return l.final
	}
	progress := float64(l.steps) / float64(l.decaySteps)
	return l.initial + (l.final-l.initial)*progress
}

// Advance advances the schedule by one step
func (l *LinearSchedule) Advance() {
	l.steps++
}
