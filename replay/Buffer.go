// Package replay implements bounded replay buffers of environmental
// transitions. Buffers decorrelate training updates from the temporal
// order of data collection by sampling stored transitions.
//
// Two sampling policies are provided. The Uniform buffer samples
// transitions uniformly at random with replacement and evicts the
// oldest transition when full. The Prioritized buffer samples
// transitions proportionally to a priority raised to a configurable
// exponent and corrects the induced bias with importance-sampling
// weights.
//
// Pixel observations should be flattened before adding to a buffer.
package replay

import (
	"fmt"

	"github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Buffer implements a bounded replay buffer of transitions
type Buffer interface {
	// Add adds a transition to the buffer, evicting a stored
	// transition if the buffer is at maximum capacity
	Add(t timestep.Transition) error

	// Sample samples a batch of transitions from the buffer
	Sample() (*Batch, error)

	// Len returns the current number of transitions in the buffer
	Len() int

	// MaxCapacity returns the maximum allowable transitions in the
	// buffer
	MaxCapacity() int

	// MinCapacity returns the number of transitions required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of transitions returned by Sample()
	BatchSize() int
}

// Batch holds a batch of transitions sampled from a Buffer. The data
// of transition i in the batch is stored at row i of each field, with
// States and NextStates holding featureSize columns per row and
// Actions holding actionSize columns per row. All data is row-major.
//
// For terminal transitions the NextStates row is zero and the
// corresponding discount is 0, so that bootstrapped update targets
// reduce to the immediate reward.
//
// Weights holds the importance-sampling correction weight of each
// sampled transition. For uniformly sampled batches every weight is 1.
// Indices identifies the buffer slot each transition was sampled from
// and is the handle used to update priorities after new TD errors have
// been computed.
type Batch struct {
	States     []float64
	Actions    []float64
	Rewards    []float64
	Discounts  []float64
	NextStates []float64

	Weights []float64
	Indices []int
}

// Type describes the available replay buffer sampling policies
type Type string

const (
	Uniform     Type = "Uniform"
	Prioritized Type = "Prioritized"
)

// Config implements a specific configuration of a replay Buffer so
// that buffers can be described in configuration files.
type Config struct {
	Type        Type
	MaxCapacity int
	MinCapacity int
	BatchSize   int

	// Prioritized replay only
	Alpha            float64 // Priority exponent
	Beta             float64 // Importance-sampling exponent
	NormalizeWeights bool    // Normalize weights by the batch maximum
}

// Create creates and returns the Buffer described by the Config. The
// featureSize and actionSize parameters define the size of the feature
// and action vectors of stored transitions.
func (c Config) Create(featureSize, actionSize int, seed int64) (Buffer,
	error) {
	if c.MinCapacity <= 0 {
		return nil, fmt.Errorf("create: minCapacity must be > 0")
	}
	if c.MaxCapacity < 1 {
		return nil, fmt.Errorf("create: maxCapacity must be >= 1")
	}
	if c.MaxCapacity < c.BatchSize {
		return nil, fmt.Errorf("create: cannot have batch size (%v) > max "+
			"buffer capacity (%v)", c.BatchSize, c.MaxCapacity)
	}

	switch c.Type {
	case Uniform:
		return NewUniform(c.MinCapacity, c.MaxCapacity, c.BatchSize,
			featureSize, actionSize, seed)

	case Prioritized:
		return NewPrioritized(c.MinCapacity, c.MaxCapacity, c.BatchSize,
			featureSize, actionSize, c.Alpha, c.Beta, c.NormalizeWeights,
			seed)
	}

	return nil, fmt.Errorf("create: no such buffer type (%v)", c.Type)
}

// storage holds the flat caches shared by the concrete buffer
// implementations. Transition i occupies row i of each cache.
type storage struct {
	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	discountCache  []float64
	nextStateCache []float64

	featureSize int
	actionSize  int
}

func newStorage(capacity, featureSize, actionSize int) storage {
	return storage{
		stateCache:     make([]float64, capacity*featureSize),
		actionCache:    make([]float64, capacity*actionSize),
		rewardCache:    make([]float64, capacity),
		discountCache:  make([]float64, capacity),
		nextStateCache: make([]float64, capacity*featureSize),

		featureSize: featureSize,
		actionSize:  actionSize,
	}
}

// set copies the data of a transition into row index of the caches.
// The row of the next state cache is zeroed for terminal transitions.
func (s *storage) set(index int, t timestep.Transition) error {
	if t.State.Len() != s.featureSize {
		return fmt.Errorf("set: invalid feature size \n\twant(%v)\n\thave(%v)",
			s.featureSize, t.State.Len())
	}
	if t.Action.Len() != s.actionSize {
		return fmt.Errorf("set: invalid action size \n\twant(%v)\n\thave(%v)",
			s.actionSize, t.Action.Len())
	}
	if !t.Terminal() && t.NextState.Len() != s.featureSize {
		return fmt.Errorf("set: invalid next state feature size "+
			"\n\twant(%v)\n\thave(%v)", s.featureSize, t.NextState.Len())
	}

	stateInd := index * s.featureSize
	for i := 0; i < s.featureSize; i++ {
		s.stateCache[stateInd+i] = t.State.AtVec(i)
		if t.Terminal() {
			s.nextStateCache[stateInd+i] = 0.0
		} else {
			s.nextStateCache[stateInd+i] = t.NextState.AtVec(i)
		}
	}

	actionInd := index * s.actionSize
	for i := 0; i < s.actionSize; i++ {
		s.actionCache[actionInd+i] = t.Action.AtVec(i)
	}

	s.rewardCache[index] = t.Reward
	s.discountCache[index] = t.Discount

	return nil
}

// batch gathers the transitions at the argument indices into a Batch.
// All data is copied so that the returned batch never aliases the
// buffer's storage.
func (s *storage) batch(indices []int) *Batch {
	n := len(indices)

	b := &Batch{
		States:     make([]float64, n*s.featureSize),
		Actions:    make([]float64, n*s.actionSize),
		Rewards:    make([]float64, n),
		Discounts:  make([]float64, n),
		NextStates: make([]float64, n*s.featureSize),
		Weights:    make([]float64, n),
		Indices:    make([]int, n),
	}

	for i, index := range indices {
		batchStart := i * s.featureSize
		expStart := index * s.featureSize
		copy(b.States[batchStart:batchStart+s.featureSize],
			s.stateCache[expStart:expStart+s.featureSize])
		copy(b.NextStates[batchStart:batchStart+s.featureSize],
			s.nextStateCache[expStart:expStart+s.featureSize])

		batchStart = i * s.actionSize
		expStart = index * s.actionSize
		copy(b.Actions[batchStart:batchStart+s.actionSize],
			s.actionCache[expStart:expStart+s.actionSize])

		b.Rewards[i] = s.rewardCache[index]
		b.Discounts[i] = s.discountCache[index]
		b.Weights[i] = 1.0
		b.Indices[i] = index
	}

	return b
}
