package replay

import (
	"math/rand"

	"github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// UniformBuffer implements a fixed-capacity replay buffer where
// transitions are sampled uniformly at random with replacement and the
// oldest transition is evicted once the buffer is full (ring-buffer
// semantics).
type UniformBuffer struct {
	storage

	// insertPos is the slot at which the next transition is stored.
	// Slots are reused in insertion order once the buffer is full.
	insertPos int
	isFull    bool

	minCapacity int
	maxCapacity int
	batchSize   int

	rng *rand.Rand
}

// NewUniform returns a new UniformBuffer. The minCapacity parameter
// determines the number of transitions required in the buffer before
// sampling is allowed and maxCapacity the number of transitions
// allowed in the buffer at any given time.
func NewUniform(minCapacity, maxCapacity, batchSize, featureSize,
	actionSize int, seed int64) (*UniformBuffer, error) {
	source := rand.NewSource(seed)

	return &UniformBuffer{
		storage: newStorage(maxCapacity, featureSize, actionSize),

		insertPos: 0,
		isFull:    false,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		batchSize:   batchSize,

		rng: rand.New(source),
	}, nil
}

// Add adds a transition to the buffer, evicting the oldest stored
// transition if the buffer is at maximum capacity
func (u *UniformBuffer) Add(t timestep.Transition) error {
	if err := u.set(u.insertPos, t); err != nil {
		return &BufferError{Op: "add", Err: err}
	}

	u.insertPos++
	if u.insertPos == u.maxCapacity {
		u.insertPos = 0
		u.isFull = true
	}

	return nil
}

// Sample samples and returns a batch of transitions from the buffer.
// Transitions are drawn uniformly at random with replacement, so a
// single transition may appear multiple times in the batch. All
// importance-sampling weights of the returned batch are 1.
func (u *UniformBuffer) Sample() (*Batch, error) {
	if u.Len() == 0 {
		return nil, &BufferError{Op: "sample", Err: errEmptyBuffer}
	}
	if u.Len() < u.minCapacity {
		return nil, &BufferError{Op: "sample", Err: errInsufficientSamples}
	}

	indices := make([]int, u.batchSize)
	for i := range indices {
		indices[i] = u.rng.Intn(u.Len())
	}

	return u.batch(indices), nil
}

// Len returns the current number of transitions in the buffer
func (u *UniformBuffer) Len() int {
	if u.isFull {
		return u.maxCapacity
	}
	return u.insertPos
}

// MaxCapacity returns the maximum number of transitions that are
// allowed in the buffer
func (u *UniformBuffer) MaxCapacity() int {
	return u.maxCapacity
}

// MinCapacity returns the minimum number of transitions required in
// the buffer before sampling is allowed
func (u *UniformBuffer) MinCapacity() int {
	return u.minCapacity
}

// BatchSize returns the number of transitions sampled using Sample()
func (u *UniformBuffer) BatchSize() int {
	return u.batchSize
}
