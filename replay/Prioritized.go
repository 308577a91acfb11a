package replay

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// minPriority is the floor applied to every stored priority so that no
// transition ever has zero sampling probability.
const minPriority = 1e-6

// PrioritizedBuffer implements a fixed-capacity replay buffer where
// transitions are sampled with probability proportional to
// priority^alpha and the induced sampling bias is corrected with
// importance-sampling weights proportional to (1 / (N * P(i)))^beta.
//
// Priorities of fresh transitions are seeded by the caller from the
// TD-error magnitude at insertion time, so that novel high-surprise
// transitions are sampled early. After training on a sampled batch,
// callers report the recomputed TD errors through UpdatePriorities.
// Sampling itself never mutates stored priorities.
//
// When the buffer is full, the transition with the lowest priority is
// evicted to make room for a fresh one.
type PrioritizedBuffer struct {
	storage

	priorities []float64
	size       int

	alpha float64
	beta  float64

	// normalizeWeights scales the importance-sampling weights of each
	// sampled batch by the maximum weight in that batch
	normalizeWeights bool

	minCapacity int
	maxCapacity int
	batchSize   int

	rng *rand.Rand
}

// NewPrioritized returns a new PrioritizedBuffer. The alpha parameter
// is the priority exponent and the beta parameter the
// importance-sampling exponent. When normalizeWeights is true, the
// importance-sampling weights of each sampled batch are divided by the
// largest weight in the batch.
func NewPrioritized(minCapacity, maxCapacity, batchSize, featureSize,
	actionSize int, alpha, beta float64, normalizeWeights bool,
	seed int64) (*PrioritizedBuffer, error) {
	if alpha < 0 {
		return nil, fmt.Errorf("newprioritized: alpha must be >= 0")
	}
	if beta < 0 {
		return nil, fmt.Errorf("newprioritized: beta must be >= 0")
	}

	source := rand.NewSource(seed)

	return &PrioritizedBuffer{
		storage: newStorage(maxCapacity, featureSize, actionSize),

		priorities: make([]float64, maxCapacity),
		size:       0,

		alpha:            alpha,
		beta:             beta,
		normalizeWeights: normalizeWeights,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		batchSize:   batchSize,

		rng: rand.New(source),
	}, nil
}

// Add adds a transition with the highest priority currently stored in
// the buffer, or with priority 1 if the buffer is empty. Prefer
// AddWithPriority where a TD-error estimate for the transition exists.
func (p *PrioritizedBuffer) Add(t timestep.Transition) error {
	priority := 1.0
	for i := 0; i < p.size; i++ {
		if p.priorities[i] > priority {
			priority = p.priorities[i]
		}
	}

	return p.AddWithPriority(t, priority)
}

// AddWithPriority adds a transition with the given priority, evicting
// the stored transition of lowest priority if the buffer is at maximum
// capacity. The priority should be the TD-error magnitude of the
// transition at insertion time and is clamped below by a small
// positive floor.
func (p *PrioritizedBuffer) AddWithPriority(t timestep.Transition,
	priority float64) error {
	if math.IsNaN(priority) || math.IsInf(priority, 0) {
		return &BufferError{
			Op:  "add",
			Err: fmt.Errorf("priority is not finite (%v)", priority),
		}
	}

	index := p.size
	if p.size == p.maxCapacity {
		index = p.lowestPriority()
	}

	if err := p.set(index, t); err != nil {
		return &BufferError{Op: "add", Err: err}
	}
	p.priorities[index] = math.Max(priority, minPriority)

	if p.size < p.maxCapacity {
		p.size++
	}

	return nil
}

// Sample samples and returns a batch of transitions from the buffer.
// Transition i is drawn with probability priority(i)^alpha / sum over
// all stored transitions of priority^alpha. The Weights field of the
// returned batch holds the importance-sampling correction of each
// drawn transition, and the Indices field the buffer slots to address
// in a subsequent UpdatePriorities call.
func (p *PrioritizedBuffer) Sample() (*Batch, error) {
	if p.size == 0 {
		return nil, &BufferError{Op: "sample", Err: errEmptyBuffer}
	}
	if p.size < p.minCapacity {
		return nil, &BufferError{Op: "sample", Err: errInsufficientSamples}
	}

	// Cumulative sum of priority^alpha over the stored transitions
	cumulative := make([]float64, p.size)
	total := 0.0
	for i := 0; i < p.size; i++ {
		total += math.Pow(p.priorities[i], p.alpha)
		cumulative[i] = total
	}

	indices := make([]int, p.batchSize)
	for i := range indices {
		target := p.rng.Float64() * total
		indices[i] = sort.SearchFloat64s(cumulative, target)
		if indices[i] == p.size {
			indices[i] = p.size - 1
		}
	}

	batch := p.batch(indices)

	// Importance-sampling correction: w(i) = (1 / (N * P(i)))^beta
	maxWeight := 0.0
	for i, index := range indices {
		prob := math.Pow(p.priorities[index], p.alpha) / total
		batch.Weights[i] = math.Pow(1.0/(float64(p.size)*prob), p.beta)
		if batch.Weights[i] > maxWeight {
			maxWeight = batch.Weights[i]
		}
	}
	if p.normalizeWeights {
		for i := range batch.Weights {
			batch.Weights[i] /= maxWeight
		}
	}

	return batch, nil
}

// UpdatePriorities sets the priority of the transitions stored at the
// argument buffer slots, which should be the Indices of a previously
// sampled batch. The priorities parameter should hold the recomputed
// TD-error magnitudes of these transitions. Priorities are clamped
// below by a small positive floor.
func (p *PrioritizedBuffer) UpdatePriorities(indices []int,
	priorities []float64) error {
	if len(indices) != len(priorities) {
		return &BufferError{
			Op: "updatepriorities",
			Err: fmt.Errorf("have %v indices but %v priorities",
				len(indices), len(priorities)),
		}
	}

	for i, index := range indices {
		if index < 0 || index >= p.size {
			return &BufferError{
				Op:  "updatepriorities",
				Err: fmt.Errorf("index out of range (%v)", index),
			}
		}
		if math.IsNaN(priorities[i]) || math.IsInf(priorities[i], 0) {
			return &BufferError{
				Op: "updatepriorities",
				Err: fmt.Errorf("priority is not finite (%v)",
					priorities[i]),
			}
		}
		p.priorities[index] = math.Max(priorities[i], minPriority)
	}

	return nil
}

// Priority returns the priority of the transition stored at a buffer
// slot
func (p *PrioritizedBuffer) Priority(index int) float64 {
	return p.priorities[index]
}

// lowestPriority returns the slot of the stored transition with the
// lowest priority
func (p *PrioritizedBuffer) lowestPriority() int {
	lowest := 0
	for i := 1; i < p.size; i++ {
		if p.priorities[i] < p.priorities[lowest] {
			lowest = i
		}
	}
	return lowest
}

// Len returns the current number of transitions in the buffer
func (p *PrioritizedBuffer) Len() int {
	return p.size
}

// MaxCapacity returns the maximum number of transitions that are
// allowed in the buffer
func (p *PrioritizedBuffer) MaxCapacity() int {
	return p.maxCapacity
}

// MinCapacity returns the minimum number of transitions required in
// the buffer before sampling is allowed
func (p *PrioritizedBuffer) MinCapacity() int {
	return p.minCapacity
}

// BatchSize returns the number of transitions sampled using Sample()
func (p *PrioritizedBuffer) BatchSize() int {
	return p.batchSize
}
