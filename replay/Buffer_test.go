package replay

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// makeTransition returns a transition whose state features all equal
// id, so that sampled transitions can be identified in tests.
func makeTransition(id float64, featureSize, actionSize int) timestep.Transition {
	state := make([]float64, featureSize)
	nextState := make([]float64, featureSize)
	for i := range state {
		state[i] = id
		nextState[i] = id + 0.5
	}
	action := make([]float64, actionSize)

	return timestep.Transition{
		State:     mat.NewVecDense(featureSize, state),
		Action:    mat.NewVecDense(actionSize, action),
		Reward:    id,
		Discount:  0.99,
		NextState: mat.NewVecDense(featureSize, nextState),
	}
}

func TestUniformLenNeverExceedsCapacity(t *testing.T) {
	const capacity = 5

	buffer, err := NewUniform(1, capacity, 2, 3, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for push := 1; push <= 3*capacity; push++ {
		if err := buffer.Add(makeTransition(float64(push), 3, 1)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}

		expected := push
		if expected > capacity {
			expected = capacity
		}
		if buffer.Len() != expected {
			t.Errorf("after %v pushes: got length %v, expected %v", push,
				buffer.Len(), expected)
		}
	}
}

func TestUniformEvictsOldest(t *testing.T) {
	const (
		capacity = 4
		extra    = 3
	)

	buffer, err := NewUniform(1, capacity, 8, 1, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for push := 0; push < capacity+extra; push++ {
		if err := buffer.Add(makeTransition(float64(push), 1, 1)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}
	}

	// The first extra pushes must have been evicted
	batch, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}
	for _, id := range batch.States {
		if id < extra {
			t.Errorf("sampled transition %v, which should have been evicted",
				id)
		}
	}
}

func TestUniformSampleFromEmpty(t *testing.T) {
	buffer, err := NewUniform(1, 10, 2, 1, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	_, err = buffer.Sample()
	if !IsEmptyBuffer(err) {
		t.Errorf("expected empty buffer error, got %v", err)
	}
}

func TestUniformMinCapacityGate(t *testing.T) {
	buffer, err := NewUniform(3, 10, 2, 1, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	buffer.Add(makeTransition(0.0, 1, 1))
	buffer.Add(makeTransition(1.0, 1, 1))

	if _, err := buffer.Sample(); !IsInsufficientSamples(err) {
		t.Errorf("expected insufficient samples error, got %v", err)
	}

	buffer.Add(makeTransition(2.0, 1, 1))
	if _, err := buffer.Sample(); err != nil {
		t.Errorf("expected successful sample, got %v", err)
	}
}

func TestPrioritizedSamplingFrequency(t *testing.T) {
	const (
		p1      = 10.0
		p2      = 1.0
		draws   = 10000
		epsilon = 0.02 // Statistical tolerance
	)

	buffer, err := NewPrioritized(1, 2, 1, 1, 1, 1.0, 1.0, true, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	buffer.AddWithPriority(makeTransition(1.0, 1, 1), p1)
	buffer.AddWithPriority(makeTransition(2.0, 1, 1), p2)

	firstDrawn := 0
	for i := 0; i < draws; i++ {
		batch, err := buffer.Sample()
		if err != nil {
			t.Fatalf("could not sample: %v", err)
		}
		if batch.States[0] == 1.0 {
			firstDrawn++
		}
	}

	expected := p1 / (p1 + p2)
	got := float64(firstDrawn) / float64(draws)
	if math.Abs(got-expected) > epsilon {
		t.Errorf("entry 1 drawn with frequency %v, expected ≈ %v", got,
			expected)
	}
}

func TestPrioritizedUniformPrioritiesGiveUnitWeights(t *testing.T) {
	buffer, err := NewPrioritized(1, 4, 4, 1, 1, 0.6, 0.4, false, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for i := 0; i < 4; i++ {
		buffer.AddWithPriority(makeTransition(float64(i), 1, 1), 2.5)
	}

	batch, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	for i, w := range batch.Weights {
		if math.Abs(w-1.0) > 1e-12 {
			t.Errorf("weight %v of uniformly-prioritized batch is %v, "+
				"expected 1", i, w)
		}
	}
}

func TestPrioritizedEvictsLowestPriority(t *testing.T) {
	buffer, err := NewPrioritized(1, 3, 3, 1, 1, 1.0, 1.0, true, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	buffer.AddWithPriority(makeTransition(0.0, 1, 1), 5.0)
	buffer.AddWithPriority(makeTransition(1.0, 1, 1), 0.1) // Lowest
	buffer.AddWithPriority(makeTransition(2.0, 1, 1), 3.0)

	// Overflow: the priority-0.1 transition should be replaced
	buffer.AddWithPriority(makeTransition(3.0, 1, 1), 4.0)

	if buffer.Len() != 3 {
		t.Fatalf("got length %v, expected 3", buffer.Len())
	}

	for i := 0; i < 100; i++ {
		batch, err := buffer.Sample()
		if err != nil {
			t.Fatalf("could not sample: %v", err)
		}
		for _, id := range batch.States {
			if id == 1.0 {
				t.Fatal("sampled the lowest-priority transition, which " +
					"should have been evicted")
			}
		}
	}
}

func TestPrioritizedUpdatePriorities(t *testing.T) {
	buffer, err := NewPrioritized(1, 2, 1, 1, 1, 1.0, 1.0, true, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	buffer.AddWithPriority(makeTransition(1.0, 1, 1), 10.0)
	buffer.AddWithPriority(makeTransition(2.0, 1, 1), 10.0)

	// Crush the priority of slot 0: it should essentially never be
	// sampled afterwards
	err = buffer.UpdatePriorities([]int{0}, []float64{0.0})
	if err != nil {
		t.Fatalf("could not update priorities: %v", err)
	}

	if buffer.Priority(0) != minPriority {
		t.Errorf("priority not clamped to floor: got %v, expected %v",
			buffer.Priority(0), minPriority)
	}

	firstDrawn := 0
	for i := 0; i < 1000; i++ {
		batch, err := buffer.Sample()
		if err != nil {
			t.Fatalf("could not sample: %v", err)
		}
		if batch.States[0] == 1.0 {
			firstDrawn++
		}
	}
	if firstDrawn > 5 {
		t.Errorf("crushed-priority transition drawn %v/1000 times", firstDrawn)
	}
}

func TestPrioritizedRejectsNonFinitePriority(t *testing.T) {
	buffer, err := NewPrioritized(1, 2, 1, 1, 1, 1.0, 1.0, true, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	if err := buffer.AddWithPriority(makeTransition(1.0, 1, 1),
		math.NaN()); err == nil {
		t.Error("expected error adding transition with NaN priority")
	}

	buffer.AddWithPriority(makeTransition(1.0, 1, 1), 1.0)
	if err := buffer.UpdatePriorities([]int{0},
		[]float64{math.Inf(1)}); err == nil {
		t.Error("expected error updating priority to Inf")
	}
}

func TestTerminalTransitionStoredWithZeroDiscount(t *testing.T) {
	buffer, err := NewUniform(1, 2, 1, 2, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	terminal := timestep.Transition{
		State:    mat.NewVecDense(2, []float64{1.0, 2.0}),
		Action:   mat.NewVecDense(1, []float64{0.5}),
		Reward:   -1.0,
		Discount: 0.0,
	}
	if err := buffer.Add(terminal); err != nil {
		t.Fatalf("could not add terminal transition: %v", err)
	}

	batch, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	if batch.Discounts[0] != 0.0 {
		t.Errorf("terminal discount is %v, expected 0", batch.Discounts[0])
	}
	for i, v := range batch.NextStates {
		if v != 0.0 {
			t.Errorf("terminal next state feature %v is %v, expected 0", i, v)
		}
	}
}

func TestConfigCreate(t *testing.T) {
	tests := []struct {
		config  Config
		wantErr bool
	}{
		{Config{Type: Uniform, MaxCapacity: 10, MinCapacity: 1,
			BatchSize: 2}, false},
		{Config{Type: Prioritized, MaxCapacity: 10, MinCapacity: 1,
			BatchSize: 2, Alpha: 0.6, Beta: 0.4}, false},
		{Config{Type: Uniform, MaxCapacity: 1, MinCapacity: 1,
			BatchSize: 2}, true}, // batch size > capacity
		{Config{Type: Uniform, MaxCapacity: 10, MinCapacity: 0,
			BatchSize: 2}, true}, // min capacity not positive
		{Config{Type: "Banana", MaxCapacity: 10, MinCapacity: 1,
			BatchSize: 2}, true}, // unknown type
	}

	for i, test := range tests {
		_, err := test.config.Create(4, 2, 14)
		if (err != nil) != test.wantErr {
			t.Errorf("test %v: got error %v, wantErr %v", i, err,
				test.wantErr)
		}
	}
}
