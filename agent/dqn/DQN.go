// Package dqn implements the Deep Q-Network algorithm over a
// discretized action space.
//
// The continuous [turn, gas, brake] action space is discretized into
// the Cartesian product of per-dimension levels, and a single network
// predicts one action value per discrete action. The network is
// regressed toward one-step bootstrapped targets
//
//	y = r + γ * max[Q'(s', a')]
//
// computed by a target network that is fully refreshed every fixed
// number of gradient steps. Transitions are sampled from a prioritized
// replay buffer; the induced sampling bias is corrected by weighting
// each sample's loss with its importance-sampling weight, and
// priorities are refreshed with the freshly computed TD errors after
// every update.
package dqn

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/MertAtesmen/deep-racing-gymnasium/agent"
	env "github.com/MertAtesmen/deep-racing-gymnasium/environment"
	"github.com/MertAtesmen/deep-racing-gymnasium/network"
	"github.com/MertAtesmen/deep-racing-gymnasium/replay"
	"github.com/MertAtesmen/deep-racing-gymnasium/target"
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Checkpoint filenames
const (
	qNetFile      string = "qnet.bin"
	targetNetFile string = "target_qnet.bin"
)

// DQN implements the Deep Q-Network algorithm
type DQN struct {
	table *ActionTable

	// Action selection networks with batch size 1
	qNet           network.NeuralNet
	qNetVM         G.VM
	targetSelect   network.NeuralNet
	targetSelectVM G.VM

	// Training graph
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     G.Solver

	nextStateActionValues *G.Node
	rewards               *G.Node
	discounts             *G.Node
	selectedActions       *G.Node
	weights               *G.Node
	tdErrors              *G.Node

	// Target network providing the update target
	targetNet     network.NeuralNet
	targetNetVM   G.VM
	targetManager *target.Manager

	replay     *replay.PrioritizedBuffer
	batchSize  int
	numActions int

	// Loss of the most recent learning step
	loss *G.Value

	epsilon *agent.LinearSchedule
	rng     *rand.Rand
	eval    bool

	prevStep   ts.TimeStep
	prevAction int

	// Updates skipped because a non-finite update target was computed
	skipped int
}

// New creates and returns a new DQN agent
func New(e env.Environment, config Config, seed int64) (*DQN, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	table, err := NewActionTable(config.TurnLevels, config.GasLevels,
		config.BrakeLevels)
	if err != nil {
		return nil, fmt.Errorf("dqn: %v", err)
	}
	numActions := table.Len()

	if e.ActionSpec().Shape.Len() != 3 {
		return nil, fmt.Errorf("dqn: environment actions must be "+
			"3-dimensional \n\thave(%v)", e.ActionSpec().Shape.Len())
	}

	features := e.ObservationSpec().Shape.Len()
	batchSize := config.BatchSize()
	init := config.InitWFn.InitWFn()

	// Action selection network
	gSelect := G.NewGraph()
	qNet, err := network.NewMultiHeadMLP(features, 1, numActions, gSelect,
		config.HiddenSizes, config.Biases, init, config.Activations)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create value network: %v",
			err)
	}
	qNetVM := G.NewTapeMachine(gSelect)

	// Batch-1 copy of the target network for single-transition TD
	// errors at insertion time.
	targetSelect, err := qNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("dqn: could not clone value network: %v",
			err)
	}
	targetSelectVM := G.NewTapeMachine(targetSelect.Graph())

	// Target network providing the update target for batches
	targetNetClone, err := qNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create target network: %v",
			err)
	}
	targetNet := targetNetClone
	targetNetVM := G.NewTapeMachine(targetNet.Graph())

	// Training network which learns the weights
	trainNet, err := qNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create learning network: %v",
			err)
	}
	gTrain := trainNet.Graph()

	// Update target: r + γ * max[Q'(s', a')]
	nextStateActionValues := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("targetActionVals"))
	rewards := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("reward"))
	discounts := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("discount"))

	updateTarget := G.Must(G.Max(nextStateActionValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	// One-hot actions taken at the sampled states select which
	// predicted action value enters the loss.
	selectedActions := G.NewMatrix(gTrain, tensor.Float64,
		G.WithName("actionSelected"),
		G.WithShape(batchSize, numActions))
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction(),
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	// Weighted mean squared TD error. The per-sample TD errors are
	// kept to refresh replay priorities after the update.
	weights := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("isWeights"))
	tdErrors := G.Must(G.Sub(updateTarget, selectedActionsValue))
	losses := G.Must(G.Square(tdErrors))
	losses = G.Must(G.HadamardProd(losses, weights))
	cost := G.Must(G.Mean(losses))

	var lossVal G.Value
	G.Read(cost, &lossVal)

	if _, err := G.Grad(cost, trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("dqn: could not compute gradient: %v", err)
	}
	trainNetVM := G.NewTapeMachine(gTrain,
		G.BindDualValues(trainNet.Learnables()...))

	targetManager, err := target.NewHard(trainNet, targetNet,
		config.TargetUpdateInterval)
	if err != nil {
		return nil, fmt.Errorf("dqn: %v", err)
	}
	if err := targetSelect.Set(targetNet); err != nil {
		return nil, fmt.Errorf("dqn: could not initialize target "+
			"selection network: %v", err)
	}
	if err := qNet.Set(trainNet); err != nil {
		return nil, fmt.Errorf("dqn: could not initialize selection "+
			"network: %v", err)
	}

	epsilon, err := agent.NewLinearSchedule(config.EpsilonInitial,
		config.EpsilonFinal, config.EpsilonDecaySteps)
	if err != nil {
		return nil, fmt.Errorf("dqn: %v", err)
	}

	// Replay stores the discrete action index as a 1-dimensional
	// action vector.
	buffer, err := config.Replay.Create(features, 1, seed)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create replay buffer: %v",
			err)
	}
	prioritized, ok := buffer.(*replay.PrioritizedBuffer)
	if !ok {
		return nil, fmt.Errorf("dqn: replay buffer is not prioritized")
	}

	return &DQN{
		table: table,

		qNet:           qNet,
		qNetVM:         qNetVM,
		targetSelect:   targetSelect,
		targetSelectVM: targetSelectVM,

		trainNet:   trainNet,
		trainNetVM: trainNetVM,
		solver:     config.Solver.Solver,

		nextStateActionValues: nextStateActionValues,
		rewards:               rewards,
		discounts:             discounts,
		selectedActions:       selectedActions,
		weights:               weights,
		tdErrors:              tdErrors,

		targetNet:     targetNet,
		targetNetVM:   targetNetVM,
		targetManager: targetManager,

		replay:     prioritized,
		batchSize:  batchSize,
		numActions: numActions,

		loss: &lossVal,

		epsilon: epsilon,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// ObserveFirst observes and records the first episodic timestep
func (d *DQN) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep is not the first of an "+
			"episode \n\thave(%v)", t.Number)
	}
	d.prevStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep. The resulting transition enters the replay buffer with a
// priority seeded from its TD error under the current networks.
func (d *DQN) Observe(_ mat.Vector, nextStep ts.TimeStep) error {
	actionIndex := mat.NewVecDense(1, []float64{float64(d.prevAction)})
	transition := ts.NewTransition(d.prevStep, actionIndex, nextStep)

	priority := math.Abs(d.TdError(transition))
	if err := d.replay.AddWithPriority(transition, priority); err != nil {
		return fmt.Errorf("observe: could not add transition: %v", err)
	}

	d.prevStep = nextStep
	return nil
}

// TdError returns the TD error of a single transition under the
// current value and target networks.
func (d *DQN) TdError(t ts.Transition) float64 {
	q := d.actionValues(d.qNet, d.qNetVM, t.State)[int(t.Action.AtVec(0))]

	var next float64
	if !t.Terminal() {
		nextValues := d.actionValues(d.targetSelect, d.targetSelectVM,
			t.NextState)
		next = nextValues[0]
		for _, v := range nextValues[1:] {
			if v > next {
				next = v
			}
		}
	}

	return t.Reward + t.Discount*next - q
}

// actionValues runs a batch-1 value network on a single observation
func (d *DQN) actionValues(net network.NeuralNet, vm G.VM,
	obs mat.Vector) []float64 {
	if err := net.SetInput(obs.(*mat.VecDense).RawVector().Data); err != nil {
		panic(fmt.Sprintf("actionvalues: %v", err))
	}
	if err := vm.RunAll(); err != nil {
		panic(fmt.Sprintf("actionvalues: could not run network: %v", err))
	}

	values := make([]float64, d.numActions)
	copy(values, net.Output().Data().([]float64))
	vm.Reset()

	return values
}

// Step updates the weights of the agent's value network
func (d *DQN) Step() error {
	batch, err := d.replay.Sample()
	if replay.IsEmptyBuffer(err) || replay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("step: could not sample replay buffer: %v", err)
	}

	// Next state action values from the target network
	if err := d.targetNet.SetInput(batch.NextStates); err != nil {
		return fmt.Errorf("step: could not set target net input: %v", err)
	}
	if err := d.targetNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target network: %v", err)
	}
	nextValues := make([]float64, d.batchSize*d.numActions)
	copy(nextValues, d.targetNet.Output().Data().([]float64))
	d.targetNetVM.Reset()

	// A non-finite target would poison the weights: skip the update
	// and report instead.
	for i := 0; i < d.batchSize; i++ {
		max := nextValues[i*d.numActions]
		for _, v := range nextValues[i*d.numActions : (i+1)*d.numActions] {
			if v > max {
				max = v
			}
		}
		y := batch.Rewards[i] + batch.Discounts[i]*max
		if math.IsNaN(y) || math.IsInf(y, 0) {
			d.skipped++
			fmt.Fprintf(os.Stderr, "Warning: skipping update with "+
				"non-finite target %v (%v skipped so far)\n", y, d.skipped)
			return nil
		}
	}

	// One-hot encode the sampled action indices
	oneHot := make([]float64, d.batchSize*d.numActions)
	for i := 0; i < d.batchSize; i++ {
		oneHot[i*d.numActions+int(batch.Actions[i])] = 1.0
	}

	lets := []struct {
		node    *G.Node
		backing []float64
		shape   tensor.Shape
	}{
		{d.nextStateActionValues, nextValues,
			tensor.Shape{d.batchSize, d.numActions}},
		{d.selectedActions, oneHot,
			tensor.Shape{d.batchSize, d.numActions}},
		{d.rewards, batch.Rewards, tensor.Shape{d.batchSize}},
		{d.discounts, batch.Discounts, tensor.Shape{d.batchSize}},
		{d.weights, batch.Weights, tensor.Shape{d.batchSize}},
	}
	for _, l := range lets {
		t := tensor.New(tensor.WithBacking(l.backing),
			tensor.WithShape(l.shape...))
		if err := G.Let(l.node, t); err != nil {
			return fmt.Errorf("step: could not set %v: %v", l.node.Name(),
				err)
		}
	}

	if err := d.trainNet.SetInput(batch.States); err != nil {
		return fmt.Errorf("step: could not set train net input: %v", err)
	}
	if err := d.trainNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run learning step: %v", err)
	}
	if err := d.solver.Step(d.trainNet.Model()); err != nil {
		return fmt.Errorf("step: could not step solver: %v", err)
	}

	// Refresh the priorities of the sampled transitions with the TD
	// errors of this update.
	tdErrors := d.tdErrors.Value().Data().([]float64)
	priorities := make([]float64, len(tdErrors))
	for i, td := range tdErrors {
		priorities[i] = math.Abs(td)
	}
	d.trainNetVM.Reset()

	if err := d.replay.UpdatePriorities(batch.Indices, priorities); err != nil {
		return fmt.Errorf("step: could not update priorities: %v", err)
	}

	// Propagate the new weights to the selection and target networks
	if err := d.targetManager.Sync(); err != nil {
		return fmt.Errorf("step: could not update target network: %v", err)
	}
	if err := d.targetSelect.Set(d.targetNet); err != nil {
		return fmt.Errorf("step: could not update target selection "+
			"network: %v", err)
	}
	if err := d.qNet.Set(d.trainNet); err != nil {
		return fmt.Errorf("step: could not update selection network: %v",
			err)
	}

	return nil
}

// SelectAction returns the ε-greedy action at the argument timestep.
// In evaluation mode actions are purely greedy and ε does not decay.
func (d *DQN) SelectAction(t ts.TimeStep) *mat.VecDense {
	var index int
	if !d.eval && d.rng.Float64() < d.epsilon.Value() {
		index = d.rng.Intn(d.numActions)
	} else {
		values := d.actionValues(d.qNet, d.qNetVM, t.Observation)
		for i, v := range values {
			if v > values[index] {
				index = i
			}
		}
	}
	if !d.eval {
		d.epsilon.Advance()
	}

	d.prevAction = index
	action, err := d.table.Action(index)
	if err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	return action
}

// EndEpisode performs cleanup at the end of an episode
func (d *DQN) EndEpisode() {}

// Eval sets the agent to evaluation mode
func (d *DQN) Eval() { d.eval = true }

// Train sets the agent to training mode
func (d *DQN) Train() { d.eval = false }

// IsEval returns whether the agent is in evaluation mode
func (d *DQN) IsEval() bool { return d.eval }

// Epsilon returns the current exploration rate
func (d *DQN) Epsilon() float64 {
	return d.epsilon.Value()
}

// Loss returns the importance-weighted mean squared TD error of the
// most recent learning step, or NaN before the first step.
func (d *DQN) Loss() float64 {
	if *d.loss == nil {
		return math.NaN()
	}
	return (*d.loss).Data().(float64)
}

// Save writes the agent's networks to checkpoint files in dir
func (d *DQN) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save: could not create checkpoint directory: "+
			"%v", err)
	}

	if err := saveNet(filepath.Join(dir, qNetFile), d.trainNet); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	if err := saveNet(filepath.Join(dir, targetNetFile),
		d.targetNet); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load restores the agent's networks from checkpoint files in dir
func (d *DQN) Load(dir string) error {
	if err := loadNet(filepath.Join(dir, qNetFile), d.trainNet); err != nil {
		return fmt.Errorf("load: %v", err)
	}
	if err := loadNet(filepath.Join(dir, targetNetFile),
		d.targetNet); err != nil {
		return fmt.Errorf("load: %v", err)
	}

	if err := d.qNet.Set(d.trainNet); err != nil {
		return fmt.Errorf("load: could not update selection network: %v",
			err)
	}
	if err := d.targetSelect.Set(d.targetNet); err != nil {
		return fmt.Errorf("load: could not update target selection "+
			"network: %v", err)
	}
	return nil
}

func saveNet(filename string, net network.NeuralNet) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create %v: %v", filename, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(net); err != nil {
		return fmt.Errorf("could not encode %v: %v", filename, err)
	}
	return nil
}

func loadNet(filename string, net network.NeuralNet) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open %v: %v", filename, err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(net); err != nil {
		return fmt.Errorf("could not decode %v: %v", filename, err)
	}
	return nil
}
