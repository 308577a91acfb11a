// Package ddpg implements the Deep Deterministic Policy Gradient
// algorithm for continuous control.
//
// DDPG learns a deterministic actor μ(s) and a critic Q(s, a). The
// critic is regressed toward one-step bootstrapped targets computed by
// slow-moving target copies of both networks:
//
//	y = r + γ * Q'(s', μ'(s'))
//
// and the actor follows the gradient of the critic's value at the
// actor's own actions. Exploration adds Gaussian noise to the actor's
// actions, decaying between episodes.
package ddpg

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
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
	actorFile        string = "actor.bin"
	criticFile       string = "critic.bin"
	targetActorFile  string = "target_actor.bin"
	targetCriticFile string = "target_critic.bin"
)

// DDPG implements the Deep Deterministic Policy Gradient algorithm
type DDPG struct {
	// Action selection actor with batch size 1
	actor    network.NeuralNet
	actorVM  G.VM
	noise    *agent.GaussianNoise
	bounds   []r1.Interval
	eval     bool

	// Critic training graph
	critic       network.NeuralNet
	criticVM     G.VM
	criticSolver G.Solver
	nextQ        *G.Node
	rewards      *G.Node
	discounts    *G.Node

	// Actor training graph: the critic is cloned on top of the train
	// actor's prediction so that the policy gradient flows through the
	// critic into the actor's weights. Only the actor's weights are
	// updated on this graph.
	trainActor    network.NeuralNet
	actorCritic   network.NeuralNet
	trainActorVM  G.VM
	actorSolver   G.Solver

	// Target networks providing the update target
	targetActor   network.NeuralNet
	targetCritic  network.NeuralNet
	targetVM      G.VM
	actorManager  *target.Manager
	criticManager *target.Manager

	replay    replay.Buffer
	batchSize int

	// Losses of the most recent learning step
	criticLoss *G.Value
	actorLoss  *G.Value

	prevStep ts.TimeStep

	// Updates skipped because a non-finite update target was computed
	skipped int
}

// New creates and returns a new DDPG agent
func New(e env.Environment, config Config, seed int64) (*DDPG, error) {
	if e.ActionSpec().Cardinality != env.Continuous {
		return nil, fmt.Errorf("ddpg: cannot use non-continuous actions")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	features := e.ObservationSpec().Shape.Len()
	actionDims := e.ActionSpec().Shape.Len()
	batchSize := config.BatchSize()
	init := config.InitWFn.InitWFn()

	// Action selection actor. The actor's actions live in [-1, 1] per
	// dimension; the environment clips them into its own bounds.
	gSelect := G.NewGraph()
	actor, err := network.NewPolicyMLP(features, 1, actionDims, gSelect,
		config.HiddenSizes, config.Biases, init, config.Activations,
		network.TanH())
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not create actor: %v", err)
	}
	actorVM := G.NewTapeMachine(gSelect)

	bounds := make([]r1.Interval, actionDims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -1.0, Max: 1.0}
	}

	// Critic training graph. The critic is regressed toward
	// r + γ * Q'(s', μ'(s')), where the bootstrap term is computed by
	// the target graph and fed in through nextQ.
	gCritic := G.NewGraph()
	critic, err := network.NewStateActionMLP(features, actionDims,
		batchSize, gCritic, config.HiddenSizes, config.Biases, init,
		config.Activations, "critic")
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not create critic: %v", err)
	}

	nextQ := G.NewVector(gCritic, tensor.Float64, G.WithShape(batchSize),
		G.WithName("nextQ"))
	rewards := G.NewVector(gCritic, tensor.Float64, G.WithShape(batchSize),
		G.WithName("reward"))
	discounts := G.NewVector(gCritic, tensor.Float64,
		G.WithShape(batchSize), G.WithName("discount"))

	updateTarget := G.Must(G.HadamardProd(nextQ, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	predicted := G.Must(G.Reshape(critic.Prediction(),
		tensor.Shape{batchSize}))
	losses := G.Must(G.Sub(updateTarget, predicted))
	losses = G.Must(G.Square(losses))
	criticCost := G.Must(G.Mean(losses))

	var criticLossVal G.Value
	G.Read(criticCost, &criticLossVal)

	if _, err := G.Grad(criticCost, critic.Learnables()...); err != nil {
		return nil, fmt.Errorf("ddpg: could not compute critic gradient: "+
			"%v", err)
	}
	criticVM := G.NewTapeMachine(gCritic,
		G.BindDualValues(critic.Learnables()...))

	// Target graph: the target critic is wired onto the target actor's
	// prediction so that one pass computes Q'(s', μ'(s')).
	gTarget := G.NewGraph()
	targetStateInput := G.NewMatrix(gTarget, tensor.Float64,
		G.WithShape(batchSize, features), G.WithName("targetStateInput"),
		G.WithInit(G.Zeroes()))

	targetActor, err := actor.CloneWithInputsTo(1,
		[]*G.Node{targetStateInput}, gTarget)
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not create target actor: %v",
			err)
	}
	targetCritic, err := critic.CloneWithInputsTo(1,
		[]*G.Node{targetStateInput, targetActor.Prediction()}, gTarget)
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not create target critic: %v",
			err)
	}
	targetVM := G.NewTapeMachine(gTarget)

	// Actor training graph: maximize Q(s, μ(s)) over the actor's
	// weights only.
	gActor := G.NewGraph()
	actorStateInput := G.NewMatrix(gActor, tensor.Float64,
		G.WithShape(batchSize, features), G.WithName("actorStateInput"),
		G.WithInit(G.Zeroes()))

	trainActor, err := actor.CloneWithInputsTo(1,
		[]*G.Node{actorStateInput}, gActor)
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not create train actor: %v",
			err)
	}
	actorCritic, err := critic.CloneWithInputsTo(1,
		[]*G.Node{actorStateInput, trainActor.Prediction()}, gActor)
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not compose critic onto "+
			"actor: %v", err)
	}

	actorCost := G.Must(G.Mean(actorCritic.Prediction()))
	actorCost = G.Must(G.Neg(actorCost))

	var actorLossVal G.Value
	G.Read(actorCost, &actorLossVal)

	if _, err := G.Grad(actorCost, trainActor.Learnables()...); err != nil {
		return nil, fmt.Errorf("ddpg: could not compute actor gradient: "+
			"%v", err)
	}
	trainActorVM := G.NewTapeMachine(gActor,
		G.BindDualValues(trainActor.Learnables()...))

	// Target networks track the training networks
	actorManager, err := target.NewSoft(trainActor, targetActor, config.Tau)
	if err != nil {
		return nil, fmt.Errorf("ddpg: %v", err)
	}
	criticManager, err := target.NewSoft(critic, targetCritic, config.Tau)
	if err != nil {
		return nil, fmt.Errorf("ddpg: %v", err)
	}

	noise, err := agent.NewGaussianNoise(config.Noise, config.NoiseDecay,
		config.NoiseMin, seed)
	if err != nil {
		return nil, fmt.Errorf("ddpg: %v", err)
	}

	buffer, err := config.Replay.Create(features, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("ddpg: could not create replay buffer: %v",
			err)
	}

	return &DDPG{
		actor:   actor,
		actorVM: actorVM,
		noise:   noise,
		bounds:  bounds,

		critic:       critic,
		criticVM:     criticVM,
		criticSolver: config.CriticSolver.Solver,
		nextQ:        nextQ,
		rewards:      rewards,
		discounts:    discounts,

		trainActor:   trainActor,
		actorCritic:  actorCritic,
		trainActorVM: trainActorVM,
		actorSolver:  config.ActorSolver.Solver,

		targetActor:   targetActor,
		targetCritic:  targetCritic,
		targetVM:      targetVM,
		actorManager:  actorManager,
		criticManager: criticManager,

		replay:    buffer,
		batchSize: batchSize,

		criticLoss: &criticLossVal,
		actorLoss:  &actorLossVal,
	}, nil
}

// ObserveFirst observes and records the first episodic timestep
func (d *DDPG) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep is not the first of an "+
			"episode \n\thave(%v)", t.Number)
	}
	d.prevStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep, storing the resulting transition in the replay buffer.
func (d *DDPG) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	transition := ts.NewTransition(d.prevStep, action, nextStep)
	if err := d.replay.Add(transition); err != nil {
		return fmt.Errorf("observe: could not add transition: %v", err)
	}

	d.prevStep = nextStep
	return nil
}

// Step updates the weights of the agent's actor and critic
func (d *DDPG) Step() error {
	batch, err := d.replay.Sample()
	if replay.IsEmptyBuffer(err) || replay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("step: could not sample replay buffer: %v", err)
	}

	// Compute the bootstrap term Q'(s', μ'(s')) with one pass of the
	// target graph.
	if err := d.targetActor.SetInput(batch.NextStates); err != nil {
		return fmt.Errorf("step: could not set target actor input: %v", err)
	}
	if err := d.targetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target networks: %v", err)
	}
	nextQ := make([]float64, d.batchSize)
	copy(nextQ, d.targetCritic.Output().Data().([]float64))
	d.targetVM.Reset()

	// A non-finite target would poison the weights: skip the update
	// and report instead.
	for i := range nextQ {
		v := batch.Rewards[i] + batch.Discounts[i]*nextQ[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			d.skipped++
			fmt.Fprintf(os.Stderr, "Warning: skipping update with "+
				"non-finite target %v (%v skipped so far)\n", v, d.skipped)
			return nil
		}
	}

	// Critic update
	if err := G.Let(d.nextQ, tensor.New(tensor.WithBacking(nextQ),
		tensor.WithShape(d.batchSize))); err != nil {
		return fmt.Errorf("step: could not set next state-action values: "+
			"%v", err)
	}
	if err := G.Let(d.rewards, tensor.New(tensor.WithBacking(batch.Rewards),
		tensor.WithShape(d.batchSize))); err != nil {
		return fmt.Errorf("step: could not set rewards: %v", err)
	}
	if err := G.Let(d.discounts,
		tensor.New(tensor.WithBacking(batch.Discounts),
			tensor.WithShape(d.batchSize))); err != nil {
		return fmt.Errorf("step: could not set discounts: %v", err)
	}
	if err := d.critic.SetInput(batch.States, batch.Actions); err != nil {
		return fmt.Errorf("step: could not set critic input: %v", err)
	}
	if err := d.criticVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run critic update: %v", err)
	}
	if err := d.criticSolver.Step(d.critic.Model()); err != nil {
		return fmt.Errorf("step: could not step critic solver: %v", err)
	}
	d.criticVM.Reset()

	// Actor update using the newly learned critic weights
	if err := d.actorCritic.Set(d.critic); err != nil {
		return fmt.Errorf("step: could not refresh composed critic: %v",
			err)
	}
	if err := d.trainActor.SetInput(batch.States); err != nil {
		return fmt.Errorf("step: could not set actor input: %v", err)
	}
	if err := d.trainActorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run actor update: %v", err)
	}
	if err := d.actorSolver.Step(d.trainActor.Model()); err != nil {
		return fmt.Errorf("step: could not step actor solver: %v", err)
	}
	d.trainActorVM.Reset()

	// Propagate the new weights to the selection actor and the target
	// networks.
	if err := d.actor.Set(d.trainActor); err != nil {
		return fmt.Errorf("step: could not update selection actor: %v", err)
	}
	if err := d.actorManager.Sync(); err != nil {
		return fmt.Errorf("step: could not update target actor: %v", err)
	}
	if err := d.criticManager.Sync(); err != nil {
		return fmt.Errorf("step: could not update target critic: %v", err)
	}

	return nil
}

// SelectAction returns the actor's action at the argument timestep,
// perturbed by exploration noise unless in evaluation mode.
func (d *DDPG) SelectAction(t ts.TimeStep) *mat.VecDense {
	obs := t.Observation.(*mat.VecDense).RawVector().Data
	if err := d.actor.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	if err := d.actorVM.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: could not run actor: %v", err))
	}

	out := d.actor.Output().Data().([]float64)
	action := mat.NewVecDense(len(out), nil)
	for i := range out {
		action.SetVec(i, out[i])
	}
	d.actorVM.Reset()

	if !d.eval {
		if _, err := d.noise.Perturb(action, d.bounds); err != nil {
			panic(fmt.Sprintf("selectaction: %v", err))
		}
	}
	return action
}

// EndEpisode performs cleanup at the end of an episode
func (d *DDPG) EndEpisode() {
	d.noise.Decay()
}

// Eval sets the agent to evaluation mode: actions are selected without
// exploration noise.
func (d *DDPG) Eval() { d.eval = true }

// Train sets the agent to training mode
func (d *DDPG) Train() { d.eval = false }

// IsEval returns whether the agent is in evaluation mode
func (d *DDPG) IsEval() bool { return d.eval }

// NoiseScale returns the current exploration noise scale
func (d *DDPG) NoiseScale() float64 {
	return d.noise.Scale()
}

// CriticLoss returns the critic's mean squared TD error of the most
// recent learning step, or NaN before the first step.
func (d *DDPG) CriticLoss() float64 {
	if *d.criticLoss == nil {
		return math.NaN()
	}
	return (*d.criticLoss).Data().(float64)
}

// ActorLoss returns the actor's loss of the most recent learning step,
// the negated mean critic value of the actor's actions, or NaN before
// the first step.
func (d *DDPG) ActorLoss() float64 {
	if *d.actorLoss == nil {
		return math.NaN()
	}
	return (*d.actorLoss).Data().(float64)
}

// Save writes the agent's networks to checkpoint files in dir
func (d *DDPG) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save: could not create checkpoint directory: "+
			"%v", err)
	}

	nets := map[string]network.NeuralNet{
		actorFile:        d.trainActor,
		criticFile:       d.critic,
		targetActorFile:  d.targetActor,
		targetCriticFile: d.targetCritic,
	}
	for name, net := range nets {
		if err := saveNet(filepath.Join(dir, name), net); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}
	return nil
}

// Load restores the agent's networks from checkpoint files in dir
func (d *DDPG) Load(dir string) error {
	nets := map[string]network.NeuralNet{
		actorFile:        d.trainActor,
		criticFile:       d.critic,
		targetActorFile:  d.targetActor,
		targetCriticFile: d.targetCritic,
	}
	for name, net := range nets {
		if err := loadNet(filepath.Join(dir, name), net); err != nil {
			return fmt.Errorf("load: %v", err)
		}
	}

	// The selection actor and composed critic mirror the training
	// networks.
	if err := d.actor.Set(d.trainActor); err != nil {
		return fmt.Errorf("load: could not update selection actor: %v", err)
	}
	if err := d.actorCritic.Set(d.critic); err != nil {
		return fmt.Errorf("load: could not update composed critic: %v", err)
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
