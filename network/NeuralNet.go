// Package network implements the neural network function approximators
// used by value and policy estimators. Networks are built on Gorgonia
// computational graphs and are evaluated by external virtual machines.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet implements a neural network function approximator. A
// NeuralNet only populates a computational graph; an external VM runs
// the graph after SetInput() has been called to produce predictions.
type NeuralNet interface {
	// Graph returns the computational graph the network is built in
	Graph() *G.ExprGraph

	// Clone clones the network into a fresh computational graph
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network into a fresh computational
	// graph with a new input batch size
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInputsTo clones the network into an existing graph,
	// wiring the given nodes as the network inputs. Multiple inputs
	// are concatenated along the given axis. This allows networks to
	// be composed, e.g. feeding a policy network's output into a value
	// network within a single graph.
	CloneWithInputsTo(axis int, inputs []*G.Node,
		g *G.ExprGraph) (NeuralNet, error)

	// BatchSize returns the number of rows in a batch of inputs
	BatchSize() int

	// Features returns the total number of input features
	Features() int

	// Outputs returns the number of values the network predicts per
	// input row
	Outputs() int

	// SetInput sets the value of the network's input node(s) before
	// running the forward pass. When the network has multiple input
	// nodes, one slice per input node must be given.
	SetInput(inputs ...[]float64) error

	// Set overwrites the network's weights with a copy of the weights
	// of another network. Values are copied, never aliased.
	Set(NeuralNet) error

	// Polyak sets the network's weights to an exponential blending of
	// its own weights and the weights of another network:
	// w <- tau * other + (1 - tau) * w
	Polyak(other NeuralNet, tau float64) error

	// Learnables returns the learnable nodes of the network
	Learnables() G.Nodes

	// Model returns the learnable nodes with their gradients
	Model() []G.ValueGrad

	// Output returns the value of the network's prediction after the
	// graph has been run
	Output() G.Value

	// Prediction returns the node of the computational graph that
	// stores the network's prediction
	Prediction() *G.Node
}
