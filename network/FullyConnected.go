package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer implements a single layer of a feedforward neural network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer
	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feedforward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFcLayer adds a new fully connected layer to a computational
// graph. Node names are prefixed so that multiple networks can share a
// single graph without name collisions.
func newFcLayer(g *G.ExprGraph, in, out int, bias bool, act *Activation,
	init G.InitWFn, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(name+"W"),
		G.WithInit(init),
	)

	var biasNode *G.Node
	if bias {
		biasNode = G.NewVector(
			g,
			tensor.Float64,
			G.WithShape(out),
			G.WithName(name+"B"),
			G.WithInit(G.Zeroes()),
		)
	}

	return &fcLayer{
		weights: weights,
		bias:    biasNode,
		act:     act,
	}
}

// addFcLayers adds a sequence of fully connected layers to a
// computational graph. For index i, sizes[i] is the number of nodes in
// layer i, biases[i] whether the layer has a bias unit, and
// activations[i] the layer's activation function.
func addFcLayers(g *G.ExprGraph, sizes []int, biases []bool,
	activations []*Activation, init G.InitWFn, features int,
	prefix string) []Layer {
	layers := make([]Layer, len(sizes))

	in := features
	for i := range sizes {
		name := fmt.Sprintf("%vL%d", prefix, i)
		layers[i] = newFcLayer(g, in, sizes[i], biases[i], activations[i],
			init, name)
		in = sizes[i]
	}

	return layers
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// GobEncode implements the gob.GobEncoder interface by serializing the
// layer's weight values
func (f *fcLayer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	weights := f.Weights().Value().(*tensor.Dense)
	if err := enc.Encode(weights); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode weights: %v", err)
	}

	hasBias := f.Bias() != nil
	if err := enc.Encode(hasBias); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode bias flag: %v",
			err)
	}
	if hasBias {
		bias := f.Bias().Value().(*tensor.Dense)
		if err := enc.Encode(bias); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode bias: %v", err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface by decoding weight
// values into the layer's existing nodes
func (f *fcLayer) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	weights := new(tensor.Dense)
	if err := dec.Decode(weights); err != nil {
		return fmt.Errorf("gobdecode: could not decode weights: %v", err)
	}
	if err := G.Let(f.weights, weights); err != nil {
		return fmt.Errorf("gobdecode: could not set weights: %v", err)
	}

	var hasBias bool
	if err := dec.Decode(&hasBias); err != nil {
		return fmt.Errorf("gobdecode: could not decode bias flag: %v", err)
	}
	if hasBias != (f.bias != nil) {
		return fmt.Errorf("gobdecode: bias layout mismatch")
	}
	if hasBias {
		bias := new(tensor.Dense)
		if err := dec.Decode(bias); err != nil {
			return fmt.Errorf("gobdecode: could not decode bias: %v", err)
		}
		if err := G.Let(f.bias, bias); err != nil {
			return fmt.Errorf("gobdecode: could not set bias: %v", err)
		}
	}

	return nil
}
