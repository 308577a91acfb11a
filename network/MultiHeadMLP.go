package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// multiHeadMLP implements a multi-layered perceptron with multiple
// output nodes, one for each value that should be predicted. The
// network may have more than one input node, in which case inputs are
// concatenated along the feature dimension before the first layer,
// e.g. an action-value network taking a state and an action input.
type multiHeadMLP struct {
	g      *G.ExprGraph
	layers []Layer

	// inputs are the input nodes of the network. input is the node fed
	// to the first layer: the single input node, or the concatenation
	// of all input nodes.
	inputs []*G.Node
	input  *G.Node

	numOutputs int
	numInputs  int
	batchSize  int

	// Data needed for gobbing
	inputSizes  []int
	hiddenSizes []int
	biases      []bool
	activations []*Activation
	prefix      string

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMultiHeadMLP creates and returns a new multi-layered perceptron
// with a number of output nodes equal to outputs. The graph parameter
// g is populated with the MLP.
//
// The MLP has a number of layers equal to len(hiddenSizes) + 1. A
// final linear layer with a bias unit and no activation is always
// added so that the network predicts outputs values. For index i,
// hiddenSizes[i] is the number of nodes in hidden layer i, biases[i]
// is whether the layer has a bias unit, and activations[i] is the
// layer's activation function. A linear function approximator is
// obtained by setting hiddenSizes, biases, and activations to empty
// slices.
func NewMultiHeadMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	return newMultiHeadMLPFromInputs([]*G.Node{input}, outputs, g,
		hiddenSizes, biases, init, activations, "", Identity())
}

// NewPolicyMLP creates and returns a new multi-layered perceptron
// whose final layer uses the given output activation, e.g. tanh for a
// deterministic policy producing actions bounded in [-1, 1].
func NewPolicyMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, outputActivation *Activation) (NeuralNet,
	error) {
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("policyInput"), G.WithInit(G.Zeroes()))

	return newMultiHeadMLPFromInputs([]*G.Node{input}, outputs, g,
		hiddenSizes, biases, init, activations, "policy", outputActivation)
}

// NewStateActionMLP creates and returns a new multi-layered perceptron
// with two input nodes, one for a batch of states and one for a batch
// of actions, concatenated along the feature dimension. Such a network
// predicts action values Q(s, a) for continuous actions.
func NewStateActionMLP(stateFeatures, actionFeatures, batch int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, error) {
	stateInput := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, stateFeatures), G.WithName(prefix+"StateInput"),
		G.WithInit(G.Zeroes()))
	actionInput := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, actionFeatures), G.WithName(prefix+"ActionInput"),
		G.WithInit(G.Zeroes()))

	return newMultiHeadMLPFromInputs([]*G.Node{stateInput, actionInput}, 1,
		g, hiddenSizes, biases, init, activations, prefix, Identity())
}

// newMultiHeadMLPFromInputs returns a new multi-head output MLP that
// has specific nodes as its input nodes. If multiple input nodes are
// given, they are first concatenated along the feature (column)
// dimension. A final linear layer with the given output activation is
// added so that the network predicts outputs values.
func newMultiHeadMLPFromInputs(inputs []*G.Node, outputs int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string,
	outputActivation *Activation) (NeuralNet, error) {
	// Ensure one activation and one bias bool per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newmultiheadmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		msg := "newmultiheadmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	input, err := concatInputs(inputs)
	if err != nil {
		return nil, fmt.Errorf("newmultiheadmlp: %v", err)
	}

	batch := input.Shape()[0]
	features := input.Shape()[1]

	inputSizes := make([]int, len(inputs))
	for i := range inputs {
		inputSizes[i] = inputs[i].Shape()[1]
	}

	// Add a final layer so that the network predicts outputs values
	sizes := make([]int, len(hiddenSizes), len(hiddenSizes)+1)
	copy(sizes, hiddenSizes)
	sizes = append(sizes, outputs)
	layerBiases := make([]bool, len(biases), len(biases)+1)
	copy(layerBiases, biases)
	layerBiases = append(layerBiases, true)
	layerActivations := make([]*Activation, len(activations),
		len(activations)+1)
	copy(layerActivations, activations)
	layerActivations = append(layerActivations, outputActivation)

	layers := addFcLayers(g, sizes, layerBiases, layerActivations, init,
		features, prefix)

	network := multiHeadMLP{
		g:      g,
		layers: layers,

		inputs: inputs,
		input:  input,

		numOutputs: outputs,
		numInputs:  features,
		batchSize:  batch,

		inputSizes:  inputSizes,
		hiddenSizes: sizes,
		biases:      layerBiases,
		activations: layerActivations,
		prefix:      prefix,
	}
	if _, err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newmultiheadmlp: could not compute forward "+
			"pass: %v", err)
	}

	return &network, nil
}

// concatInputs concatenates input nodes along the feature dimension
func concatInputs(inputs []*G.Node) (*G.Node, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concatinputs: no input nodes")
	}

	var input *G.Node
	if len(inputs) > 1 {
		input = G.Must(G.Concat(1, inputs...))
	} else {
		input = inputs[0]
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("concatinputs: input must be a matrix")
	}
	return input, nil
}

// Graph returns the computational graph of the multiHeadMLP.
func (e *multiHeadMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones a multiHeadMLP
func (e *multiHeadMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones a multiHeadMLP into a fresh computational
// graph with a new input batch size.
func (e *multiHeadMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	inputs := make([]*G.Node, len(e.inputs))
	for i := range e.inputs {
		inputs[i] = G.NewMatrix(
			graph,
			tensor.Float64,
			G.WithShape(batchSize, e.inputSizes[i]),
			G.WithName(e.inputs[i].Name()),
			G.WithInit(G.Zeroes()),
		)
	}

	return e.CloneWithInputsTo(1, inputs, graph)
}

// CloneWithInputsTo clones a multiHeadMLP into an existing
// computational graph with specified input nodes. If multiple input
// nodes are given, they are first concatenated along the given axis.
func (e *multiHeadMLP) CloneWithInputsTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	// Ensure inputs share the target graph
	for _, input := range inputs {
		if input.Graph() != graph {
			return nil, fmt.Errorf("clonewithinputsto: not all inputs " +
				"belong to the target graph")
		}
	}

	var input *G.Node
	if len(inputs) > 1 {
		input = G.Must(G.Concat(axis, inputs...))
	} else {
		input = inputs[0]
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputsto: input must be a matrix " +
			"node")
	}

	// Copy fully connected layers
	l := make([]Layer, len(e.layers))
	for i := range e.layers {
		l[i] = e.layers[i].CloneTo(graph)
	}

	inputSizes := make([]int, len(inputs))
	for i := range inputs {
		inputSizes[i] = inputs[i].Shape()[1]
	}

	network := multiHeadMLP{
		g:      graph,
		layers: l,

		inputs: inputs,
		input:  input,

		numOutputs: e.numOutputs,
		numInputs:  input.Shape()[1],
		batchSize:  input.Shape()[0],

		inputSizes:  inputSizes,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
		prefix:      e.prefix,
	}
	if _, err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinputsto: could not compute "+
			"forward pass: %v", err)
	}

	return &network, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *multiHeadMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the total number of input features of the network,
// summed over all input nodes.
func (e *multiHeadMLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs from the network
func (e *multiHeadMLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the values of the network's input nodes before running
// the forward pass. One slice of row-major data must be given per
// input node.
func (e *multiHeadMLP) SetInput(inputs ...[]float64) error {
	if len(inputs) != len(e.inputs) {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", len(e.inputs), len(inputs))
	}

	for i, input := range inputs {
		size := e.batchSize * e.inputSizes[i]
		if len(input) != size {
			return fmt.Errorf("setinput: invalid size of input %v"+
				"\n\twant(%v)\n\thave(%v)", i, size, len(input))
		}

		inputTensor := tensor.New(
			tensor.WithBacking(input),
			tensor.WithShape(e.inputs[i].Shape()...),
		)
		if err := G.Let(e.inputs[i], inputTensor); err != nil {
			return fmt.Errorf("setinput: could not set input %v: %v", i, err)
		}
	}

	return nil
}

// Set sets the weights of a multiHeadMLP to be equal to the
// weights of another multiHeadMLP
func (dest *multiHeadMLP) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: source has %v learnables but destination "+
			"has %v", len(sourceNodes), len(nodes))
	}

	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of a multiHeadMLP to be a Polyak average
// between its existing weights and the weights of another multiHeadMLP
func (dest *multiHeadMLP) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("polyak: source has %v learnables but destination "+
			"has %v", len(sourceNodes), len(nodes))
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in a multiHeadMLP
func (e *multiHeadMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(e.layers))
		for i := range e.layers {
			learnables = append(learnables, e.layers[i].Weights())
			if bias := e.layers[i].Bias(); bias != nil {
				learnables = append(learnables, bias)
			}
		}
		e.learnables = G.Nodes(learnables)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients.
func (e *multiHeadMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		model := make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			model = append(model, node)
		}
		e.model = model
	}
	return e.model
}

// fwd performs the forward pass of the multiHeadMLP on the input node
func (e *multiHeadMLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the output of the multiHeadMLP.
func (e *multiHeadMLP) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the output of the multiHeadMLP
func (e *multiHeadMLP) Prediction() *G.Node {
	return e.prediction
}

// GobEncode implements the gob.GobEncoder interface
func (e *multiHeadMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(e.numOutputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of " +
			"outputs")
	}
	if err := enc.Encode(e.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size")
	}
	if err := enc.Encode(e.inputSizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode input sizes")
	}
	if err := enc.Encode(e.hiddenSizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}
	if err := enc.Encode(e.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases")
	}
	if err := enc.Encode(e.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}
	if err := enc.Encode(e.prefix); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode prefix")
	}

	for i, layer := range e.layers {
		fc, ok := layer.(*fcLayer)
		if !ok {
			return nil, fmt.Errorf("gobencode: layer %v is not serializable",
				i)
		}
		if err := enc.Encode(fc); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer %v: %v",
				i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *multiHeadMLP) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var numOutputs, batchSize int
	var inputSizes, hiddenSizes []int
	var biases []bool
	var activations []*Activation
	var prefix string

	if err := dec.Decode(&numOutputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of outputs")
	}
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size")
	}
	if err := dec.Decode(&inputSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode input sizes")
	}
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases")
	}
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}
	if err := dec.Decode(&prefix); err != nil {
		return fmt.Errorf("gobdecode: could not decode prefix")
	}

	// When the receiver is already built, decode the stored weights
	// into its existing layers. fcLayer.GobDecode Lets the values into
	// the layer's nodes, so the receiver's graph, its learnable nodes,
	// and any virtual machines compiled against them stay valid.
	if e.layers != nil {
		if len(e.layers) != len(hiddenSizes) {
			return fmt.Errorf("gobdecode: wrong number of layers"+
				"\n\twant(%v)\n\thave(%v)", len(e.layers), len(hiddenSizes))
		}
		for i := range e.layers {
			fc, ok := e.layers[i].(*fcLayer)
			if !ok {
				return fmt.Errorf("gobdecode: layer %v is not serializable",
					i)
			}
			if err := dec.Decode(fc); err != nil {
				return fmt.Errorf("gobdecode: could not decode layer %v: %v",
					i, err)
			}
		}
		return nil
	}

	// Zero-value receiver: rebuild an identically-shaped MLP, then
	// decode layer weights into it. The stored sizes already include
	// the final layer.
	g := G.NewGraph()
	inputs := make([]*G.Node, len(inputSizes))
	for i := range inputSizes {
		inputs[i] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(batchSize, inputSizes[i]),
			G.WithName(fmt.Sprintf("%vInput%d", prefix, i)),
			G.WithInit(G.Zeroes()))
	}

	newNet, err := newMultiHeadMLPFromInputs(inputs, numOutputs, g,
		hiddenSizes[:len(hiddenSizes)-1], biases[:len(biases)-1], G.Zeroes(),
		activations[:len(activations)-1], prefix,
		activations[len(activations)-1])
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new MLP: %v", err)
	}
	newMLP := newNet.(*multiHeadMLP)

	for i := range newMLP.layers {
		fc := newMLP.layers[i].(*fcLayer)
		if err := dec.Decode(fc); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v: %v", i,
				err)
		}
	}

	*e = *newMLP
	return nil
}

func init() {
	gob.Register(&multiHeadMLP{})
}
