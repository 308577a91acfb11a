package network

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newTestMLP(t *testing.T, init G.InitWFn) NeuralNet {
	t.Helper()

	g := G.NewGraph()
	net, err := NewMultiHeadMLP(4, 2, 3, g, []int{5}, []bool{true}, init,
		[]*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}
	return net
}

func TestMultiHeadMLPShape(t *testing.T) {
	net := newTestMLP(t, G.Zeroes())

	if net.Features() != 4 {
		t.Errorf("got %v features, expected 4", net.Features())
	}
	if net.BatchSize() != 2 {
		t.Errorf("got batch size %v, expected 2", net.BatchSize())
	}
	if net.Outputs() != 3 {
		t.Errorf("got %v outputs, expected 3", net.Outputs())
	}

	// Hidden layer + final linear layer, each with a bias
	if len(net.Learnables()) != 4 {
		t.Errorf("got %v learnables, expected 4", len(net.Learnables()))
	}
}

func TestMultiHeadMLPSetInputSizeMismatch(t *testing.T) {
	net := newTestMLP(t, G.Zeroes())

	if err := net.SetInput(make([]float64, 3)); err == nil {
		t.Error("expected error setting wrongly sized input")
	}
	if err := net.SetInput(make([]float64, 8)); err != nil {
		t.Errorf("could not set correctly sized input: %v", err)
	}
}

func TestSetCopiesWeights(t *testing.T) {
	dest := newTestMLP(t, G.Zeroes())
	source := newTestMLP(t, G.Ones())

	if err := dest.Set(source); err != nil {
		t.Fatalf("could not set weights: %v", err)
	}

	for i, node := range dest.Learnables() {
		data := node.Value().(*tensor.Dense).Data().([]float64)
		expected := source.Learnables()[i].Value().(*tensor.Dense).
			Data().([]float64)
		for j := range data {
			if data[j] != expected[j] {
				t.Fatalf("learnable %v differs at %v: got %v, expected %v",
					i, j, data[j], expected[j])
			}
		}
	}
}

func TestSetDoesNotAliasWeights(t *testing.T) {
	dest := newTestMLP(t, G.Zeroes())
	source := newTestMLP(t, G.Ones())

	if err := dest.Set(source); err != nil {
		t.Fatalf("could not set weights: %v", err)
	}

	// Mutating the source weights must not affect the destination
	sourceData := source.Learnables()[0].Value().(*tensor.Dense).
		Data().([]float64)
	sourceData[0] = 1234.0

	destData := dest.Learnables()[0].Value().(*tensor.Dense).
		Data().([]float64)
	if destData[0] == 1234.0 {
		t.Error("destination weights alias source weights")
	}
}

func TestPolyakExactBlend(t *testing.T) {
	const tau = 0.1

	target := newTestMLP(t, G.Zeroes())
	live := newTestMLP(t, G.Ones())

	// Biases are zero-initialized in both networks, so only weight
	// matrices differ: target 0, live 1. After one Polyak update every
	// target weight should equal tau exactly.
	if err := target.Polyak(live, tau); err != nil {
		t.Fatalf("could not perform polyak update: %v", err)
	}

	for i, node := range target.Learnables() {
		liveData := live.Learnables()[i].Value().(*tensor.Dense).
			Data().([]float64)
		data := node.Value().(*tensor.Dense).Data().([]float64)
		for j := range data {
			expected := tau * liveData[j]
			if math.Abs(data[j]-expected) > 1e-15 {
				t.Fatalf("learnable %v at %v: got %v, expected %v", i, j,
					data[j], expected)
			}
		}
	}
}

func TestGobDecodeKeepsGraphAndNodes(t *testing.T) {
	source := newTestMLP(t, G.Ones())
	dest := newTestMLP(t, G.Zeroes())

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(source); err != nil {
		t.Fatalf("could not encode network: %v", err)
	}

	graph := dest.Graph()
	nodes := dest.Learnables()

	if err := gob.NewDecoder(&buf).Decode(dest); err != nil {
		t.Fatalf("could not decode network: %v", err)
	}

	// Decoding must set weights in place: the graph and learnable
	// nodes a virtual machine was compiled against stay valid.
	if dest.Graph() != graph {
		t.Fatal("decoding replaced the network's graph")
	}
	for i, node := range dest.Learnables() {
		if node != nodes[i] {
			t.Fatalf("decoding replaced learnable node %v", i)
		}
	}

	for i, node := range dest.Learnables() {
		data := node.Value().(*tensor.Dense).Data().([]float64)
		expected := source.Learnables()[i].Value().(*tensor.Dense).
			Data().([]float64)
		for j := range data {
			if data[j] != expected[j] {
				t.Fatalf("learnable %v differs at %v: got %v, expected %v",
					i, j, data[j], expected[j])
			}
		}
	}
}

func TestStateActionMLPConcatenatesInputs(t *testing.T) {
	g := G.NewGraph()
	net, err := NewStateActionMLP(6, 3, 4, g, []int{8}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()}, "critic")
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	if net.Features() != 9 {
		t.Errorf("got %v features, expected 9", net.Features())
	}
	if net.Outputs() != 1 {
		t.Errorf("got %v outputs, expected 1", net.Outputs())
	}

	// One slice per input node
	if err := net.SetInput(make([]float64, 24)); err == nil {
		t.Error("expected error setting a single input on a two-input " +
			"network")
	}
	err = net.SetInput(make([]float64, 24), make([]float64, 12))
	if err != nil {
		t.Errorf("could not set state and action inputs: %v", err)
	}
}
