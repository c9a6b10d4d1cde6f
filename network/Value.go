package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Value is the critic network. Given image features and a caption
// prefix it estimates the eventual reward of completing the caption,
// one scalar per example.
type Value struct {
	featureDim int
	vocab      int
	embedDim   int
	hiddenDim  int

	rnn    *captionRNN
	params *paramSet
}

// NewValue returns a new value network. When embeddings is non-nil it
// seeds the word-embedding table.
func NewValue(featureDim, vocab, embedDim, hiddenDim int, init G.InitWFn,
	embeddings *tensor.Dense) (*Value, error) {
	params := newParamSet()
	rnn, err := newCaptionRNN("value.", vocab, embedDim, hiddenDim, init,
		embeddings, params)
	if err != nil {
		return nil, fmt.Errorf("newvalue: %v", err)
	}

	for _, p := range []struct {
		name  string
		init  G.InitWFn
		shape []int
	}{
		{"value.wf", init, []int{featureDim, hiddenDim}},
		{"value.bf", G.Zeroes(), []int{1, hiddenDim}},
		{"value.wout", init, []int{hiddenDim, 1}},
		{"value.bout", G.Zeroes(), []int{1, 1}},
	} {
		if err := params.add(p.name, p.init, p.shape...); err != nil {
			return nil, fmt.Errorf("newvalue: %v", err)
		}
	}

	return &Value{
		featureDim: featureDim,
		vocab:      vocab,
		embedDim:   embedDim,
		hiddenDim:  hiddenDim,
		rnn:        rnn,
		params:     params,
	}, nil
}

// ValueGraph is one materialization of the value network in an
// ExprGraph.
type ValueGraph struct {
	g     *G.ExprGraph
	v     *Value
	rnn   *rnnNodes
	wf    *G.Node
	bf    *G.Node
	wout  *G.Node
	bout  *G.Node
	nodes G.Nodes
}

// Open materializes the value network's parameters into g.
func (v *Value) Open(g *G.ExprGraph) *ValueGraph {
	nodes, byName := v.params.instantiate(g)
	return &ValueGraph{
		g:     g,
		v:     v,
		rnn:   v.rnn.open(byName),
		wf:    byName["value.wf"],
		bf:    byName["value.bf"],
		wout:  byName["value.wout"],
		bout:  byName["value.bout"],
		nodes: nodes,
	}
}

// Learnables returns the value network's parameter nodes in this
// graph.
func (vg *ValueGraph) Learnables() G.Nodes { return vg.nodes }

// Sync copies parameter values updated by a solver back into the
// value network's canonical storage.
func (vg *ValueGraph) Sync() error { return vg.v.params.sync(vg.nodes) }

// InitialState returns the hidden state derived from the image
// features.
func (vg *ValueGraph) InitialState(features *G.Node) (*G.Node, error) {
	h, err := G.Mul(features, vg.wf)
	if err != nil {
		return nil, fmt.Errorf("initialstate: could not project "+
			"features: %v", err)
	}
	h, err = G.BroadcastAdd(h, vg.bf, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return G.Tanh(h)
}

// Step consumes one token column, advancing the hidden state.
func (vg *ValueGraph) Step(h *G.Node, tokens []int) (*G.Node, error) {
	return vg.rnn.step(vg.g, h, tokens)
}

// Estimate returns the (batch x 1) value estimate for a hidden state.
func (vg *ValueGraph) Estimate(h *G.Node) (*G.Node, error) {
	value, err := G.Mul(h, vg.wout)
	if err != nil {
		return nil, fmt.Errorf("estimate: %v", err)
	}
	return G.BroadcastAdd(value, vg.bout, nil, []byte{0})
}

// unroll consumes every column of the prefix, returning the final
// hidden state.
func (vg *ValueGraph) unroll(features *G.Node, prefix [][]int) (*G.Node,
	error) {
	h, err := vg.InitialState(features)
	if err != nil {
		return nil, err
	}
	for t := range prefix[0] {
		if h, err = vg.Step(h, column(prefix, t)); err != nil {
			return nil, fmt.Errorf("unroll: step %d: %v", t, err)
		}
	}
	return h, nil
}

// Values returns the value estimate of a caption prefix for every
// example in the batch. The pass is forward only.
func (v *Value) Values(features *tensor.Dense,
	prefix [][]int) ([]float64, error) {
	if err := validateBatch(features, prefix); err != nil {
		return nil, fmt.Errorf("values: %v", err)
	}

	g := G.NewGraph()
	vg := v.Open(g)

	h, err := vg.unroll(Constant(g, "features", features), prefix)
	if err != nil {
		return nil, fmt.Errorf("values: %v", err)
	}
	estimate, err := vg.Estimate(h)
	if err != nil {
		return nil, fmt.Errorf("values: %v", err)
	}

	var out G.Value
	G.Read(estimate, &out)
	if err := Forward(g); err != nil {
		return nil, fmt.Errorf("values: could not run forward pass: %v", err)
	}

	return VectorData(out, len(prefix))
}

// GobEncode implements the gob.GobEncoder interface
func (v *Value) GobEncode() ([]byte, error) { return v.params.GobEncode() }

// GobDecode implements the gob.GobDecoder interface
func (v *Value) GobDecode(in []byte) error { return v.params.GobDecode(in) }
