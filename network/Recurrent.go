package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// captionRNN is a recurrent encoder over caption token prefixes:
//
//	e_t = onehot(x_t) * Embed
//	h_t = tanh(e_t*Wx + h_{t-1}*Wh + bh)
//
// It carries no hidden state of its own; the state is a node owned by
// the graph of the current minibatch, so nothing can leak between
// unrelated minibatches.
type captionRNN struct {
	scope     string
	vocab     int
	embedDim  int
	hiddenDim int
	params    *paramSet
}

// newCaptionRNN registers the encoder's parameters on ps under the
// given scope. When embeddings is non-nil it is used as the initial
// word-embedding table instead of init.
func newCaptionRNN(scope string, vocab, embedDim, hiddenDim int,
	init G.InitWFn, embeddings *tensor.Dense,
	ps *paramSet) (*captionRNN, error) {
	r := &captionRNN{
		scope:     scope,
		vocab:     vocab,
		embedDim:  embedDim,
		hiddenDim: hiddenDim,
		params:    ps,
	}

	if embeddings != nil {
		want := tensor.Shape{vocab, embedDim}
		if !embeddings.Shape().Eq(want) {
			return nil, fmt.Errorf("newcaptionrnn: invalid pretrained "+
				"embedding shape\n\twant(%v)\n\thave(%v)", want,
				embeddings.Shape())
		}
		cloned := embeddings.Clone().(*tensor.Dense)
		if err := ps.addValue(scope+"embed", cloned); err != nil {
			return nil, err
		}
	} else if err := ps.add(scope+"embed", init, vocab, embedDim); err != nil {
		return nil, err
	}

	if err := ps.add(scope+"wx", init, embedDim, hiddenDim); err != nil {
		return nil, err
	}
	if err := ps.add(scope+"wh", init, hiddenDim, hiddenDim); err != nil {
		return nil, err
	}
	if err := ps.add(scope+"bh", G.Zeroes(), 1, hiddenDim); err != nil {
		return nil, err
	}

	return r, nil
}

// rnnNodes are the encoder's parameter nodes in one graph.
type rnnNodes struct {
	embed, wx, wh, bh *G.Node
	vocab             int
	scope             string
	steps             int
}

// open looks up the encoder's parameter nodes from an instantiated
// paramSet.
func (r *captionRNN) open(byName map[string]*G.Node) *rnnNodes {
	return &rnnNodes{
		embed: byName[r.scope+"embed"],
		wx:    byName[r.scope+"wx"],
		wh:    byName[r.scope+"wh"],
		bh:    byName[r.scope+"bh"],
		vocab: r.vocab,
		scope: r.scope,
	}
}

// zeroState returns an all-zero hidden state for a batch.
func (r *captionRNN) zeroState(g *G.ExprGraph, batch int) *G.Node {
	zeros := tensor.New(
		tensor.WithShape(batch, r.hiddenDim),
		tensor.WithBacking(make([]float64, batch*r.hiddenDim)),
	)
	return Constant(g, r.scope+"h0", zeros)
}

// step consumes one token column, advancing the hidden state.
func (n *rnnNodes) step(g *G.ExprGraph, h *G.Node, toks []int) (*G.Node,
	error) {
	name := fmt.Sprintf("%sin%d", n.scope, n.steps)
	n.steps++

	tok, err := OneHot(g, name, toks, n.vocab)
	if err != nil {
		return nil, fmt.Errorf("step: %v", err)
	}

	embedded, err := G.Mul(tok, n.embed)
	if err != nil {
		return nil, fmt.Errorf("step: could not embed tokens: %v", err)
	}
	fromInput, err := G.Mul(embedded, n.wx)
	if err != nil {
		return nil, err
	}
	fromState, err := G.Mul(h, n.wh)
	if err != nil {
		return nil, err
	}
	sum, err := G.Add(fromInput, fromState)
	if err != nil {
		return nil, err
	}
	sum, err = G.BroadcastAdd(sum, n.bh, nil, []byte{0})
	if err != nil {
		return nil, err
	}

	return G.Tanh(sum)
}
