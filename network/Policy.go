package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Policy is the autoregressive next-word network. Given image
// features and a prefix of token ids it produces unnormalized scores
// over the vocabulary for the next token at every prefix position.
// The hidden state is initialized from the image features:
//
//	h_0 = tanh(features*Wf + bf)
//	scores_t = h_t*Wout + bout
type Policy struct {
	featureDim int
	vocab      int
	embedDim   int
	hiddenDim  int

	rnn    *captionRNN
	params *paramSet
}

// NewPolicy returns a new policy network. When embeddings is non-nil
// it seeds the word-embedding table.
func NewPolicy(featureDim, vocab, embedDim, hiddenDim int, init G.InitWFn,
	embeddings *tensor.Dense) (*Policy, error) {
	params := newParamSet()
	rnn, err := newCaptionRNN("policy.", vocab, embedDim, hiddenDim, init,
		embeddings, params)
	if err != nil {
		return nil, fmt.Errorf("newpolicy: %v", err)
	}

	for _, p := range []struct {
		name  string
		init  G.InitWFn
		shape []int
	}{
		{"policy.wf", init, []int{featureDim, hiddenDim}},
		{"policy.bf", G.Zeroes(), []int{1, hiddenDim}},
		{"policy.wout", init, []int{hiddenDim, vocab}},
		{"policy.bout", G.Zeroes(), []int{1, vocab}},
	} {
		if err := params.add(p.name, p.init, p.shape...); err != nil {
			return nil, fmt.Errorf("newpolicy: %v", err)
		}
	}

	return &Policy{
		featureDim: featureDim,
		vocab:      vocab,
		embedDim:   embedDim,
		hiddenDim:  hiddenDim,
		rnn:        rnn,
		params:     params,
	}, nil
}

// Vocab returns the vocabulary size of the policy.
func (p *Policy) Vocab() int { return p.vocab }

// FeatureDim returns the image feature dimensionality the policy
// expects.
func (p *Policy) FeatureDim() int { return p.featureDim }

// PolicyGraph is one materialization of the policy in an ExprGraph.
type PolicyGraph struct {
	g     *G.ExprGraph
	p     *Policy
	rnn   *rnnNodes
	wf    *G.Node
	bf    *G.Node
	wout  *G.Node
	bout  *G.Node
	nodes G.Nodes
}

// Open materializes the policy's parameters into g.
func (p *Policy) Open(g *G.ExprGraph) *PolicyGraph {
	nodes, byName := p.params.instantiate(g)
	return &PolicyGraph{
		g:     g,
		p:     p,
		rnn:   p.rnn.open(byName),
		wf:    byName["policy.wf"],
		bf:    byName["policy.bf"],
		wout:  byName["policy.wout"],
		bout:  byName["policy.bout"],
		nodes: nodes,
	}
}

// Learnables returns the policy's parameter nodes in this graph.
func (pg *PolicyGraph) Learnables() G.Nodes { return pg.nodes }

// Sync copies parameter values updated by a solver back into the
// policy's canonical storage.
func (pg *PolicyGraph) Sync() error { return pg.p.params.sync(pg.nodes) }

// InitialState returns the hidden state derived from the image
// features.
func (pg *PolicyGraph) InitialState(features *G.Node) (*G.Node, error) {
	h, err := G.Mul(features, pg.wf)
	if err != nil {
		return nil, fmt.Errorf("initialstate: could not project "+
			"features: %v", err)
	}
	h, err = G.BroadcastAdd(h, pg.bf, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return G.Tanh(h)
}

// Step consumes one token column, advancing the hidden state.
func (pg *PolicyGraph) Step(h *G.Node, tokens []int) (*G.Node, error) {
	return pg.rnn.step(pg.g, h, tokens)
}

// Scores returns the unnormalized next-token scores for a hidden
// state.
func (pg *PolicyGraph) Scores(h *G.Node) (*G.Node, error) {
	scores, err := G.Mul(h, pg.wout)
	if err != nil {
		return nil, fmt.Errorf("scores: %v", err)
	}
	return G.BroadcastAdd(scores, pg.bout, nil, []byte{0})
}

// unroll consumes every column of the prefix, returning the hidden
// state after each token.
func (pg *PolicyGraph) unroll(features *G.Node, prefix [][]int) ([]*G.Node,
	error) {
	h, err := pg.InitialState(features)
	if err != nil {
		return nil, err
	}

	states := make([]*G.Node, len(prefix[0]))
	for t := range prefix[0] {
		if h, err = pg.Step(h, column(prefix, t)); err != nil {
			return nil, fmt.Errorf("unroll: step %d: %v", t, err)
		}
		states[t] = h
	}
	return states, nil
}

// StepProbs returns the softmax next-token distribution at the last
// prefix position for every example in the batch. The pass is forward
// only.
func (p *Policy) StepProbs(features *tensor.Dense,
	prefix [][]int) ([][]float64, error) {
	if err := validateBatch(features, prefix); err != nil {
		return nil, fmt.Errorf("stepprobs: %v", err)
	}

	g := G.NewGraph()
	pg := p.Open(g)

	states, err := pg.unroll(Constant(g, "features", features), prefix)
	if err != nil {
		return nil, fmt.Errorf("stepprobs: %v", err)
	}
	scores, err := pg.Scores(states[len(states)-1])
	if err != nil {
		return nil, fmt.Errorf("stepprobs: %v", err)
	}
	logProbs, err := LogSoftMax(scores)
	if err != nil {
		return nil, fmt.Errorf("stepprobs: %v", err)
	}
	probs, err := G.Exp(logProbs)
	if err != nil {
		return nil, fmt.Errorf("stepprobs: %v", err)
	}

	var out G.Value
	G.Read(probs, &out)
	if err := Forward(g); err != nil {
		return nil, fmt.Errorf("stepprobs: could not run forward pass: %v",
			err)
	}

	return MatrixData(out, len(prefix), p.vocab)
}

// ScoresAll returns the unnormalized next-token scores at every
// prefix position, one (batch x vocab) matrix per position. The pass
// is forward only.
func (p *Policy) ScoresAll(features *tensor.Dense,
	prefix [][]int) ([][][]float64, error) {
	if err := validateBatch(features, prefix); err != nil {
		return nil, fmt.Errorf("scoresall: %v", err)
	}

	g := G.NewGraph()
	pg := p.Open(g)

	states, err := pg.unroll(Constant(g, "features", features), prefix)
	if err != nil {
		return nil, fmt.Errorf("scoresall: %v", err)
	}

	reads := make([]G.Value, len(states))
	for t, h := range states {
		scores, err := pg.Scores(h)
		if err != nil {
			return nil, fmt.Errorf("scoresall: position %d: %v", t, err)
		}
		G.Read(scores, &reads[t])
	}

	if err := Forward(g); err != nil {
		return nil, fmt.Errorf("scoresall: could not run forward pass: %v",
			err)
	}

	out := make([][][]float64, len(states))
	for t, read := range reads {
		if out[t], err = MatrixData(read, len(prefix), p.vocab); err != nil {
			return nil, fmt.Errorf("scoresall: position %d: %v", t, err)
		}
	}
	return out, nil
}

// GobEncode implements the gob.GobEncoder interface
func (p *Policy) GobEncode() ([]byte, error) { return p.params.GobEncode() }

// GobDecode implements the gob.GobDecoder interface
func (p *Policy) GobDecode(in []byte) error { return p.params.GobDecode(in) }
