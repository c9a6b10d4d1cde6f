package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Reward is the visual-semantic embedding network. It projects image
// features and a candidate caption into a shared embedding space; the
// cosine similarity of the two projections is the scalar reward of
// the caption, one value in [-1, 1] per example.
//
// During actor-critic fine-tuning the reward network is a frozen
// collaborator: it only ever appears in forward-only graphs, so its
// parameters cannot accumulate gradients there.
type Reward struct {
	featureDim int
	vocab      int
	embedDim   int
	hiddenDim  int
	outDim     int

	rnn    *captionRNN
	params *paramSet
}

// NewReward returns a new reward network projecting both modalities
// into an outDim-dimensional space. When embeddings is non-nil it
// seeds the word-embedding table.
func NewReward(featureDim, vocab, embedDim, hiddenDim, outDim int,
	init G.InitWFn, embeddings *tensor.Dense) (*Reward, error) {
	params := newParamSet()
	rnn, err := newCaptionRNN("reward.", vocab, embedDim, hiddenDim, init,
		embeddings, params)
	if err != nil {
		return nil, fmt.Errorf("newreward: %v", err)
	}

	if err := params.add("reward.wvis", init, featureDim, outDim); err != nil {
		return nil, fmt.Errorf("newreward: %v", err)
	}
	if err := params.add("reward.wsem", init, hiddenDim, outDim); err != nil {
		return nil, fmt.Errorf("newreward: %v", err)
	}

	return &Reward{
		featureDim: featureDim,
		vocab:      vocab,
		embedDim:   embedDim,
		hiddenDim:  hiddenDim,
		outDim:     outDim,
		rnn:        rnn,
		params:     params,
	}, nil
}

// RewardGraph is one materialization of the reward network in an
// ExprGraph.
type RewardGraph struct {
	g     *G.ExprGraph
	r     *Reward
	rnn   *rnnNodes
	wvis  *G.Node
	wsem  *G.Node
	nodes G.Nodes
}

// Open materializes the reward network's parameters into g.
func (r *Reward) Open(g *G.ExprGraph) *RewardGraph {
	nodes, byName := r.params.instantiate(g)
	return &RewardGraph{
		g:     g,
		r:     r,
		rnn:   r.rnn.open(byName),
		wvis:  byName["reward.wvis"],
		wsem:  byName["reward.wsem"],
		nodes: nodes,
	}
}

// Learnables returns the reward network's parameter nodes in this
// graph.
func (rg *RewardGraph) Learnables() G.Nodes { return rg.nodes }

// Sync copies parameter values updated by a solver back into the
// reward network's canonical storage.
func (rg *RewardGraph) Sync() error { return rg.r.params.sync(rg.nodes) }

// Project returns the raw (unnormalized) visual and semantic
// projections of a batch. The caption encoder starts from a zero
// hidden state.
func (rg *RewardGraph) Project(features *G.Node,
	captions [][]int) (*G.Node, *G.Node, error) {
	h := rg.r.rnn.zeroState(rg.g, len(captions))
	var err error
	for t := range captions[0] {
		if h, err = rg.rnn.step(rg.g, h, column(captions, t)); err != nil {
			return nil, nil, fmt.Errorf("project: step %d: %v", t, err)
		}
	}

	visual, err := G.Mul(features, rg.wvis)
	if err != nil {
		return nil, nil, fmt.Errorf("project: could not project "+
			"features: %v", err)
	}
	semantic, err := G.Mul(h, rg.wsem)
	if err != nil {
		return nil, nil, fmt.Errorf("project: could not project "+
			"caption: %v", err)
	}

	return visual, semantic, nil
}

// Similarity returns the per-example cosine similarity of the two
// projections, a (batch x 1) node.
func (rg *RewardGraph) Similarity(visual, semantic *G.Node) (*G.Node, error) {
	visual, err := L2Normalize(visual)
	if err != nil {
		return nil, fmt.Errorf("similarity: %v", err)
	}
	semantic, err = L2Normalize(semantic)
	if err != nil {
		return nil, fmt.Errorf("similarity: %v", err)
	}

	prod, err := G.HadamardProd(visual, semantic)
	if err != nil {
		return nil, fmt.Errorf("similarity: %v", err)
	}
	dot, err := G.Sum(prod, 1)
	if err != nil {
		return nil, fmt.Errorf("similarity: %v", err)
	}
	return G.Reshape(dot, tensor.Shape{visual.Shape()[0], 1})
}

// Rewards scores a batch of candidate captions against image
// features. The pass is forward only: the reward network's parameters
// stay frozen no matter which training phase calls this.
func (r *Reward) Rewards(features *tensor.Dense,
	captions [][]int) ([]float64, error) {
	if err := validateBatch(features, captions); err != nil {
		return nil, fmt.Errorf("rewards: %v", err)
	}

	g := G.NewGraph()
	rg := r.Open(g)

	visual, semantic, err := rg.Project(Constant(g, "features", features),
		captions)
	if err != nil {
		return nil, fmt.Errorf("rewards: %v", err)
	}
	similarity, err := rg.Similarity(visual, semantic)
	if err != nil {
		return nil, fmt.Errorf("rewards: %v", err)
	}

	var out G.Value
	G.Read(similarity, &out)
	if err := Forward(g); err != nil {
		return nil, fmt.Errorf("rewards: could not run forward pass: %v", err)
	}

	return VectorData(out, len(captions))
}

// GobEncode implements the gob.GobEncoder interface
func (r *Reward) GobEncode() ([]byte, error) { return r.params.GobEncode() }

// GobDecode implements the gob.GobDecoder interface
func (r *Reward) GobDecode(in []byte) error { return r.params.GobDecode(in) }
