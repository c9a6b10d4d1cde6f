package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ActorCritic is the joint fine-tuning network: the policy acts as
// the actor and the value network as the critic. The sub-networks
// keep their own parameters; the joint network exposes them together
// so a single solver can update both from the combined loss.
type ActorCritic struct {
	Policy *Policy
	Value  *Value
}

// NewActorCritic returns a joint actor-critic network over pretrained
// policy and value networks.
func NewActorCritic(policy *Policy, value *Value) *ActorCritic {
	return &ActorCritic{Policy: policy, Value: value}
}

// ActorCriticGraph is one materialization of the joint network in an
// ExprGraph.
type ActorCriticGraph struct {
	Policy *PolicyGraph
	Value  *ValueGraph
}

// Open materializes both sub-networks' parameters into g.
func (a *ActorCritic) Open(g *G.ExprGraph) *ActorCriticGraph {
	return &ActorCriticGraph{
		Policy: a.Policy.Open(g),
		Value:  a.Value.Open(g),
	}
}

// Learnables returns the parameter nodes of both sub-networks.
func (ag *ActorCriticGraph) Learnables() G.Nodes {
	learnables := make(G.Nodes, 0,
		len(ag.Policy.Learnables())+len(ag.Value.Learnables()))
	learnables = append(learnables, ag.Policy.Learnables()...)
	learnables = append(learnables, ag.Value.Learnables()...)
	return learnables
}

// Sync copies parameter values updated by a solver back into both
// sub-networks' canonical storage.
func (ag *ActorCriticGraph) Sync() error {
	if err := ag.Policy.Sync(); err != nil {
		return err
	}
	return ag.Value.Sync()
}

// StepValueProbs runs one forward pass of the joint network on the
// current prefix, returning the critic's value estimate and the
// actor's softmax next-token distribution for every example.
func (a *ActorCritic) StepValueProbs(features *tensor.Dense,
	prefix [][]int) ([]float64, [][]float64, error) {
	if err := validateBatch(features, prefix); err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}

	g := G.NewGraph()
	ag := a.Open(g)
	featureNode := Constant(g, "features", features)

	states, err := ag.Policy.unroll(featureNode, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}
	scores, err := ag.Policy.Scores(states[len(states)-1])
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}
	logProbs, err := LogSoftMax(scores)
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}
	probs, err := G.Exp(logProbs)
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}

	criticState, err := ag.Value.unroll(featureNode, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}
	estimate, err := ag.Value.Estimate(criticState)
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}

	var probsOut, valueOut G.Value
	G.Read(probs, &probsOut)
	G.Read(estimate, &valueOut)
	if err := Forward(g); err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: could not run forward "+
			"pass: %v", err)
	}

	values, err := VectorData(valueOut, len(prefix))
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}
	distributions, err := MatrixData(probsOut, len(prefix), a.Policy.Vocab())
	if err != nil {
		return nil, nil, fmt.Errorf("stepvalueprobs: %v", err)
	}

	return values, distributions, nil
}

// GobEncode implements the gob.GobEncoder interface
func (a *ActorCritic) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	policyBytes, err := a.Policy.GobEncode()
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode policy: %v", err)
	}
	if err := enc.Encode(policyBytes); err != nil {
		return nil, err
	}

	valueBytes, err := a.Value.GobEncode()
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode value "+
			"network: %v", err)
	}
	if err := enc.Encode(valueBytes); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (a *ActorCritic) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var policyBytes []byte
	if err := dec.Decode(&policyBytes); err != nil {
		return fmt.Errorf("gobdecode: could not decode policy: %v", err)
	}
	if err := a.Policy.GobDecode(policyBytes); err != nil {
		return fmt.Errorf("gobdecode: could not decode policy: %v", err)
	}

	var valueBytes []byte
	if err := dec.Decode(&valueBytes); err != nil {
		return fmt.Errorf("gobdecode: could not decode value network: %v",
			err)
	}
	if err := a.Value.GobDecode(valueBytes); err != nil {
		return fmt.Errorf("gobdecode: could not decode value network: %v",
			err)
	}

	return nil
}
