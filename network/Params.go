// Package network implements the reward, policy, and value networks
// of the captioning agent with Gorgonia.
//
// Caption prefixes change length every minibatch, so unlike a
// fixed-batch MLP the networks here do not own a single prebuilt
// computation graph. Instead each network owns its parameters as
// named tensors and materializes value-backed views of them into a
// fresh ExprGraph per forward or training pass (Open). After a solver
// step, Sync copies the updated node values back into the canonical
// parameter storage.
package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// param is one named weight tensor. The tensor is the canonical
// parameter storage; graph nodes are views of it.
type param struct {
	name  string
	value *tensor.Dense
}

// paramSet holds the named parameters of one network in a fixed order.
type paramSet struct {
	params []*param
	byName map[string]*param
}

func newParamSet() *paramSet {
	return &paramSet{byName: make(map[string]*param)}
}

// add creates and registers a parameter with the given shape,
// initialized by init.
func (ps *paramSet) add(name string, init G.InitWFn, shape ...int) error {
	backing := init(tensor.Float64, shape...)
	value := tensor.New(
		tensor.WithShape(shape...),
		tensor.WithBacking(backing),
	)
	return ps.addValue(name, value)
}

// addValue registers an externally created tensor as a parameter,
// e.g. a pretrained word-embedding matrix.
func (ps *paramSet) addValue(name string, value *tensor.Dense) error {
	if _, ok := ps.byName[name]; ok {
		return fmt.Errorf("addvalue: duplicate parameter %q", name)
	}
	p := &param{name: name, value: value}
	ps.params = append(ps.params, p)
	ps.byName[name] = p
	return nil
}

// instantiate materializes every parameter into g as a value-backed
// node. The returned nodes are in registration order, which is also
// the order fed to the solver, keeping solver caches (e.g. Adam
// moments) aligned across minibatches.
func (ps *paramSet) instantiate(g *G.ExprGraph) (G.Nodes, map[string]*G.Node) {
	nodes := make(G.Nodes, len(ps.params))
	byName := make(map[string]*G.Node, len(ps.params))
	for i, p := range ps.params {
		n := G.NodeFromAny(g, p.value, G.WithName(p.name))
		nodes[i] = n
		byName[p.name] = n
	}
	return nodes, byName
}

// sync copies values from graph nodes back into canonical storage,
// matched by node name. Nodes belonging to other networks (as in a
// joint actor-critic graph) are skipped.
func (ps *paramSet) sync(nodes G.Nodes) error {
	for _, n := range nodes {
		p, ok := ps.byName[n.Name()]
		if !ok {
			continue
		}
		value, ok := n.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("sync: parameter %q has non-dense value %T",
				n.Name(), n.Value())
		}
		p.value = value
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface
func (ps *paramSet) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(len(ps.params)); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode param count: %v",
			err)
	}
	for _, p := range ps.params {
		if err := enc.Encode(p.name); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode name of "+
				"%q: %v", p.name, err)
		}
		if err := enc.Encode(p.value); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode value of "+
				"%q: %v", p.name, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. Parameters are
// matched by name against the receiver's registered parameters.
func (ps *paramSet) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var count int
	if err := dec.Decode(&count); err != nil {
		return fmt.Errorf("gobdecode: could not decode param count: %v", err)
	}
	if count != len(ps.params) {
		return fmt.Errorf("gobdecode: parameter count mismatch\n\twant(%d)"+
			"\n\thave(%d)", len(ps.params), count)
	}

	for i := 0; i < count; i++ {
		var name string
		if err := dec.Decode(&name); err != nil {
			return fmt.Errorf("gobdecode: could not decode param name: %v",
				err)
		}
		p, ok := ps.byName[name]
		if !ok {
			return fmt.Errorf("gobdecode: unknown parameter %q", name)
		}

		value := tensor.New(tensor.Of(tensor.Float64))
		if err := dec.Decode(value); err != nil {
			return fmt.Errorf("gobdecode: could not decode value of %q: %v",
				name, err)
		}
		if !value.Shape().Eq(p.value.Shape()) {
			return fmt.Errorf("gobdecode: shape mismatch for %q\n\twant(%v)"+
				"\n\thave(%v)", name, p.value.Shape(), value.Shape())
		}
		p.value = value
	}

	return nil
}
