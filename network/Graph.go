package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Constant materializes a non-learnable tensor into g.
func Constant(g *G.ExprGraph, name string, value *tensor.Dense) *G.Node {
	return G.NodeFromAny(g, value, G.WithName(name))
}

// ConstantVector materializes a non-learnable column vector of the
// given values into g with shape (len(values), 1).
func ConstantVector(g *G.ExprGraph, name string, values []float64) *G.Node {
	backing := make([]float64, len(values))
	copy(backing, values)
	t := tensor.New(
		tensor.WithShape(len(values), 1),
		tensor.WithBacking(backing),
	)
	return Constant(g, name, t)
}

// OneHot materializes a (len(ids) x vocab) one-hot matrix for a column
// of token ids into g.
func OneHot(g *G.ExprGraph, name string, ids []int, vocab int) (*G.Node,
	error) {
	backing := make([]float64, len(ids)*vocab)
	for i, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("onehot: token %d out of range [0, %d)",
				id, vocab)
		}
		backing[i*vocab+id] = 1.0
	}
	t := tensor.New(
		tensor.WithShape(len(ids), vocab),
		tensor.WithBacking(backing),
	)
	return Constant(g, name, t), nil
}

// LogSoftMax returns the row-wise log-softmax of a (batch x classes)
// matrix of unnormalized scores, computed with the max-shifted
// log-sum-exp for numerical stability.
func LogSoftMax(logits *G.Node) (*G.Node, error) {
	if !logits.IsMatrix() {
		return nil, fmt.Errorf("logsoftmax: scores must be a matrix")
	}
	batch := logits.Shape()[0]

	max, err := G.Max(logits, 1)
	if err != nil {
		return nil, fmt.Errorf("logsoftmax: could not compute row max: %v",
			err)
	}
	maxCol, err := G.Reshape(max, tensor.Shape{batch, 1})
	if err != nil {
		return nil, err
	}
	shifted, err := G.BroadcastSub(logits, maxCol, nil, []byte{1})
	if err != nil {
		return nil, fmt.Errorf("logsoftmax: could not shift scores: %v", err)
	}

	exp, err := G.Exp(shifted)
	if err != nil {
		return nil, err
	}
	sum, err := G.Sum(exp, 1)
	if err != nil {
		return nil, err
	}
	logSum, err := G.Log(sum)
	if err != nil {
		return nil, err
	}
	logSumCol, err := G.Reshape(logSum, tensor.Shape{batch, 1})
	if err != nil {
		return nil, err
	}

	return G.BroadcastSub(shifted, logSumCol, nil, []byte{1})
}

// L2Normalize scales every row of a (batch x dim) matrix to unit
// Euclidean norm.
func L2Normalize(x *G.Node) (*G.Node, error) {
	if !x.IsMatrix() {
		return nil, fmt.Errorf("l2normalize: input must be a matrix")
	}
	batch := x.Shape()[0]

	squared, err := G.Square(x)
	if err != nil {
		return nil, err
	}
	sum, err := G.Sum(squared, 1)
	if err != nil {
		return nil, err
	}

	// Guard against all-zero rows producing a zero divisor
	eps := make([]float64, batch)
	for i := range eps {
		eps[i] = 1e-12
	}
	epsNode := Constant(x.Graph(), fmt.Sprintf("%s.eps", x.Name()),
		tensor.New(tensor.WithShape(batch), tensor.WithBacking(eps)))
	sum, err = G.Add(sum, epsNode)
	if err != nil {
		return nil, err
	}

	norm, err := G.Sqrt(sum)
	if err != nil {
		return nil, err
	}
	normCol, err := G.Reshape(norm, tensor.Shape{batch, 1})
	if err != nil {
		return nil, err
	}

	return G.BroadcastHadamardDiv(x, normCol, nil, []byte{1})
}

// Forward compiles and runs the graph once, populating every node
// value captured with G.Read.
func Forward(g *G.ExprGraph) error {
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	return vm.RunAll()
}

// MatrixData converts a read (rows x cols) matrix value into per-row
// slices.
func MatrixData(v G.Value, rows, cols int) ([][]float64, error) {
	flat, ok := v.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("matrixdata: value holds %T, not []float64",
			v.Data())
	}
	if len(flat) != rows*cols {
		return nil, fmt.Errorf("matrixdata: invalid value size\n\twant(%d)"+
			"\n\thave(%d)", rows*cols, len(flat))
	}

	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		copy(out[i], flat[i*cols:(i+1)*cols])
	}
	return out, nil
}

// VectorData converts a read vector (or single-column matrix) value
// into a slice of the expected length.
func VectorData(v G.Value, length int) ([]float64, error) {
	flat, ok := v.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("vectordata: value holds %T, not []float64",
			v.Data())
	}
	if len(flat) != length {
		return nil, fmt.Errorf("vectordata: invalid value size\n\twant(%d)"+
			"\n\thave(%d)", length, len(flat))
	}

	out := make([]float64, length)
	copy(out, flat)
	return out, nil
}

// ScalarData extracts a scalar value read from a graph.
func ScalarData(v G.Value) (float64, error) {
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, fmt.Errorf("scalardata: value %v is not a scalar", v)
}

// column extracts column t from a batch of token rows.
func column(tokens [][]int, t int) []int {
	col := make([]int, len(tokens))
	for i, row := range tokens {
		col[i] = row[t]
	}
	return col
}

// validateBatch checks that the feature matrix and token rows agree on
// the batch dimension and that all token rows have equal length.
func validateBatch(features *tensor.Dense, tokens [][]int) error {
	if len(tokens) == 0 {
		return fmt.Errorf("validatebatch: empty batch")
	}
	if features.Shape()[0] != len(tokens) {
		return fmt.Errorf("validatebatch: batch size mismatch\n\twant(%d)"+
			"\n\thave(%d)", len(tokens), features.Shape()[0])
	}
	width := len(tokens[0])
	if width == 0 {
		return fmt.Errorf("validatebatch: empty token prefix")
	}
	for i, row := range tokens {
		if len(row) != width {
			return fmt.Errorf("validatebatch: ragged token row %d\n\t"+
				"want(%d)\n\thave(%d)", i, width, len(row))
		}
	}
	return nil
}
