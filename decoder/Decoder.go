// Package decoder implements sequential caption decoding: greedy
// next-token selection and beam search with value-model lookahead.
// Both strategies produce token sequences bounded by a maximum
// length.
package decoder

import "gorgonia.org/tensor"

// Stepper produces the next-token probability distribution at the
// last position of a batch of caption prefixes.
type Stepper interface {
	StepProbs(features *tensor.Dense, prefix [][]int) ([][]float64, error)
}

// Valuer estimates the eventual reward of a batch of caption
// prefixes.
type Valuer interface {
	Values(features *tensor.Dense, prefix [][]int) ([]float64, error)
}

// extend returns a copy of the prefix rows with one token appended to
// each row.
func extend(prefix [][]int, tokens []int) [][]int {
	extended := make([][]int, len(prefix))
	for i, row := range prefix {
		extended[i] = make([]int, len(row)+1)
		copy(extended[i], row)
		extended[i][len(row)] = tokens[i]
	}
	return extended
}

// startPrefix returns single-token prefix rows from a batch of start
// tokens.
func startPrefix(start []int) [][]int {
	prefix := make([][]int, len(start))
	for i, tok := range start {
		prefix[i] = []int{tok}
	}
	return prefix
}
