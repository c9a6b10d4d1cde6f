package decoder

import (
	"fmt"

	"github.com/deepcaptioning/caprl/utils/floatutils"
	"gorgonia.org/tensor"
)

// Complete greedily extends a batch of caption prefixes one token at a
// time until every sequence reaches maxLen tokens. At each step the
// single highest-probability next token is appended; ties break toward
// the lowest token index. Prefixes already maxLen long are returned
// unchanged.
func Complete(p Stepper, features *tensor.Dense, prefix [][]int,
	maxLen int) ([][]int, error) {
	if len(prefix) == 0 {
		return nil, fmt.Errorf("complete: empty batch")
	}
	if maxLen < 1 {
		return nil, fmt.Errorf("complete: invalid maximum length %d", maxLen)
	}

	for len(prefix[0]) < maxLen {
		probs, err := p.StepProbs(features, prefix)
		if err != nil {
			return nil, fmt.Errorf("complete: position %d: %v",
				len(prefix[0]), err)
		}

		tokens := make([]int, len(prefix))
		for i := range probs {
			tokens[i] = floatutils.ArgMax(probs[i])
		}
		prefix = extend(prefix, tokens)
	}

	return prefix, nil
}

// Greedy decodes captions from a batch of start tokens by appending
// the single highest-probability next token at every step until the
// sequences reach maxLen tokens. Decoding is deterministic.
func Greedy(p Stepper, features *tensor.Dense, start []int,
	maxLen int) ([][]int, error) {
	if len(start) == 0 {
		return nil, fmt.Errorf("greedy: empty batch")
	}
	return Complete(p, features, startPrefix(start), maxLen)
}
