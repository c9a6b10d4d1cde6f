package decoder

import (
	"fmt"
	"math"
	"sort"

	"github.com/deepcaptioning/caprl/utils/floatutils"
	"gorgonia.org/tensor"
)

// Weights of the value estimate and token log-probability in the
// lookahead score of a beam expansion.
const (
	valueWeight   = 0.6
	logProbWeight = 0.4
)

// Candidate is one beam entry: a batch of partial captions and their
// cumulative scores. Lower scores are better; every expansion
// subtracts the weighted combination of the value estimate and the
// chosen token's log-probability from the running score.
type Candidate struct {
	Captions [][]int
	Scores   []float64
}

// meanScore is the candidate's ranking key.
func (c Candidate) meanScore() float64 {
	return floatutils.Mean(c.Scores...)
}

// Beam decodes captions with a fixed-width beam search whose scoring
// looks ahead through the value network: each expansion is scored by
// 0.6 x value estimate of the extended caption plus 0.4 x
// log-probability of the chosen token, accumulated negatively so the
// best candidates have the lowest cumulative score. Candidates are
// ranked by mean score with a stable sort, so exact ties keep
// insertion order. The full ranked candidate set is returned, best
// first.
func Beam(p Stepper, v Valuer, features *tensor.Dense, start []int,
	maxLen, beamSize int) ([]Candidate, error) {
	if len(start) == 0 {
		return nil, fmt.Errorf("beam: empty batch")
	}
	if maxLen < 1 {
		return nil, fmt.Errorf("beam: invalid maximum length %d", maxLen)
	}
	if beamSize < 1 {
		return nil, fmt.Errorf("beam: invalid beam size %d", beamSize)
	}

	candidates := []Candidate{{
		Captions: startPrefix(start),
		Scores:   make([]float64, len(start)),
	}}

	for t := 1; t < maxLen; t++ {
		next := make([]Candidate, 0, len(candidates)*beamSize)
		for _, candidate := range candidates {
			probs, err := p.StepProbs(features, candidate.Captions)
			if err != nil {
				return nil, fmt.Errorf("beam: step %d: %v", t, err)
			}

			top := make([][]int, len(probs))
			for i := range probs {
				top[i] = floatutils.TopK(probs[i], beamSize)
			}

			for k := 0; k < beamSize; k++ {
				tokens := make([]int, len(top))
				for i := range top {
					tokens[i] = top[i][k]
				}
				extended := extend(candidate.Captions, tokens)

				values, err := v.Values(features, extended)
				if err != nil {
					return nil, fmt.Errorf("beam: step %d: %v", t, err)
				}

				scores := make([]float64, len(tokens))
				for i := range scores {
					delta := valueWeight*values[i] +
						logProbWeight*math.Log(probs[i][tokens[i]])
					scores[i] = candidate.Scores[i] - delta
				}
				next = append(next, Candidate{
					Captions: extended,
					Scores:   scores,
				})
			}
		}

		sort.SliceStable(next, func(i, j int) bool {
			return next[i].meanScore() < next[j].meanScore()
		})
		if len(next) > beamSize {
			next = next[:beamSize]
		}
		candidates = next
	}

	return candidates, nil
}

// BeamBest returns only the captions of the best-scoring candidate.
func BeamBest(p Stepper, v Valuer, features *tensor.Dense, start []int,
	maxLen, beamSize int) ([][]int, error) {
	candidates, err := Beam(p, v, features, start, maxLen, beamSize)
	if err != nil {
		return nil, err
	}
	return candidates[0].Captions, nil
}
