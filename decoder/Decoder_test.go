package decoder

import (
	"math"
	"reflect"
	"testing"

	"gorgonia.org/tensor"
)

// stubFeatures returns a placeholder feature matrix for n examples.
// The stub models below never read it.
func stubFeatures(n int) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(n, 1),
		tensor.WithBacking(make([]float64, n)),
	)
}

// peakStepper always puts most of the probability mass on one token.
type peakStepper struct {
	vocab     int
	favourite int
}

func (s peakStepper) StepProbs(_ *tensor.Dense,
	prefix [][]int) ([][]float64, error) {
	probs := make([][]float64, len(prefix))
	for i := range probs {
		row := make([]float64, s.vocab)
		rest := 0.2 / float64(s.vocab-1)
		for j := range row {
			row[j] = rest
		}
		row[s.favourite] = 0.8
		probs[i] = row
	}
	return probs, nil
}

// chainStepper favours the token after the last one in the prefix,
// making decoding depend on decoding history.
type chainStepper struct {
	vocab int
}

func (s chainStepper) StepProbs(_ *tensor.Dense,
	prefix [][]int) ([][]float64, error) {
	probs := make([][]float64, len(prefix))
	for i, row := range prefix {
		dist := make([]float64, s.vocab)
		rest := 0.3 / float64(s.vocab-1)
		for j := range dist {
			dist[j] = rest
		}
		dist[(row[len(row)-1]+1)%s.vocab] = 0.7
		probs[i] = dist
	}
	return probs, nil
}

// uniformStepper gives every token the same probability.
type uniformStepper struct {
	vocab int
}

func (s uniformStepper) StepProbs(_ *tensor.Dense,
	prefix [][]int) ([][]float64, error) {
	probs := make([][]float64, len(prefix))
	for i := range probs {
		row := make([]float64, s.vocab)
		for j := range row {
			row[j] = 1.0 / float64(s.vocab)
		}
		probs[i] = row
	}
	return probs, nil
}

// tokenValuer values a prefix by its last token.
type tokenValuer struct {
	values map[int]float64
}

func (v tokenValuer) Values(_ *tensor.Dense, prefix [][]int) ([]float64,
	error) {
	out := make([]float64, len(prefix))
	for i, row := range prefix {
		out[i] = v.values[row[len(row)-1]]
	}
	return out, nil
}

// constValuer values every prefix the same.
type constValuer struct {
	value float64
}

func (v constValuer) Values(_ *tensor.Dense, prefix [][]int) ([]float64,
	error) {
	out := make([]float64, len(prefix))
	for i := range out {
		out[i] = v.value
	}
	return out, nil
}

func TestGreedySelectsHighestProbabilityToken(t *testing.T) {
	decoded, err := Greedy(peakStepper{vocab: 12, favourite: 9},
		stubFeatures(2), []int{1, 1}, 5)
	if err != nil {
		t.Fatal(err)
	}

	expected := [][]int{{1, 9, 9, 9, 9}, {1, 9, 9, 9, 9}}
	if !reflect.DeepEqual(decoded, expected) {
		t.Errorf("unexpected decoding\n\twant(%v)\n\thave(%v)", expected,
			decoded)
	}
}

func TestGreedyTieBreaksTowardLowestToken(t *testing.T) {
	decoded, err := Greedy(uniformStepper{vocab: 4}, stubFeatures(1),
		[]int{1}, 3)
	if err != nil {
		t.Fatal(err)
	}

	expected := [][]int{{1, 0, 0}}
	if !reflect.DeepEqual(decoded, expected) {
		t.Errorf("unexpected decoding\n\twant(%v)\n\thave(%v)", expected,
			decoded)
	}
}

func TestCompleteLeavesFullLengthPrefixAlone(t *testing.T) {
	prefix := [][]int{{1, 4, 5, 2}}

	completed, err := Complete(peakStepper{vocab: 12, favourite: 9},
		stubFeatures(1), prefix, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(completed, prefix) {
		t.Errorf("expected prefix unchanged, got %v", completed)
	}
}

func TestGreedyRejectsInvalidInput(t *testing.T) {
	stepper := peakStepper{vocab: 12, favourite: 9}
	if _, err := Greedy(stepper, stubFeatures(1), nil, 5); err == nil {
		t.Error("expected an error for an empty batch")
	}
	if _, err := Greedy(stepper, stubFeatures(1), []int{1}, 0); err == nil {
		t.Error("expected an error for a non-positive maximum length")
	}
}

func TestBeamWidthOneMatchesGreedy(t *testing.T) {
	stepper := chainStepper{vocab: 5}
	start := []int{1, 2}

	greedy, err := Greedy(stepper, stubFeatures(2), start, 6)
	if err != nil {
		t.Fatal(err)
	}
	beam, err := BeamBest(stepper, constValuer{value: 0.5}, stubFeatures(2),
		start, 6, 1)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(beam, greedy) {
		t.Errorf("beam width 1 diverged from greedy\n\twant(%v)\n\thave(%v)",
			greedy, beam)
	}
}

func TestBeamPrefersLookaheadValueOverProbability(t *testing.T) {
	// Token 0 is most probable, but extending with token 1 yields a
	// much higher value estimate: the combined lookahead score must
	// pick token 1.
	stepper := peakStepper{vocab: 2, favourite: 0}
	valuer := tokenValuer{values: map[int]float64{0: 0.0, 1: 1.0}}

	best, err := BeamBest(stepper, valuer, stubFeatures(1), []int{1}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if best[0][1] != 1 {
		t.Errorf("expected the high-value token 1, got %d", best[0][1])
	}
}

func TestBeamScoresAccumulateNegatively(t *testing.T) {
	stepper := peakStepper{vocab: 2, favourite: 0}
	valuer := constValuer{value: 0.5}

	candidates, err := Beam(stepper, valuer, stubFeatures(1), []int{1}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}

	// One step from probability 0.8 for token 0, 0.2 for token 1:
	// score = -(0.6*value + 0.4*log p).
	expected := map[int]float64{
		0: -(0.6*0.5 + 0.4*math.Log(0.8)),
		1: -(0.6*0.5 + 0.4*math.Log(0.2)),
	}
	for _, candidate := range candidates {
		token := candidate.Captions[0][1]
		if diff := math.Abs(candidate.Scores[0] - expected[token]); diff >
			1e-12 {
			t.Errorf("token %d: expected score %v, got %v", token,
				expected[token], candidate.Scores[0])
		}
	}
	if candidates[0].Captions[0][1] != 0 {
		t.Errorf("expected the lower-scored candidate first, got token %d",
			candidates[0].Captions[0][1])
	}
}

func TestBeamKeepsInsertionOrderOnTies(t *testing.T) {
	// Uniform probabilities and a constant value make every expansion
	// score identical, so the stable sort must keep the first-inserted
	// candidate (token 0) in front.
	best, err := BeamBest(uniformStepper{vocab: 3}, constValuer{value: 0.5},
		stubFeatures(1), []int{1}, 4, 3)
	if err != nil {
		t.Fatal(err)
	}

	expected := [][]int{{1, 0, 0, 0}}
	if !reflect.DeepEqual(best, expected) {
		t.Errorf("unexpected decoding\n\twant(%v)\n\thave(%v)", expected,
			best)
	}
}

func TestBeamRejectsInvalidInput(t *testing.T) {
	stepper := uniformStepper{vocab: 3}
	valuer := constValuer{value: 0.5}

	if _, err := Beam(stepper, valuer, stubFeatures(1), nil, 4, 3); err ==
		nil {
		t.Error("expected an error for an empty batch")
	}
	if _, err := Beam(stepper, valuer, stubFeatures(1), []int{1}, 0,
		3); err == nil {
		t.Error("expected an error for a non-positive maximum length")
	}
	if _, err := Beam(stepper, valuer, stubFeatures(1), []int{1}, 4,
		0); err == nil {
		t.Error("expected an error for a non-positive beam width")
	}
}
