package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func testPolicy(t *testing.T) (*Policy, *tensor.Dense, [][]int) {
	t.Helper()

	const (
		featureDim = 3
		vocab      = 5
		embedDim   = 4
		hiddenDim  = 6
	)

	policy, err := NewPolicy(featureDim, vocab, embedDim, hiddenDim,
		G.GlorotU(1.0), nil)
	if err != nil {
		t.Fatal(err)
	}

	features := tensor.NewDense(tensor.Float64, []int{2, featureDim},
		tensor.WithBacking([]float64{
			0.1, -0.4, 0.8,
			-0.2, 0.5, 0.3,
		}))
	prefix := [][]int{
		{1, 4, 2},
		{1, 3, 0},
	}
	return policy, features, prefix
}

// softmax normalizes one row of unnormalized scores.
func softmax(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}

	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func TestScoresAllAgreesWithStepProbs(t *testing.T) {
	policy, features, prefix := testPolicy(t)

	all, err := policy.ScoresAll(features, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(prefix[0]) {
		t.Fatalf("expected scores at %d positions, got %d", len(prefix[0]),
			len(all))
	}
	for pos, scores := range all {
		if len(scores) != len(prefix) {
			t.Fatalf("position %d: expected %d rows, got %d", pos,
				len(prefix), len(scores))
		}
		for i, row := range scores {
			if len(row) != policy.Vocab() {
				t.Fatalf("position %d row %d: expected %d scores, got %d",
					pos, i, policy.Vocab(), len(row))
			}
		}
	}

	probs, err := policy.StepProbs(features, prefix)
	if err != nil {
		t.Fatal(err)
	}

	// Normalizing the final position's scores must reproduce the
	// next-token distribution.
	last := all[len(all)-1]
	for i := range prefix {
		want := softmax(last[i])
		for w := range want {
			if math.Abs(want[w]-probs[i][w]) > 1e-9 {
				t.Errorf("example %d token %d: expected probability %v, "+
					"got %v", i, w, want[w], probs[i][w])
			}
		}
	}
}

func TestStepProbsRowsSumToOne(t *testing.T) {
	policy, features, prefix := testPolicy(t)

	probs, err := policy.StepProbs(features, prefix)
	if err != nil {
		t.Fatal(err)
	}

	for i, row := range probs {
		var sum float64
		for _, p := range row {
			if p < 0 {
				t.Errorf("example %d: negative probability %v", i, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("example %d: probabilities sum to %v", i, sum)
		}
	}
}

func TestScoresAllRejectsInvalidInput(t *testing.T) {
	policy, features, _ := testPolicy(t)

	if _, err := policy.ScoresAll(features, [][]int{}); err == nil {
		t.Error("expected an error for an empty batch")
	}
	if _, err := policy.ScoresAll(features, [][]int{{1, 2}}); err == nil {
		t.Error("expected an error for a batch size mismatch")
	}
	if _, err := policy.ScoresAll(features,
		[][]int{{1, 2}, {1}}); err == nil {
		t.Error("expected an error for ragged prefixes")
	}
}
