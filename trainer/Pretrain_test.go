package trainer

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/deepcaptioning/caprl/solver"
)

func TestTruncationLengthCoversFullCaptions(t *testing.T) {
	rng := rand.New(rand.NewSource(0))

	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		length := truncationLength(rng)
		if length < 1 || length > MaxSeqLen {
			t.Fatalf("expected a length in [1, %d], got %d", MaxSeqLen,
				length)
		}
		seen[length] = true
	}

	// The bounds are inclusive: single-token prefixes and whole
	// captions must both be sampled.
	if !seen[1] {
		t.Error("expected single-token prefixes to be sampled")
	}
	if !seen[MaxSeqLen] {
		t.Errorf("expected full-length (%d token) prefixes to be sampled",
			MaxSeqLen)
	}
}

func TestNewSolverDefaultsToAdam(t *testing.T) {
	sol, err := newSolver(nil, 1e-4, 512)
	if err != nil {
		t.Fatal(err)
	}
	if sol.Type != solver.Adam {
		t.Errorf("expected the default %v solver, got %v", solver.Adam,
			sol.Type)
	}
}

func TestNewSolverKeepsOverride(t *testing.T) {
	vanilla, err := solver.NewVanilla(1e-2, 512)
	if err != nil {
		t.Fatal(err)
	}

	sol, err := newSolver(vanilla, 1e-4, 512)
	if err != nil {
		t.Fatal(err)
	}
	if sol != vanilla {
		t.Error("expected the configured solver to be used as-is")
	}
}

func TestPretrainConfigValidation(t *testing.T) {
	for _, config := range []PretrainConfig{DefaultRewardConfig(),
		DefaultPolicyConfig(), DefaultValueConfig()} {
		if err := config.validate(); err != nil {
			t.Errorf("default configuration should validate: %v", err)
		}
	}

	invalid := []PretrainConfig{
		{Epochs: 0, BatchSize: 512, LearningRate: 1e-4},
		{Epochs: 50, BatchSize: 0, LearningRate: 1e-4},
		{Epochs: 50, BatchSize: 512, LearningRate: 0},
	}
	for i, config := range invalid {
		if err := config.validate(); err == nil {
			t.Errorf("configuration %d should not validate", i)
		}
	}
}
