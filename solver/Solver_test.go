package solver

import (
	"encoding/json"
	"testing"
)

func TestAdamJSONRoundTrip(t *testing.T) {
	original, err := NewDefaultAdam(1e-4, 512)
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	restored := &Solver{}
	if err := json.Unmarshal(encoded, restored); err != nil {
		t.Fatal(err)
	}

	if restored.Type != Adam {
		t.Errorf("expected type %v, got %v", Adam, restored.Type)
	}
	config, ok := restored.Config.(*AdamConfig)
	if !ok {
		t.Fatalf("expected an *AdamConfig, got %T", restored.Config)
	}
	if config.StepSize != 1e-4 || config.Batch != 512 {
		t.Errorf("unexpected configuration %+v", config)
	}
	if restored.Solver == nil {
		t.Error("expected a usable Gorgonia solver after unmarshalling")
	}
}

func TestVanillaJSONRoundTrip(t *testing.T) {
	original, err := NewVanilla(1e-2, 256)
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	restored := &Solver{}
	if err := json.Unmarshal(encoded, restored); err != nil {
		t.Fatal(err)
	}

	if restored.Type != Vanilla {
		t.Errorf("expected type %v, got %v", Vanilla, restored.Type)
	}
	config, ok := restored.Config.(*VanillaConfig)
	if !ok {
		t.Fatalf("expected a *VanillaConfig, got %T", restored.Config)
	}
	if config.StepSize != 1e-2 || config.Batch != 256 {
		t.Errorf("unexpected configuration %+v", config)
	}
	if restored.Solver == nil {
		t.Error("expected a usable Gorgonia solver after unmarshalling")
	}
}

func TestConfigTypeMismatch(t *testing.T) {
	if _, err := newSolver(Vanilla, AdamConfig{}); err == nil {
		t.Error("expected an error for a mismatched solver type")
	}
}
