package initwfn

import (
	"encoding/json"
	"testing"
)

func TestGlorotUJSONRoundTrip(t *testing.T) {
	original, err := NewGlorotU(1.5)
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	restored := &InitWFn{}
	if err := json.Unmarshal(encoded, restored); err != nil {
		t.Fatal(err)
	}

	if restored.Type != GlorotU {
		t.Errorf("expected type %v, got %v", GlorotU, restored.Type)
	}
	config, ok := restored.Config.(*GlorotUConfig)
	if !ok {
		t.Fatalf("expected a *GlorotUConfig, got %T", restored.Config)
	}
	if config.Gain != 1.5 {
		t.Errorf("expected gain 1.5, got %v", config.Gain)
	}
	if restored.InitWFn() == nil {
		t.Error("expected a usable initializer after unmarshalling")
	}
}

func TestZeroesJSONRoundTrip(t *testing.T) {
	original, err := NewZeroes()
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	restored := &InitWFn{}
	if err := json.Unmarshal(encoded, restored); err != nil {
		t.Fatal(err)
	}

	if restored.Type != Zeroes {
		t.Errorf("expected type %v, got %v", Zeroes, restored.Type)
	}
	if restored.InitWFn() == nil {
		t.Error("expected a usable initializer after unmarshalling")
	}
}
