package network

import (
	"testing"

	G "gorgonia.org/gorgonia"
)

func TestParamSetRejectsDuplicates(t *testing.T) {
	ps := newParamSet()
	if err := ps.add("w", G.Zeroes(), 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := ps.add("w", G.Zeroes(), 2, 3); err == nil {
		t.Error("expected an error for a duplicate parameter name")
	}
}

func TestParamSetGobRoundTrip(t *testing.T) {
	original := newParamSet()
	if err := original.add("w", G.GlorotU(1.0), 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := original.add("b", G.Zeroes(), 1, 3); err != nil {
		t.Fatal(err)
	}

	encoded, err := original.GobEncode()
	if err != nil {
		t.Fatal(err)
	}

	restored := newParamSet()
	if err := restored.add("w", G.Zeroes(), 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := restored.add("b", G.Zeroes(), 1, 3); err != nil {
		t.Fatal(err)
	}
	if err := restored.GobDecode(encoded); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"w", "b"} {
		want := original.byName[name].value.Data().([]float64)
		have := restored.byName[name].value.Data().([]float64)
		if len(want) != len(have) {
			t.Fatalf("parameter %q: size mismatch", name)
		}
		for i := range want {
			if want[i] != have[i] {
				t.Errorf("parameter %q element %d: expected %v, got %v",
					name, i, want[i], have[i])
				break
			}
		}
	}
}

func TestParamSetGobDecodeRejectsShapeMismatch(t *testing.T) {
	original := newParamSet()
	if err := original.add("w", G.Zeroes(), 2, 3); err != nil {
		t.Fatal(err)
	}
	encoded, err := original.GobEncode()
	if err != nil {
		t.Fatal(err)
	}

	mismatched := newParamSet()
	if err := mismatched.add("w", G.Zeroes(), 3, 2); err != nil {
		t.Fatal(err)
	}
	if err := mismatched.GobDecode(encoded); err == nil {
		t.Error("expected an error for a shape mismatch")
	}
}

func TestOneHotRejectsOutOfRangeTokens(t *testing.T) {
	g := G.NewGraph()
	if _, err := OneHot(g, "bad", []int{0, 7}, 5); err == nil {
		t.Error("expected an error for a token outside the vocabulary")
	}
}
