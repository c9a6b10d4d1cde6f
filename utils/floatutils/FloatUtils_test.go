package floatutils

import (
	"reflect"
	"testing"
)

func TestArgMax(t *testing.T) {
	if idx := ArgMax([]float64{0.1, 0.7, 0.2}); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}
	// Ties break toward the lowest index
	if idx := ArgMax([]float64{0.5, 0.5, 0.5}); idx != 0 {
		t.Errorf("expected index 0 on ties, got %d", idx)
	}
}

func TestTopK(t *testing.T) {
	values := []float64{0.1, 0.7, 0.2, 0.7}

	top := TopK(values, 3)
	// Ties keep the lower index first
	if !reflect.DeepEqual(top, []int{1, 3, 2}) {
		t.Errorf("unexpected top indices %v", top)
	}

	if top := TopK(values, 10); len(top) != len(values) {
		t.Errorf("expected all %d indices, got %d", len(values), len(top))
	}
}

func TestMeanMinMax(t *testing.T) {
	if mean := Mean(1, 2, 3); mean != 2 {
		t.Errorf("expected mean 2, got %v", mean)
	}
	if min := Min(3, 1, 2); min != 1 {
		t.Errorf("expected min 1, got %v", min)
	}
	if max := Max(3, 1, 2); max != 3 {
		t.Errorf("expected max 3, got %v", max)
	}
}
