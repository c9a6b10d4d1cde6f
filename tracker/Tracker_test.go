package tracker

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestGlobalStep(t *testing.T) {
	if step := GlobalStep(0, 7, 10); step != 7 {
		t.Errorf("expected step 7, got %d", step)
	}
	if step := GlobalStep(3, 2, 10); step != 32 {
		t.Errorf("expected step 32, got %d", step)
	}
}

func TestGobTrackerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.bin")

	tracked := NewGob(path)
	tracked.Track("a2c/loss", 0.5, 0)
	tracked.Track("a2c/loss", 0.25, 1)
	tracked.Track("a2c/reward", 0.9, 0)
	if err := tracked.Save(); err != nil {
		t.Fatal(err)
	}

	series, err := LoadSeries(path)
	if err != nil {
		t.Fatal(err)
	}

	expected := map[string][]Point{
		"a2c/loss":   {{Step: 0, Value: 0.5}, {Step: 1, Value: 0.25}},
		"a2c/reward": {{Step: 0, Value: 0.9}},
	}
	if !reflect.DeepEqual(series, expected) {
		t.Errorf("unexpected series\n\twant(%v)\n\thave(%v)", expected,
			series)
	}
}

func TestGobTrackerNames(t *testing.T) {
	tracked := NewGob(filepath.Join(t.TempDir(), "metrics.bin"))
	tracked.Track("b", 1, 0)
	tracked.Track("a", 1, 0)

	if names := tracked.Names(); !reflect.DeepEqual(names,
		[]string{"a", "b"}) {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestDiscardTracker(t *testing.T) {
	var tracked Tracker = Discard{}
	tracked.Track("anything", 1, 0)
	if err := tracked.Save(); err != nil {
		t.Errorf("discard tracker should never fail: %v", err)
	}
}
