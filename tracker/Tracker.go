// Package tracker implements the metrics sink of the training loops:
// named scalar series indexed by a global step, saved after the
// experiment has finished.
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// Tracker keeps track of training metrics. Track records one scalar
// for a named series; Save persists everything recorded so far.
type Tracker interface {
	Track(name string, value float64, step int)
	Save() error
}

// GlobalStep converts an (epoch, batch) pair into a monotonically
// increasing step across epochs.
func GlobalStep(epoch, batch, batchesPerEpoch int) int {
	return epoch*batchesPerEpoch + batch
}

// Point is one tracked scalar.
type Point struct {
	Step  int
	Value float64
}

// Gob is a Tracker that persists all series to a single gob file.
type Gob struct {
	path   string
	series map[string][]Point
}

// NewGob returns a tracker saving to the given file.
func NewGob(path string) *Gob {
	return &Gob{
		path:   path,
		series: make(map[string][]Point),
	}
}

// Track records one scalar in a named series.
func (t *Gob) Track(name string, value float64, step int) {
	t.series[name] = append(t.series[name], Point{Step: step, Value: value})
}

// Names returns the tracked series names in sorted order.
func (t *Gob) Names() []string {
	names := make([]string, 0, len(t.series))
	for name := range t.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save persists every tracked series.
func (t *Gob) Save() error {
	file, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("save: could not create data file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(t.series); err != nil {
		return fmt.Errorf("save: could not encode data: %v", err)
	}
	return nil
}

// LoadSeries loads and returns the data saved by a Gob tracker.
func LoadSeries(path string) (map[string][]Point, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadseries: could not open data file: %v",
			err)
	}
	defer file.Close()

	series := make(map[string][]Point)
	if err := gob.NewDecoder(file).Decode(&series); err != nil {
		return nil, fmt.Errorf("loadseries: could not decode data: %v", err)
	}
	return series, nil
}

// Discard is a Tracker that drops everything. It stands in when
// metrics are disabled.
type Discard struct{}

func (Discard) Track(string, float64, int) {}
func (Discard) Save() error                { return nil }
