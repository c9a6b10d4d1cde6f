package experiment

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepcaptioning/caprl/checkpoint"
)

// payload is a minimal gob-serializable stand-in for a network.
type payload struct {
	data []byte
}

func (p *payload) GobEncode() ([]byte, error) {
	return append([]byte(nil), p.data...), nil
}

func (p *payload) GobDecode(data []byte) error {
	p.data = append([]byte(nil), data...)
	return nil
}

func newTestExperiment(t *testing.T, retrain bool) *Experiment {
	t.Helper()

	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	config, err := DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	config.Retrain = retrain
	return &Experiment{
		config: config,
		store:  store,
		logger: log.Default(),
	}
}

func TestRestoreFallsBackToTraining(t *testing.T) {
	e := newTestExperiment(t, false)

	loaded, err := e.restore(checkpoint.RewardNetworkFile,
		&payload{})
	if err != nil {
		t.Fatal(err)
	}
	if loaded {
		t.Error("expected a missing checkpoint to report not loaded")
	}
}

func TestRestoreLoadsSavedCheckpoint(t *testing.T) {
	e := newTestExperiment(t, false)

	saved := &payload{data: []byte("weights")}
	if err := e.store.Save(checkpoint.PolicyNetworkFile, saved); err != nil {
		t.Fatal(err)
	}

	restored := &payload{}
	loaded, err := e.restore(checkpoint.PolicyNetworkFile, restored)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded {
		t.Fatal("expected the saved checkpoint to load")
	}
	if string(restored.data) != "weights" {
		t.Errorf("expected decoded contents %q, got %q", "weights",
			restored.data)
	}
}

func TestRestoreSkipsCheckpointOnRetrain(t *testing.T) {
	e := newTestExperiment(t, true)

	if err := e.store.Save(checkpoint.ValueNetworkFile,
		&payload{data: []byte("stale")}); err != nil {
		t.Fatal(err)
	}

	restored := &payload{}
	loaded, err := e.restore(checkpoint.ValueNetworkFile, restored)
	if err != nil {
		t.Fatal(err)
	}
	if loaded {
		t.Error("expected a retrain to ignore the existing checkpoint")
	}
	if restored.data != nil {
		t.Error("expected a retrain to leave the network untouched")
	}
}

func readLines(t *testing.T, dir, name string) []string {
	t.Helper()

	contents, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(contents), "\n"), "\n")
}

func TestArtifactsStayLineAligned(t *testing.T) {
	dir := t.TempDir()

	examples := []struct {
		real, generated, url string
	}{
		{"a man rides a horse", "a man on a horse", "http://images/0.jpg"},
		{"two dogs play fetch", "a dog with a ball", "http://images/1.jpg"},
		{"a bowl of fruit", "a bowl of apples", "http://images/2.jpg"},
	}

	write := func(from, to int) {
		t.Helper()

		real, err := openArtifact(dir, RealCaptionsFile)
		if err != nil {
			t.Fatal(err)
		}
		defer real.Close()
		generated, err := openArtifact(dir, GeneratedCaptionsFile)
		if err != nil {
			t.Fatal(err)
		}
		defer generated.Close()
		urls, err := openArtifact(dir, ImageURLsFile)
		if err != nil {
			t.Fatal(err)
		}
		defer urls.Close()

		for _, example := range examples[from:to] {
			if err := real.WriteLine(example.real); err != nil {
				t.Fatal(err)
			}
			if err := generated.WriteLine(example.generated); err != nil {
				t.Fatal(err)
			}
			if err := urls.WriteLine(example.url); err != nil {
				t.Fatal(err)
			}
		}
	}

	// Appending across two openings mimics repeated evaluations.
	write(0, 2)
	write(2, len(examples))

	realLines := readLines(t, dir, RealCaptionsFile)
	generatedLines := readLines(t, dir, GeneratedCaptionsFile)
	urlLines := readLines(t, dir, ImageURLsFile)

	if len(realLines) != len(examples) ||
		len(generatedLines) != len(examples) ||
		len(urlLines) != len(examples) {
		t.Fatalf("expected %d lines per artifact, got %d/%d/%d",
			len(examples), len(realLines), len(generatedLines),
			len(urlLines))
	}
	for i, example := range examples {
		if realLines[i] != example.real {
			t.Errorf("real line %d: expected %q, got %q", i, example.real,
				realLines[i])
		}
		if generatedLines[i] != example.generated {
			t.Errorf("generated line %d: expected %q, got %q", i,
				example.generated, generatedLines[i])
		}
		if urlLines[i] != example.url {
			t.Errorf("url line %d: expected %q, got %q", i, example.url,
				urlLines[i])
		}
	}
}
