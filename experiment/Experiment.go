// Package experiment wires the complete captioning pipeline: dataset
// loading, load-or-train preparation of the reward, policy, and value
// networks, actor-critic fine-tuning, and beam-search evaluation of
// the result.
package experiment

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/deepcaptioning/caprl/checkpoint"
	"github.com/deepcaptioning/caprl/data"
	"github.com/deepcaptioning/caprl/decoder"
	"github.com/deepcaptioning/caprl/network"
	"github.com/deepcaptioning/caprl/tracker"
	"github.com/deepcaptioning/caprl/trainer"
)

// Evaluation artifact filenames. The three caption files are appended
// to and stay line-aligned: line i of each file describes the same
// validation example.
const (
	RealCaptionsFile      = "real_captions.txt"
	GeneratedCaptionsFile = "generated_captions.txt"
	ImageURLsFile         = "image_url.txt"
	MetricsFile           = "metrics.bin"
)

// Experiment is one full run over a dataset: prepared sub-networks,
// fine-tuning, and evaluation.
type Experiment struct {
	config Config
	ds     *data.Dataset
	store  *checkpoint.Store
	track  tracker.Tracker
	logger *log.Logger

	reward *network.Reward
	policy *network.Policy
	value  *network.Value
}

// New loads the dataset and constructs fresh networks sized to it.
// When the dataset carries pretrained word embeddings they seed every
// network's embedding table.
func New(config Config) (*Experiment, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	ds, err := data.Load(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	store, err := checkpoint.NewStore(config.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("new: could not create log directory: %v", err)
	}

	featureDim := ds.FeatureDim()
	vocab := ds.Vocab.Size()
	init := config.Init.InitWFn()

	reward, err := network.NewReward(featureDim, vocab, config.EmbedDim,
		config.HiddenDim, config.RewardDim, init, ds.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	policy, err := network.NewPolicy(featureDim, vocab, config.EmbedDim,
		config.HiddenDim, init, ds.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	value, err := network.NewValue(featureDim, vocab, config.EmbedDim,
		config.HiddenDim, init, ds.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return &Experiment{
		config: config,
		ds:     ds,
		store:  store,
		track:  tracker.NewGob(filepath.Join(config.LogDir, MetricsFile)),
		logger: log.Default(),
		reward: reward,
		policy: policy,
		value:  value,
	}, nil
}

// Run executes the full pipeline: prepare the three sub-networks,
// fine-tune the actor-critic network, evaluate it on the validation
// split, and save the tracked metrics.
func (e *Experiment) Run() error {
	if err := e.prepare(); err != nil {
		return fmt.Errorf("run: %v", err)
	}

	a2c, err := trainer.New(e.config.A2C,
		network.NewActorCritic(e.policy, e.value), e.reward, e.store, e.track)
	if err != nil {
		return fmt.Errorf("run: %v", err)
	}

	e.logger.Printf("[Training] actor-critic network (curriculum=%v)",
		e.config.Curriculum)
	if e.config.Curriculum {
		err = a2c.TrainCurriculum(e.ds, e.config.CurriculumLevels)
	} else {
		err = a2c.Train(e.ds)
	}
	if err != nil {
		return fmt.Errorf("run: %v", err)
	}

	if err := e.Evaluate(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	if err := e.track.Save(); err != nil {
		return fmt.Errorf("run: could not save metrics: %v", err)
	}
	return nil
}

// prepare restores each sub-network from its checkpoint, training it
// from scratch when no checkpoint exists or a retrain was requested.
// The value network pretrains against the already-prepared policy and
// reward networks.
func (e *Experiment) prepare() error {
	loaded, err := e.restore(checkpoint.RewardNetworkFile, e.reward)
	if err != nil {
		return err
	}
	if !loaded {
		e.logger.Printf("[Training] reward network")
		if err := trainer.TrainReward(e.reward, e.ds, e.store, e.track,
			e.config.Reward); err != nil {
			return err
		}
	}

	loaded, err = e.restore(checkpoint.PolicyNetworkFile, e.policy)
	if err != nil {
		return err
	}
	if !loaded {
		e.logger.Printf("[Training] policy network")
		if err := trainer.TrainPolicy(e.policy, e.ds, e.store, e.track,
			e.config.Policy); err != nil {
			return err
		}
	}

	loaded, err = e.restore(checkpoint.ValueNetworkFile, e.value)
	if err != nil {
		return err
	}
	if !loaded {
		e.logger.Printf("[Training] value network")
		if err := trainer.TrainValue(e.value, e.policy, e.reward, e.ds,
			e.store, e.track, e.config.Value); err != nil {
			return err
		}
	}

	return nil
}

// restore loads a checkpoint into obj unless a retrain was requested.
func (e *Experiment) restore(file string,
	obj checkpoint.Serializable) (bool, error) {
	if e.config.Retrain {
		return false, nil
	}
	found, err := e.store.Lookup(file, obj)
	if err != nil {
		return false, err
	}
	if found {
		e.logger.Printf("[Loaded] %v", file)
	}
	return found, nil
}

// Evaluate captions the validation split with most-likely beam
// decoding and appends three line-aligned artifacts to the log
// directory: the ground-truth captions, the generated captions, and
// the source image URLs. The split is visited in its stored order so
// repeated evaluations stay comparable line by line.
func (e *Experiment) Evaluate() error {
	batches, err := e.ds.Minibatches(data.ValSplit, e.config.A2C.BatchSize,
		nil)
	if err != nil {
		return fmt.Errorf("evaluate: %v", err)
	}

	remaining := e.config.TestSize
	if remaining == 0 {
		remaining = e.ds.Len(data.ValSplit)
	}

	real, err := openArtifact(e.config.LogDir, RealCaptionsFile)
	if err != nil {
		return fmt.Errorf("evaluate: %v", err)
	}
	defer real.Close()
	generated, err := openArtifact(e.config.LogDir, GeneratedCaptionsFile)
	if err != nil {
		return fmt.Errorf("evaluate: %v", err)
	}
	defer generated.Close()
	urls, err := openArtifact(e.config.LogDir, ImageURLsFile)
	if err != nil {
		return fmt.Errorf("evaluate: %v", err)
	}
	defer urls.Close()

	for _, batch := range batches {
		if remaining <= 0 {
			break
		}

		starts := make([]int, len(batch.Captions))
		for i := range starts {
			starts[i] = data.StartToken
		}
		decoded, err := decoder.BeamBest(e.policy, e.value, batch.Features,
			starts, trainer.MaxSeqLen, e.config.BeamWidth)
		if err != nil {
			return fmt.Errorf("evaluate: %v", err)
		}

		realLines := e.ds.Vocab.DecodeCaptions(batch.Captions)
		generatedLines := e.ds.Vocab.DecodeCaptions(decoded)
		for i := range realLines {
			if remaining <= 0 {
				break
			}
			if err := real.WriteLine(realLines[i]); err != nil {
				return fmt.Errorf("evaluate: %v", err)
			}
			if err := generated.WriteLine(generatedLines[i]); err != nil {
				return fmt.Errorf("evaluate: %v", err)
			}
			if err := urls.WriteLine(batch.URLs[i]); err != nil {
				return fmt.Errorf("evaluate: %v", err)
			}
			remaining--
		}
	}

	for _, artifact := range []*artifactWriter{real, generated, urls} {
		if err := artifact.Flush(); err != nil {
			return fmt.Errorf("evaluate: %v", err)
		}
	}
	return nil
}

// artifactWriter appends lines to one evaluation artifact.
type artifactWriter struct {
	file *os.File
	buf  *bufio.Writer
}

// openArtifact opens an artifact file for appending, creating it when
// needed.
func openArtifact(dir, name string) (*artifactWriter, error) {
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0o644)
	if err != nil {
		return nil, fmt.Errorf("openartifact: could not open %v: %v", path,
			err)
	}
	return &artifactWriter{file: file, buf: bufio.NewWriter(file)}, nil
}

// WriteLine appends one line.
func (a *artifactWriter) WriteLine(line string) error {
	_, err := fmt.Fprintln(a.buf, line)
	return err
}

// Flush writes any buffered lines through to the file.
func (a *artifactWriter) Flush() error {
	return a.buf.Flush()
}

// Close flushes and closes the artifact.
func (a *artifactWriter) Close() error {
	if err := a.buf.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}
