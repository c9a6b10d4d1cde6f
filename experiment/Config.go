package experiment

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/deepcaptioning/caprl/initwfn"
	"github.com/deepcaptioning/caprl/trainer"
)

// Default network and evaluation hyperparameters
const (
	DefaultEmbedDim  = 512
	DefaultHiddenDim = 512
	DefaultRewardDim = 512
	DefaultBeamWidth = 5
)

// Config aggregates everything one full experiment needs: dataset,
// model, and log directories, network sizes, the weight initializer,
// per-phase training configurations, the curriculum, and evaluation
// settings. Configs are JSON-(de)serializable so experiments can be
// described by configuration files.
type Config struct {
	DataDir  string
	ModelDir string
	LogDir   string

	EmbedDim  int
	HiddenDim int
	RewardDim int

	Init *initwfn.InitWFn

	Reward trainer.PretrainConfig
	Policy trainer.PretrainConfig
	Value  trainer.PretrainConfig
	A2C    trainer.Config

	Curriculum       bool
	CurriculumLevels []int

	// Retrain forces fresh training of every sub-network, ignoring
	// existing checkpoints.
	Retrain bool

	BeamWidth int

	// TestSize limits how many validation examples are captioned
	// during evaluation. Zero means the whole validation split.
	TestSize int
}

// DefaultConfig returns the default experiment configuration.
func DefaultConfig() (Config, error) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("defaultconfig: could not create "+
			"initializer: %v", err)
	}

	levels := make([]int, len(trainer.DefaultLevels))
	copy(levels, trainer.DefaultLevels)

	return Config{
		DataDir:  "data",
		ModelDir: "models",
		LogDir:   "logs",

		EmbedDim:  DefaultEmbedDim,
		HiddenDim: DefaultHiddenDim,
		RewardDim: DefaultRewardDim,

		Init: init,

		Reward: trainer.DefaultRewardConfig(),
		Policy: trainer.DefaultPolicyConfig(),
		Value:  trainer.DefaultValueConfig(),
		A2C:    trainer.DefaultConfig(),

		CurriculumLevels: levels,

		BeamWidth: DefaultBeamWidth,
	}, nil
}

// LoadConfig reads a JSON configuration file, with defaults filling
// every field the file omits.
func LoadConfig(path string) (Config, error) {
	config, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	encoded, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("loadconfig: could not read %v: %v",
			path, err)
	}
	if err := json.Unmarshal(encoded, &config); err != nil {
		return Config{}, fmt.Errorf("loadconfig: could not parse %v: %v",
			path, err)
	}

	return config, nil
}

// validate returns an error describing the first invalid field.
func (c Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("no dataset directory")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("no model directory")
	}
	if c.LogDir == "" {
		return fmt.Errorf("no log directory")
	}
	for _, dim := range []int{c.EmbedDim, c.HiddenDim, c.RewardDim} {
		if dim < 1 {
			return fmt.Errorf("invalid network dimension %d", dim)
		}
	}
	if c.Init == nil {
		return fmt.Errorf("no weight initializer")
	}
	if c.BeamWidth < 1 {
		return fmt.Errorf("invalid beam width %d", c.BeamWidth)
	}
	if c.TestSize < 0 {
		return fmt.Errorf("invalid test size %d", c.TestSize)
	}
	return nil
}
