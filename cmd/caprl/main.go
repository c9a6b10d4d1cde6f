// Command caprl trains the image-captioning networks end to end:
// pretraining of the reward, policy, and value networks (skipped for
// any network with an existing checkpoint), advantage actor-critic
// fine-tuning of the policy and value networks, and beam-search
// evaluation over the validation split.
package main

import (
	"flag"
	"log"

	"github.com/deepcaptioning/caprl/experiment"
	"github.com/deepcaptioning/caprl/trainer"
)

func main() {
	var (
		configPath = flag.String("config", "", "JSON experiment "+
			"configuration file; explicitly set flags override its values")
		dataDir  = flag.String("data", "data", "dataset directory")
		modelDir = flag.String("models", "models", "checkpoint directory")
		logDir   = flag.String("logs", "logs", "metrics and evaluation "+
			"artifact directory")
		epochs = flag.Int("epochs", trainer.DefaultEpochs,
			"actor-critic training epochs")
		batchSize = flag.Int("batch", trainer.DefaultBatchSize,
			"minibatch size for every training phase")
		curriculum = flag.Bool("curriculum", false, "fine-tune over the "+
			"generation-length curriculum")
		retrain = flag.Bool("retrain", false, "retrain every sub-network "+
			"even when checkpoints exist")
		testSize = flag.Int("testsize", 0, "validation examples to caption "+
			"during evaluation (0 = all)")
		beamWidth = flag.Int("beam", experiment.DefaultBeamWidth,
			"beam width for evaluation decoding")
		seed = flag.Uint64("seed", 0, "random seed for rollout sampling "+
			"and dataset shuffling")
	)
	flag.Parse()

	var config experiment.Config
	var err error
	if *configPath != "" {
		config, err = experiment.LoadConfig(*configPath)
	} else {
		config, err = experiment.DefaultConfig()
	}
	if err != nil {
		log.Fatal(err)
	}

	override := map[string]func(){
		"data":   func() { config.DataDir = *dataDir },
		"models": func() { config.ModelDir = *modelDir },
		"logs":   func() { config.LogDir = *logDir },
		"epochs": func() { config.A2C.Epochs = *epochs },
		"batch": func() {
			config.A2C.BatchSize = *batchSize
			config.Reward.BatchSize = *batchSize
			config.Policy.BatchSize = *batchSize
			config.Value.BatchSize = *batchSize
		},
		"curriculum": func() { config.Curriculum = *curriculum },
		"retrain":    func() { config.Retrain = *retrain },
		"testsize":   func() { config.TestSize = *testSize },
		"beam":       func() { config.BeamWidth = *beamWidth },
		"seed": func() {
			config.A2C.Seed = *seed
			config.Reward.Seed = *seed
			config.Policy.Seed = *seed
			config.Value.Seed = *seed
		},
	}
	if *configPath == "" {
		// No configuration file: every flag applies.
		for _, apply := range override {
			apply()
		}
	} else {
		flag.Visit(func(f *flag.Flag) {
			if apply, ok := override[f.Name]; ok {
				apply()
			}
		})
	}

	exp, err := experiment.New(config)
	if err != nil {
		log.Fatal(err)
	}
	if err := exp.Run(); err != nil {
		log.Fatal(err)
	}
}
