// Package trainer implements the training phases of the captioning
// system: individual pretraining of the reward, policy, and value
// networks, followed by advantage actor-critic fine-tuning of the
// policy and value networks against the frozen reward network, either
// over full captions or over a curriculum of increasing generation
// lengths.
package trainer

import (
	"fmt"
	"log"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/deepcaptioning/caprl/checkpoint"
	"github.com/deepcaptioning/caprl/data"
	"github.com/deepcaptioning/caprl/network"
	"github.com/deepcaptioning/caprl/solver"
	"github.com/deepcaptioning/caprl/tracker"
	"github.com/deepcaptioning/caprl/utils/progressbar"
)

// MaxSeqLen is the fixed encoded caption length: a start token, the
// caption words, an end token, then padding.
const MaxSeqLen = 17

// Default actor-critic hyperparameters
const (
	DefaultLearningRate = 1e-4
	DefaultEpochs       = 100
	DefaultBatchSize    = 512
)

const barWidth = 30

// Config holds the actor-critic training hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64

	// Solver overrides the default Adam solver when non-nil.
	Solver *solver.Solver
}

// DefaultConfig returns the default actor-critic configuration.
func DefaultConfig() Config {
	return Config{
		Epochs:       DefaultEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: DefaultLearningRate,
	}
}

// validate returns an error describing the first invalid field.
func (c Config) validate() error {
	if c.Epochs < 1 {
		return fmt.Errorf("invalid epoch count %d", c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("invalid batch size %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("invalid learning rate %v", c.LearningRate)
	}
	return nil
}

// stepModel is one joint forward step of the actor and critic on the
// current caption prefix.
type stepModel interface {
	StepValueProbs(features *tensor.Dense,
		prefix [][]int) ([]float64, [][]float64, error)
}

// rewarder scores complete or partial captions against image features.
type rewarder interface {
	Rewards(features *tensor.Dense, captions [][]int) ([]float64, error)
}

// A2C fine-tunes a pretrained actor-critic network with one-step
// advantage actor-critic updates. The reward network collaborates but
// stays frozen: it only ever runs forward.
type A2C struct {
	config      Config
	actorCritic *network.ActorCritic
	reward      *network.Reward
	sol         *solver.Solver
	store       *checkpoint.Store
	track       tracker.Tracker
	rng         *rand.Rand
	logger      *log.Logger
}

// New returns an actor-critic trainer over a pretrained joint network
// and a frozen reward network. A nil tracker disables metrics.
func New(config Config, actorCritic *network.ActorCritic,
	reward *network.Reward, store *checkpoint.Store,
	track tracker.Tracker) (*A2C, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	sol, err := newSolver(config.Solver, config.LearningRate,
		config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create solver: %v", err)
	}
	if track == nil {
		track = tracker.Discard{}
	}

	return &A2C{
		config:      config,
		actorCritic: actorCritic,
		reward:      reward,
		sol:         sol,
		store:       store,
		track:       track,
		rng:         rand.New(rand.NewSource(config.Seed)),
		logger:      log.Default(),
	}, nil
}

// Train fine-tunes the actor-critic network over full captions: every
// minibatch rolls out from the start token alone, for as many steps as
// the longest caption in the minibatch. The joint network is
// checkpointed after every epoch.
func (a *A2C) Train(ds *data.Dataset) error {
	file := checkpoint.ActorCriticFile(false)
	for epoch := 0; epoch < a.config.Epochs; epoch++ {
		loss, err := a.runEpoch(ds, epoch, fullCaptionPlan, "a2c", file)
		if err != nil {
			return fmt.Errorf("train: epoch %d: %v", epoch, err)
		}
		a.logger.Printf("a2c epoch %d mean loss %f", epoch, loss)
	}
	return nil
}

// batchPlan decides how one minibatch is trained on: the length of the
// teacher-forced prefix, an optional per-example weight mask, and
// whether the minibatch is used at all.
type batchPlan func(captions [][]int) (prefixLen int, mask []float64, ok bool)

// fullCaptionPlan rolls out from the start token alone with every
// example included.
func fullCaptionPlan(captions [][]int) (int, []float64, bool) {
	return 1, nil, len(captions) > 0
}

// runEpoch performs one shuffled pass over the training split,
// checkpointing the joint network when the pass completes. It returns
// the mean loss over the minibatches that were trained on.
func (a *A2C) runEpoch(ds *data.Dataset, epoch int, plan batchPlan,
	series, file string) (float64, error) {
	batches, err := ds.Minibatches(data.TrainSplit, a.config.BatchSize, a.rng)
	if err != nil {
		return 0, err
	}

	bar := progressbar.New(barWidth, len(batches),
		fmt.Sprintf("epoch %d", epoch))
	defer bar.Close()

	totalLoss := 0.0
	trained := 0
	for b, batch := range batches {
		prefixLen, mask, ok := plan(batch.Captions)
		if !ok {
			bar.Increment()
			continue
		}

		stats, err := a.update(batch, prefixLen, mask)
		if err != nil {
			return 0, fmt.Errorf("minibatch %d: %v", b, err)
		}

		step := tracker.GlobalStep(epoch, b, len(batches))
		a.track.Track(series+"/loss", stats.loss, step)
		a.track.Track(series+"/reward", stats.meanReward, step)
		a.track.Track(series+"/advantage", stats.meanAdvantage, step)

		totalLoss += stats.loss
		trained++
		bar.Describe(fmt.Sprintf("epoch %d loss %.4f", epoch, stats.loss))
		bar.Increment()
	}

	if err := a.store.Save(file, a.actorCritic); err != nil {
		return 0, fmt.Errorf("could not checkpoint network: %v", err)
	}

	if trained == 0 {
		return 0, nil
	}
	return totalLoss / float64(trained), nil
}

// updateStats summarizes one minibatch update.
type updateStats struct {
	loss          float64
	meanReward    float64
	meanAdvantage float64
}

// update performs one advantage actor-critic update on a minibatch:
// roll out the current policy from the teacher-forced prefix, then
// replay the sampled tokens in a single training graph that recomputes
// the log-probabilities and value estimates with gradients. The actor
// term is -logp * advantage and the critic term is advantage squared;
// gradients of the advantage flow into both terms.
func (a *A2C) update(batch data.Batch, prefixLen int,
	mask []float64) (updateStats, error) {
	var stats updateStats

	if len(batch.Captions) == 0 {
		return stats, fmt.Errorf("update: empty minibatch")
	}
	steps := maxCaptionLength(batch.Captions) - prefixLen
	if steps < 1 {
		return stats, fmt.Errorf("update: nothing to generate from "+
			"prefix length %d", prefixLen)
	}

	nValid := len(batch.Captions)
	if mask != nil {
		nValid = 0
		for _, w := range mask {
			if w != 0 {
				nValid++
			}
		}
		if nValid == 0 {
			return stats, fmt.Errorf("update: no valid examples in minibatch")
		}
	}

	prefix := prefixRows(batch.Captions, prefixLen)
	traj, _, err := rollout(a.actorCritic, a.reward, batch.Features, prefix,
		steps, a.rng)
	if err != nil {
		return stats, fmt.Errorf("update: %v", err)
	}

	loss, err := a.applyUpdate(batch.Features, prefix, traj, mask, nValid)
	if err != nil {
		return stats, fmt.Errorf("update: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return stats, fmt.Errorf("update: non-finite loss %v", loss)
	}

	stats.loss = loss
	stats.meanReward = traj.MeanReward(mask)
	stats.meanAdvantage = traj.MeanAdvantage(mask)
	return stats, nil
}

// rollout generates steps tokens from the current policy, sampling
// each token from the actor's softmax distribution. Per step it
// records the critic's value estimate of the pre-extension prefix, the
// sampled token and its log-probability, and the reward of the
// extended caption.
func rollout(model stepModel, rew rewarder, features *tensor.Dense,
	prefix [][]int, steps int, rng *rand.Rand) (*Trajectory, [][]int, error) {
	traj := NewTrajectory(steps, len(prefix))

	for s := 0; s < steps; s++ {
		values, probs, err := model.StepValueProbs(features, prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("rollout: step %d: %v", s, err)
		}
		if hasNonFinite(values) {
			return nil, nil, fmt.Errorf("rollout: step %d: non-finite "+
				"value estimate", s)
		}

		actions := make([]int, len(prefix))
		logProbs := make([]float64, len(prefix))
		for i := range probs {
			if hasNonFinite(probs[i]) {
				return nil, nil, fmt.Errorf("rollout: step %d: non-finite "+
					"token distribution", s)
			}
			dist := distuv.NewCategorical(probs[i], rng)
			actions[i] = int(dist.Rand())
			logProbs[i] = math.Log(probs[i][actions[i]])
		}
		prefix = extendRows(prefix, actions)

		rewards, err := rew.Rewards(features, prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("rollout: step %d: %v", s, err)
		}
		if hasNonFinite(rewards) {
			return nil, nil, fmt.Errorf("rollout: step %d: non-finite "+
				"reward", s)
		}

		if err := traj.Record(values, logProbs, rewards, actions); err != nil {
			return nil, nil, fmt.Errorf("rollout: step %d: %v", s, err)
		}
	}

	return traj, prefix, nil
}

// applyUpdate builds the training graph for one recorded rollout,
// differentiates the combined loss, and applies one solver step. The
// scalar loss value is returned.
func (a *A2C) applyUpdate(features *tensor.Dense, prefix [][]int,
	traj *Trajectory, mask []float64, nValid int) (float64, error) {
	n := len(prefix)
	vocab := a.actorCritic.Policy.Vocab()

	g := G.NewGraph()
	ag := a.actorCritic.Open(g)
	featNode := network.Constant(g, "features", features)

	hPolicy, err := ag.Policy.InitialState(featNode)
	if err != nil {
		return 0, err
	}
	hValue, err := ag.Value.InitialState(featNode)
	if err != nil {
		return 0, err
	}
	for t := 0; t < len(prefix[0]); t++ {
		col := tokenColumn(prefix, t)
		if hPolicy, err = ag.Policy.Step(hPolicy, col); err != nil {
			return 0, err
		}
		if hValue, err = ag.Value.Step(hValue, col); err != nil {
			return 0, err
		}
	}

	var maskNode *G.Node
	if mask != nil {
		maskNode = network.ConstantVector(g, "mask", mask)
	}

	var actorSum, criticSum *G.Node
	for s := 0; s < traj.Len(); s++ {
		scores, err := ag.Policy.Scores(hPolicy)
		if err != nil {
			return 0, err
		}
		logProbs, err := network.LogSoftMax(scores)
		if err != nil {
			return 0, err
		}
		oneHot, err := network.OneHot(g, fmt.Sprintf("action%d", s),
			traj.Actions[s], vocab)
		if err != nil {
			return 0, err
		}
		pickedProd, err := G.HadamardProd(logProbs, oneHot)
		if err != nil {
			return 0, err
		}
		picked, err := G.Sum(pickedProd, 1)
		if err != nil {
			return 0, err
		}
		pickedCol, err := G.Reshape(picked, tensor.Shape{n, 1})
		if err != nil {
			return 0, err
		}

		estimate, err := ag.Value.Estimate(hValue)
		if err != nil {
			return 0, err
		}
		rewardNode := network.ConstantVector(g, fmt.Sprintf("reward%d", s),
			traj.Rewards[s])
		advantage, err := G.Sub(estimate, rewardNode)
		if err != nil {
			return 0, err
		}

		actorTerm, err := G.HadamardProd(pickedCol, advantage)
		if err != nil {
			return 0, err
		}
		criticTerm, err := G.Square(advantage)
		if err != nil {
			return 0, err
		}
		if maskNode != nil {
			if actorTerm, err = G.HadamardProd(actorTerm, maskNode); err != nil {
				return 0, err
			}
			if criticTerm, err = G.HadamardProd(criticTerm,
				maskNode); err != nil {
				return 0, err
			}
		}

		if actorSum, err = accumulate(actorSum, actorTerm); err != nil {
			return 0, err
		}
		if criticSum, err = accumulate(criticSum, criticTerm); err != nil {
			return 0, err
		}

		if hPolicy, err = ag.Policy.Step(hPolicy, traj.Actions[s]); err != nil {
			return 0, err
		}
		if hValue, err = ag.Value.Step(hValue, traj.Actions[s]); err != nil {
			return 0, err
		}
	}

	norm := 1.0 / float64(nValid*traj.Len())
	actorLoss, err := G.Mul(actorSum, G.NewConstant(norm))
	if err != nil {
		return 0, err
	}
	actorLoss, err = G.Neg(actorLoss)
	if err != nil {
		return 0, err
	}
	criticLoss, err := G.Mul(criticSum, G.NewConstant(0.5*norm))
	if err != nil {
		return 0, err
	}
	loss, err := G.Add(actorLoss, criticLoss)
	if err != nil {
		return 0, err
	}

	var lossVal G.Value
	G.Read(loss, &lossVal)

	if err := applyGradients(g, loss, ag.Learnables(), a.sol); err != nil {
		return 0, err
	}
	if err := ag.Sync(); err != nil {
		return 0, err
	}

	return network.ScalarData(lossVal)
}

// accumulate adds the scalar sum of term into a running scalar.
func accumulate(sum, term *G.Node) (*G.Node, error) {
	termSum, err := G.Sum(term)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return termSum, nil
	}
	return G.Add(sum, termSum)
}

// newSolver returns the configured solver override, defaulting to
// Adam when there is none.
func newSolver(override *solver.Solver, stepSize float64,
	batchSize int) (*solver.Solver, error) {
	if override != nil {
		return override, nil
	}
	return solver.NewDefaultAdam(stepSize, batchSize)
}

// applyGradients differentiates loss with respect to the learnables,
// runs the tape, and applies one solver step.
func applyGradients(g *G.ExprGraph, loss *G.Node, learnables G.Nodes,
	sol *solver.Solver) error {
	if _, err := G.Grad(loss, learnables...); err != nil {
		return fmt.Errorf("applygradients: could not differentiate "+
			"loss: %v", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return fmt.Errorf("applygradients: could not run graph: %v", err)
	}

	if err := sol.Step(G.NodesToValueGrads(learnables)); err != nil {
		return fmt.Errorf("applygradients: could not step solver: %v", err)
	}
	return nil
}

// tokenColumn extracts column t from a batch of token rows.
func tokenColumn(tokens [][]int, t int) []int {
	col := make([]int, len(tokens))
	for i, row := range tokens {
		col[i] = row[t]
	}
	return col
}

// prefixRows returns copies of the first n tokens of every row.
func prefixRows(captions [][]int, n int) [][]int {
	prefix := make([][]int, len(captions))
	for i, row := range captions {
		prefix[i] = make([]int, n)
		copy(prefix[i], row[:n])
	}
	return prefix
}

// extendRows returns copies of the rows with one token appended to
// each.
func extendRows(prefix [][]int, tokens []int) [][]int {
	extended := make([][]int, len(prefix))
	for i, row := range prefix {
		extended[i] = make([]int, len(row)+1)
		copy(extended[i], row)
		extended[i][len(row)] = tokens[i]
	}
	return extended
}

// maxCaptionLength returns the longest caption length in a batch.
func maxCaptionLength(captions [][]int) int {
	max := 0
	for _, caption := range captions {
		if length := data.CaptionLength(caption); length > max {
			max = length
		}
	}
	return max
}

// hasNonFinite reports whether any element is NaN or infinite.
func hasNonFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
