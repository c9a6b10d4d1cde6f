package trainer

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/deepcaptioning/caprl/checkpoint"
	"github.com/deepcaptioning/caprl/data"
	"github.com/deepcaptioning/caprl/decoder"
	"github.com/deepcaptioning/caprl/network"
	"github.com/deepcaptioning/caprl/solver"
	"github.com/deepcaptioning/caprl/tracker"
	"github.com/deepcaptioning/caprl/utils/progressbar"
)

// Default pretraining hyperparameters
const (
	RewardLearningRate = 1e-4
	RewardEpochs       = 50

	PolicyLearningRate = 1e-3
	PolicyEpochs       = 100

	ValueLearningRate = 1e-3
	ValueEpochs       = 50

	// Margin of the visual-semantic hinge loss
	Margin = 0.2
)

// PretrainConfig holds the hyperparameters of one pretraining phase.
type PretrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64

	// Solver overrides the default Adam solver when non-nil.
	Solver *solver.Solver
}

// DefaultRewardConfig returns the default reward pretraining
// configuration.
func DefaultRewardConfig() PretrainConfig {
	return PretrainConfig{
		Epochs:       RewardEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: RewardLearningRate,
	}
}

// DefaultPolicyConfig returns the default policy pretraining
// configuration.
func DefaultPolicyConfig() PretrainConfig {
	return PretrainConfig{
		Epochs:       PolicyEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: PolicyLearningRate,
	}
}

// DefaultValueConfig returns the default value pretraining
// configuration.
func DefaultValueConfig() PretrainConfig {
	return PretrainConfig{
		Epochs:       ValueEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: ValueLearningRate,
	}
}

// validate returns an error describing the first invalid field.
func (c PretrainConfig) validate() error {
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

// TrainReward pretrains the reward network with a bidirectional
// visual-semantic hinge loss over ground-truth pairs: in every
// minibatch the matching (image, caption) cosine similarities must
// beat every mismatched pair in both directions by the margin. The
// network is checkpointed whenever a minibatch improves on the best
// loss seen so far.
func TrainReward(reward *network.Reward, ds *data.Dataset,
	store *checkpoint.Store, track tracker.Tracker,
	config PretrainConfig) error {
	if err := config.validate(); err != nil {
		return fmt.Errorf("trainreward: %v", err)
	}
	sol, err := newSolver(config.Solver, config.LearningRate,
		config.BatchSize)
	if err != nil {
		return fmt.Errorf("trainreward: could not create solver: %v", err)
	}

	step := func(batch data.Batch, _ *rand.Rand) (float64, error) {
		g := G.NewGraph()
		rg := reward.Open(g)

		loss, err := vseLoss(g, rg, network.Constant(g, "features",
			batch.Features), batch.Captions)
		if err != nil {
			return 0, err
		}

		var lossVal G.Value
		G.Read(loss, &lossVal)
		if err := applyGradients(g, loss, rg.Learnables(), sol); err != nil {
			return 0, err
		}
		if err := rg.Sync(); err != nil {
			return 0, err
		}
		return network.ScalarData(lossVal)
	}

	err = pretrainLoop(ds, config, "pretrain/reward", store,
		checkpoint.RewardNetworkFile, reward, track, step)
	if err != nil {
		return fmt.Errorf("trainreward: %v", err)
	}
	return nil
}

// TrainPolicy pretrains the policy network with teacher forcing: at
// every caption position the cross-entropy of the next ground-truth
// token, averaged over the non-padding positions of the minibatch.
func TrainPolicy(policy *network.Policy, ds *data.Dataset,
	store *checkpoint.Store, track tracker.Tracker,
	config PretrainConfig) error {
	if err := config.validate(); err != nil {
		return fmt.Errorf("trainpolicy: %v", err)
	}
	sol, err := newSolver(config.Solver, config.LearningRate,
		config.BatchSize)
	if err != nil {
		return fmt.Errorf("trainpolicy: could not create solver: %v", err)
	}

	step := func(batch data.Batch, _ *rand.Rand) (float64, error) {
		g := G.NewGraph()
		pg := policy.Open(g)

		loss, err := crossEntropyLoss(g, pg, policy.Vocab(),
			network.Constant(g, "features", batch.Features), batch.Captions)
		if err != nil {
			return 0, err
		}

		var lossVal G.Value
		G.Read(loss, &lossVal)
		if err := applyGradients(g, loss, pg.Learnables(), sol); err != nil {
			return 0, err
		}
		if err := pg.Sync(); err != nil {
			return 0, err
		}
		return network.ScalarData(lossVal)
	}

	err = pretrainLoop(ds, config, "pretrain/policy", store,
		checkpoint.PolicyNetworkFile, policy, track, step)
	if err != nil {
		return fmt.Errorf("trainpolicy: %v", err)
	}
	return nil
}

// TrainValue pretrains the value network to regress the reward of
// captions the pretrained policy itself generates: every minibatch is
// captioned greedily, scored by the frozen reward network, and the
// value network estimates that score from a randomly truncated prefix
// of the generated caption. Both collaborators stay frozen.
func TrainValue(value *network.Value, policy *network.Policy,
	reward *network.Reward, ds *data.Dataset, store *checkpoint.Store,
	track tracker.Tracker, config PretrainConfig) error {
	if err := config.validate(); err != nil {
		return fmt.Errorf("trainvalue: %v", err)
	}
	sol, err := newSolver(config.Solver, config.LearningRate,
		config.BatchSize)
	if err != nil {
		return fmt.Errorf("trainvalue: could not create solver: %v", err)
	}

	step := func(batch data.Batch, rng *rand.Rand) (float64, error) {
		n := len(batch.Captions)
		starts := make([]int, n)
		for i := range starts {
			starts[i] = data.StartToken
		}

		generated, err := decoder.Greedy(policy, batch.Features, starts,
			MaxSeqLen)
		if err != nil {
			return 0, err
		}
		rewards, err := reward.Rewards(batch.Features, generated)
		if err != nil {
			return 0, err
		}
		if hasNonFinite(rewards) {
			return 0, fmt.Errorf("non-finite reward")
		}

		prefix := prefixRows(generated, truncationLength(rng))

		g := G.NewGraph()
		vg := value.Open(g)
		featNode := network.Constant(g, "features", batch.Features)

		h, err := vg.InitialState(featNode)
		if err != nil {
			return 0, err
		}
		for t := 0; t < len(prefix[0]); t++ {
			if h, err = vg.Step(h, tokenColumn(prefix, t)); err != nil {
				return 0, err
			}
		}
		estimate, err := vg.Estimate(h)
		if err != nil {
			return 0, err
		}

		diff, err := G.Sub(estimate, network.ConstantVector(g, "target",
			rewards))
		if err != nil {
			return 0, err
		}
		squared, err := G.Square(diff)
		if err != nil {
			return 0, err
		}
		sum, err := G.Sum(squared)
		if err != nil {
			return 0, err
		}
		loss, err := G.Mul(sum, G.NewConstant(1.0/float64(n)))
		if err != nil {
			return 0, err
		}

		var lossVal G.Value
		G.Read(loss, &lossVal)
		if err := applyGradients(g, loss, vg.Learnables(), sol); err != nil {
			return 0, err
		}
		if err := vg.Sync(); err != nil {
			return 0, err
		}
		return network.ScalarData(lossVal)
	}

	err = pretrainLoop(ds, config, "pretrain/value", store,
		checkpoint.ValueNetworkFile, value, track, step)
	if err != nil {
		return fmt.Errorf("trainvalue: %v", err)
	}
	return nil
}

// pretrainLoop runs one pretraining phase: shuffled epochs over the
// training split, one solver step per minibatch, and a best-loss gated
// checkpoint of obj after every improving minibatch.
func pretrainLoop(ds *data.Dataset, config PretrainConfig, series string,
	store *checkpoint.Store, file string, obj checkpoint.Serializable,
	track tracker.Tracker,
	step func(data.Batch, *rand.Rand) (float64, error)) error {
	if track == nil {
		track = tracker.Discard{}
	}
	rng := rand.New(rand.NewSource(config.Seed))
	best := math.Inf(1)

	for epoch := 0; epoch < config.Epochs; epoch++ {
		batches, err := ds.Minibatches(data.TrainSplit, config.BatchSize, rng)
		if err != nil {
			return err
		}

		bar := progressbar.New(barWidth, len(batches),
			fmt.Sprintf("%v epoch %d", series, epoch))
		for b, batch := range batches {
			loss, err := step(batch, rng)
			if err != nil {
				bar.Close()
				return fmt.Errorf("epoch %d minibatch %d: %v", epoch, b, err)
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				bar.Close()
				return fmt.Errorf("epoch %d minibatch %d: non-finite loss %v",
					epoch, b, loss)
			}

			track.Track(series+"/loss", loss,
				tracker.GlobalStep(epoch, b, len(batches)))

			if loss < best {
				best = loss
				if err := store.Save(file, obj); err != nil {
					bar.Close()
					return fmt.Errorf("could not checkpoint network: %v", err)
				}
			}

			bar.Describe(fmt.Sprintf("%v epoch %d best loss %.4f", series,
				epoch, best))
			bar.Increment()
		}
		bar.Close()
	}

	return nil
}

// truncationLength samples a uniformly random prefix length in
// [1, MaxSeqLen]. The upper bound is inclusive: the value network must
// also learn to estimate full-length captions, which beam decoding
// queries at its final step.
func truncationLength(rng *rand.Rand) int {
	return 1 + rng.Intn(MaxSeqLen)
}

// vseLoss builds the bidirectional visual-semantic hinge loss of a
// minibatch of ground-truth (image, caption) pairs. With s the matrix
// of cosine similarities between every image projection and every
// caption projection, the loss is
//
//	sum_ij max(0, margin - s_ii + s_ij) + max(0, margin - s_jj + s_ij)
//
// over the mismatched pairs, divided by the minibatch size.
func vseLoss(g *G.ExprGraph, rg *network.RewardGraph, features *G.Node,
	captions [][]int) (*G.Node, error) {
	n := len(captions)

	visual, semantic, err := rg.Project(features, captions)
	if err != nil {
		return nil, err
	}
	if visual, err = network.L2Normalize(visual); err != nil {
		return nil, err
	}
	if semantic, err = network.L2Normalize(semantic); err != nil {
		return nil, err
	}

	semanticT, err := G.Transpose(semantic, 1, 0)
	if err != nil {
		return nil, err
	}
	scores, err := G.Mul(visual, semanticT)
	if err != nil {
		return nil, err
	}

	eye := identityConstant(g, "eye", n)
	diagProd, err := G.HadamardProd(scores, eye)
	if err != nil {
		return nil, err
	}
	diag, err := G.Sum(diagProd, 1)
	if err != nil {
		return nil, err
	}
	diagCol, err := G.Reshape(diag, tensor.Shape{n, 1})
	if err != nil {
		return nil, err
	}
	diagRow, err := G.Reshape(diag, tensor.Shape{1, n})
	if err != nil {
		return nil, err
	}

	// Zero margin on the diagonal so matching pairs cost nothing.
	margin := marginConstant(g, "margin", n, Margin)

	captionSide, err := hingeCost(scores, diagCol, margin, []byte{1})
	if err != nil {
		return nil, err
	}
	imageSide, err := hingeCost(scores, diagRow, margin, []byte{0})
	if err != nil {
		return nil, err
	}

	total, err := G.Add(captionSide, imageSide)
	if err != nil {
		return nil, err
	}
	return G.Mul(total, G.NewConstant(1.0/float64(n)))
}

// hingeCost sums max(0, scores - diag + margin) with diag broadcast
// along the given axis.
func hingeCost(scores, diag, margin *G.Node, axis []byte) (*G.Node, error) {
	violation, err := G.BroadcastSub(scores, diag, nil, axis)
	if err != nil {
		return nil, err
	}
	if violation, err = G.Add(violation, margin); err != nil {
		return nil, err
	}
	if violation, err = G.Rectify(violation); err != nil {
		return nil, err
	}
	return G.Sum(violation)
}

// crossEntropyLoss builds the teacher-forced next-token cross-entropy
// of a minibatch, averaged over the positions that fall inside each
// caption.
func crossEntropyLoss(g *G.ExprGraph, pg *network.PolicyGraph, vocab int,
	features *G.Node, captions [][]int) (*G.Node, error) {
	n := len(captions)
	lengths := make([]int, n)
	for i, caption := range captions {
		lengths[i] = data.CaptionLength(caption)
	}

	h, err := pg.InitialState(features)
	if err != nil {
		return nil, err
	}

	var total *G.Node
	validCount := 0
	for t := 0; t < maxCaptionLength(captions)-1; t++ {
		if h, err = pg.Step(h, tokenColumn(captions, t)); err != nil {
			return nil, err
		}
		scores, err := pg.Scores(h)
		if err != nil {
			return nil, err
		}
		logProbs, err := network.LogSoftMax(scores)
		if err != nil {
			return nil, err
		}

		oneHot, err := network.OneHot(g, fmt.Sprintf("target%d", t),
			tokenColumn(captions, t+1), vocab)
		if err != nil {
			return nil, err
		}
		pickedProd, err := G.HadamardProd(logProbs, oneHot)
		if err != nil {
			return nil, err
		}
		picked, err := G.Sum(pickedProd, 1)
		if err != nil {
			return nil, err
		}
		pickedCol, err := G.Reshape(picked, tensor.Shape{n, 1})
		if err != nil {
			return nil, err
		}

		mask := make([]float64, n)
		for i, length := range lengths {
			if t+1 < length {
				mask[i] = 1
				validCount++
			}
		}
		masked, err := G.HadamardProd(pickedCol,
			network.ConstantVector(g, fmt.Sprintf("targetmask%d", t), mask))
		if err != nil {
			return nil, err
		}

		if total, err = accumulate(total, masked); err != nil {
			return nil, err
		}
	}

	if validCount == 0 {
		return nil, fmt.Errorf("crossentropyloss: no caption positions to " +
			"train on")
	}

	loss, err := G.Mul(total, G.NewConstant(1.0/float64(validCount)))
	if err != nil {
		return nil, err
	}
	return G.Neg(loss)
}

// identityConstant materializes an n x n identity matrix into g.
func identityConstant(g *G.ExprGraph, name string, n int) *G.Node {
	backing := make([]float64, n*n)
	for i := 0; i < n; i++ {
		backing[i*n+i] = 1
	}
	return network.Constant(g, name, tensor.New(
		tensor.WithShape(n, n),
		tensor.WithBacking(backing),
	))
}

// marginConstant materializes an n x n matrix holding margin
// everywhere except a zero diagonal into g.
func marginConstant(g *G.ExprGraph, name string, n int,
	margin float64) *G.Node {
	backing := make([]float64, n*n)
	for i := range backing {
		backing[i] = margin
	}
	for i := 0; i < n; i++ {
		backing[i*n+i] = 0
	}
	return network.Constant(g, name, tensor.New(
		tensor.WithShape(n, n),
		tensor.WithBacking(backing),
	))
}
