package trainer

import "fmt"

// Trajectory records one policy rollout over a minibatch: for every
// generated step, the critic's value estimates, the log-probabilities
// of the sampled tokens, the sampled tokens themselves, and the
// rewards of the partial captions they produce. All per-step slices
// are batch-sized and row-aligned with the minibatch.
type Trajectory struct {
	steps int
	batch int

	Actions  [][]int
	Values   [][]float64
	LogProbs [][]float64
	Rewards  [][]float64
}

// NewTrajectory returns an empty trajectory that can record steps
// rollout steps over a minibatch of the given size.
func NewTrajectory(steps, batch int) *Trajectory {
	return &Trajectory{
		steps:    steps,
		batch:    batch,
		Actions:  make([][]int, 0, steps),
		Values:   make([][]float64, 0, steps),
		LogProbs: make([][]float64, 0, steps),
		Rewards:  make([][]float64, 0, steps),
	}
}

// Record appends one rollout step. Every slice must have one entry
// per minibatch example.
func (tr *Trajectory) Record(values, logProbs, rewards []float64,
	actions []int) error {
	if tr.Len() >= tr.steps {
		return fmt.Errorf("record: trajectory already holds %d steps",
			tr.steps)
	}
	for _, length := range []int{len(values), len(logProbs), len(rewards),
		len(actions)} {
		if length != tr.batch {
			return fmt.Errorf("record: step size mismatch\n\twant(%d)"+
				"\n\thave(%d)", tr.batch, length)
		}
	}

	tr.Values = append(tr.Values, values)
	tr.LogProbs = append(tr.LogProbs, logProbs)
	tr.Rewards = append(tr.Rewards, rewards)
	tr.Actions = append(tr.Actions, actions)
	return nil
}

// Len returns the number of recorded steps.
func (tr *Trajectory) Len() int { return len(tr.Actions) }

// Batch returns the minibatch size the trajectory was recorded over.
func (tr *Trajectory) Batch() int { return tr.batch }

// Advantages returns the per-step, per-example advantage: the critic's
// value estimate minus the reward of the extended caption.
func (tr *Trajectory) Advantages() [][]float64 {
	advantages := make([][]float64, tr.Len())
	for s := range advantages {
		advantages[s] = make([]float64, tr.batch)
		for i := range advantages[s] {
			advantages[s][i] = tr.Values[s][i] - tr.Rewards[s][i]
		}
	}
	return advantages
}

// MeanReward returns the reward averaged over all recorded steps and
// examples. A non-nil mask restricts the average to examples with
// weight 1.
func (tr *Trajectory) MeanReward(mask []float64) float64 {
	return maskedMean(tr.Rewards, mask)
}

// MeanAdvantage returns the advantage averaged over all recorded
// steps and examples. A non-nil mask restricts the average to examples
// with weight 1.
func (tr *Trajectory) MeanAdvantage(mask []float64) float64 {
	return maskedMean(tr.Advantages(), mask)
}

// maskedMean averages a (steps x batch) table over the examples the
// mask keeps. A nil mask keeps every example.
func maskedMean(table [][]float64, mask []float64) float64 {
	sum := 0.0
	count := 0.0
	for _, row := range table {
		for i, x := range row {
			if mask != nil && mask[i] == 0 {
				continue
			}
			sum += x
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count
}
