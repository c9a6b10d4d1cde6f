package trainer

import (
	"fmt"
	"math"
	"sort"

	"github.com/deepcaptioning/caprl/checkpoint"
	"github.com/deepcaptioning/caprl/data"
)

// DefaultLevels is the default curriculum: the number of tokens the
// policy generates on its own, with the rest of the caption teacher
// forced. Training always finishes with a level covering the whole
// caption.
var DefaultLevels = []int{3, 6, 9, 12, 15}

// TrainCurriculum fine-tunes the actor-critic network over a
// curriculum of increasing generation lengths. At level L every
// minibatch is teacher forced up to its longest caption length minus
// L, then rolls out L tokens. Minibatches whose longest caption is not
// longer than L are skipped entirely; within a minibatch, examples
// whose own caption is not longer than L are masked out of the loss.
// Each level runs for the configured number of epochs with the joint
// network checkpointed after every epoch.
func (a *A2C) TrainCurriculum(ds *data.Dataset, levels []int) error {
	levels, err := normalizeLevels(levels, MaxSeqLen-1)
	if err != nil {
		return fmt.Errorf("traincurriculum: %v", err)
	}

	file := checkpoint.ActorCriticFile(true)
	for _, level := range levels {
		a.logger.Printf("curriculum level %d", level)

		best := math.Inf(1)
		for epoch := 0; epoch < a.config.Epochs; epoch++ {
			series := fmt.Sprintf("a2c/level%02d", level)
			loss, err := a.runEpoch(ds, epoch, curriculumPlan(level), series,
				file)
			if err != nil {
				return fmt.Errorf("traincurriculum: level %d epoch %d: %v",
					level, epoch, err)
			}
			if loss < best {
				best = loss
			}
		}
		a.logger.Printf("curriculum level %d best mean loss %f", level, best)
	}

	return nil
}

// normalizeLevels sorts the curriculum levels, validates them against
// the longest possible generation length, and appends the final level
// when absent.
func normalizeLevels(levels []int, final int) ([]int, error) {
	sorted := make([]int, len(levels))
	copy(sorted, levels)
	sort.Ints(sorted)

	for i, level := range sorted {
		if level < 1 || level > final {
			return nil, fmt.Errorf("invalid curriculum level %d, expected "+
				"a level in [1, %d]", level, final)
		}
		if i > 0 && level == sorted[i-1] {
			return nil, fmt.Errorf("duplicate curriculum level %d", level)
		}
	}

	if len(sorted) == 0 || sorted[len(sorted)-1] != final {
		sorted = append(sorted, final)
	}
	return sorted, nil
}

// curriculumPlan returns the batch plan of one curriculum level.
func curriculumPlan(level int) batchPlan {
	return func(captions [][]int) (int, []float64, bool) {
		if len(captions) == 0 {
			return 0, nil, false
		}

		prefixLen := maxCaptionLength(captions) - level
		if prefixLen < 1 {
			return 0, nil, false
		}

		mask := make([]float64, len(captions))
		valid := 0
		for i, caption := range captions {
			if data.CaptionLength(caption)-level >= 1 {
				mask[i] = 1
				valid++
			}
		}
		if valid == 0 {
			return 0, nil, false
		}

		return prefixLen, mask, true
	}
}
