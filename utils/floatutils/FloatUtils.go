// Package floatutils provides utilities for working with floats
package floatutils

import "sort"

// ArgMax returns the index of the maximum value in values. Ties are
// broken in favour of the lowest index.
func ArgMax(values []float64) int {
	argmax := 0
	for i, value := range values {
		if value > values[argmax] {
			argmax = i
		}
	}
	return argmax
}

// TopK returns the indices of the k largest values in values, ordered
// from largest to smallest. Ties are broken in favour of the lowest
// index. If k exceeds len(values), all indices are returned.
func TopK(values []float64, k int) []int {
	if k > len(values) {
		k = len(values)
	}
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return values[indices[i]] > values[indices[j]]
	})
	return indices[:k]
}

// Mean calculates and returns the mean of a list of float64
func Mean(floats ...float64) float64 {
	sum := 0.0
	for _, val := range floats {
		sum += val
	}
	return sum / float64(len(floats))
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}
