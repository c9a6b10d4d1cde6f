// Package data provides the captioning dataset consumed by training:
// minibatches of token-encoded captions, image feature vectors, and
// source image URLs, together with the vocabulary mappings needed to
// move between words and token indices.
package data

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Reserved vocabulary indices. Captions are stored as
// [StartToken, w1, ..., wn, EndToken, PadToken...] and the caption
// length is the position of the first EndToken plus one.
const (
	PadToken   int = 0
	StartToken int = 1
	EndToken   int = 2
	UnkToken   int = 3
)

// Data splits
const (
	TrainSplit = "train"
	ValSplit   = "val"
)

// Vocab maps between words and token indices.
type Vocab struct {
	WordToIdx map[string]int
	IdxToWord []string
}

// Size returns the number of tokens in the vocabulary.
func (v Vocab) Size() int {
	return len(v.IdxToWord)
}

// Encode encodes a tokenized caption into a fixed-length sequence of
// token indices: a start token, the word indices, an end token, then
// padding up to maxLen. Words longer than maxLen-2 are truncated so
// the end token always fits. Out-of-vocabulary words map to UnkToken.
func (v Vocab) Encode(words []string, maxLen int) []int {
	if len(words) > maxLen-2 {
		words = words[:maxLen-2]
	}

	encoded := make([]int, maxLen)
	encoded[0] = StartToken
	for i, word := range words {
		idx, ok := v.WordToIdx[word]
		if !ok {
			idx = UnkToken
		}
		encoded[i+1] = idx
	}
	encoded[len(words)+1] = EndToken
	for i := len(words) + 2; i < maxLen; i++ {
		encoded[i] = PadToken
	}
	return encoded
}

// Decode converts a sequence of token indices back into words,
// stopping at the first end-of-sequence token. Start and padding
// tokens are skipped.
func (v Vocab) Decode(tokens []int) []string {
	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == EndToken {
			break
		}
		if t == StartToken || t == PadToken {
			continue
		}
		if t >= 0 && t < len(v.IdxToWord) {
			words = append(words, v.IdxToWord[t])
		}
	}
	return words
}

// DecodeCaptions converts a batch of token-id sequences into
// human-readable strings.
func (v Vocab) DecodeCaptions(captions [][]int) []string {
	decoded := make([]string, len(captions))
	for i, caption := range captions {
		decoded[i] = strings.Join(v.Decode(caption), " ")
	}
	return decoded
}

// CaptionLength returns the length of an encoded caption: the index
// of the first end-of-sequence token plus one. A caption with no end
// token has length equal to its full extent.
func CaptionLength(tokens []int) int {
	for i, t := range tokens {
		if t == EndToken {
			return i + 1
		}
	}
	return len(tokens)
}

// Batch is one minibatch of aligned captions, image features, and
// image URLs. Row i of each field refers to the same example.
type Batch struct {
	Captions [][]int
	Features *tensor.Dense // batch x featureDim
	URLs     []string
}

// Dataset holds the full captioning dataset for both splits, the
// vocabulary, and an optional pretrained word-embedding matrix.
type Dataset struct {
	Vocab Vocab

	TrainCaptions [][]int
	TrainFeatures [][]float64
	TrainURLs     []string

	ValCaptions [][]int
	ValFeatures [][]float64
	ValURLs     []string

	// Embeddings is an optional pretrained vocabSize x embedDim
	// word-embedding matrix. Nil when no pretrained embeddings were
	// loaded.
	Embeddings *tensor.Dense
}

// FeatureDim returns the dimensionality of a single image feature
// vector.
func (d *Dataset) FeatureDim() int {
	if len(d.TrainFeatures) > 0 {
		return len(d.TrainFeatures[0])
	}
	if len(d.ValFeatures) > 0 {
		return len(d.ValFeatures[0])
	}
	return 0
}

// split returns the captions, features, and urls of a named split.
func (d *Dataset) split(split string) ([][]int, [][]float64, []string, error) {
	switch split {
	case TrainSplit:
		return d.TrainCaptions, d.TrainFeatures, d.TrainURLs, nil
	case ValSplit:
		return d.ValCaptions, d.ValFeatures, d.ValURLs, nil
	}
	return nil, nil, nil, fmt.Errorf("split: no such split %q", split)
}

// Len returns the number of examples in a named split.
func (d *Dataset) Len(split string) int {
	captions, _, _, err := d.split(split)
	if err != nil {
		return 0
	}
	return len(captions)
}

// Minibatches partitions a named split into minibatches of at most
// batchSize examples. When rng is non-nil the example order is
// shuffled first; evaluation passes a nil rng to keep the original
// example order so that output artifacts stay line-aligned.
func (d *Dataset) Minibatches(split string, batchSize int,
	rng *rand.Rand) ([]Batch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("minibatches: invalid batch size %d", batchSize)
	}

	captions, features, urls, err := d.split(split)
	if err != nil {
		return nil, fmt.Errorf("minibatches: %v", err)
	}

	indices := make([]int, len(captions))
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	batches := make([]Batch, 0, (len(indices)+batchSize-1)/batchSize)
	for start := 0; start < len(indices); start += batchSize {
		end := start + batchSize
		if end > len(indices) {
			end = len(indices)
		}
		chosen := indices[start:end]

		batch := Batch{
			Captions: make([][]int, len(chosen)),
			URLs:     make([]string, len(chosen)),
		}
		featureDim := d.FeatureDim()
		backing := make([]float64, len(chosen)*featureDim)
		for i, idx := range chosen {
			batch.Captions[i] = captions[idx]
			batch.URLs[i] = urls[idx]
			copy(backing[i*featureDim:(i+1)*featureDim], features[idx])
		}
		batch.Features = tensor.New(
			tensor.WithShape(len(chosen), featureDim),
			tensor.WithBacking(backing),
		)
		batches = append(batches, batch)
	}

	return batches, nil
}
