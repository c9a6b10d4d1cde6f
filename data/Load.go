package data

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// Filenames of the gob-encoded dataset files inside a dataset
// directory. The embeddings file is optional.
const (
	TrainCaptionsFile = "train_captions.bin"
	TrainFeaturesFile = "train_features.bin"
	TrainURLsFile     = "train_urls.bin"
	ValCaptionsFile   = "val_captions.bin"
	ValFeaturesFile   = "val_features.bin"
	ValURLsFile       = "val_urls.bin"
	VocabFile         = "vocab.bin"
	EmbeddingsFile    = "embeddings.bin"
)

// Load reads a dataset directory. The per-split files are independent
// of each other, so they are decoded concurrently.
func Load(dir string) (*Dataset, error) {
	d := &Dataset{}

	var group errgroup.Group
	group.Go(func() error { return decodeFile(dir, TrainCaptionsFile, &d.TrainCaptions) })
	group.Go(func() error { return decodeFile(dir, TrainFeaturesFile, &d.TrainFeatures) })
	group.Go(func() error { return decodeFile(dir, TrainURLsFile, &d.TrainURLs) })
	group.Go(func() error { return decodeFile(dir, ValCaptionsFile, &d.ValCaptions) })
	group.Go(func() error { return decodeFile(dir, ValFeaturesFile, &d.ValFeatures) })
	group.Go(func() error { return decodeFile(dir, ValURLsFile, &d.ValURLs) })
	group.Go(func() error { return decodeFile(dir, VocabFile, &d.Vocab) })
	group.Go(func() error {
		embeddings := tensor.New(tensor.Of(tensor.Float64))
		err := decodeFile(dir, EmbeddingsFile, embeddings)
		if os.IsNotExist(err) {
			return nil // pretrained embeddings are optional
		}
		if err != nil {
			return err
		}
		d.Embeddings = embeddings
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}

	if len(d.TrainCaptions) != len(d.TrainFeatures) ||
		len(d.TrainCaptions) != len(d.TrainURLs) {
		return nil, fmt.Errorf("load: misaligned train split: %d captions, "+
			"%d features, %d urls", len(d.TrainCaptions),
			len(d.TrainFeatures), len(d.TrainURLs))
	}
	if len(d.ValCaptions) != len(d.ValFeatures) ||
		len(d.ValCaptions) != len(d.ValURLs) {
		return nil, fmt.Errorf("load: misaligned val split: %d captions, "+
			"%d features, %d urls", len(d.ValCaptions),
			len(d.ValFeatures), len(d.ValURLs))
	}

	return d, nil
}

// decodeFile gob-decodes a single dataset file into out.
func decodeFile(dir, name string, out interface{}) error {
	file, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(out); err != nil {
		return fmt.Errorf("decodeFile: could not decode %v: %v", name, err)
	}
	return nil
}
