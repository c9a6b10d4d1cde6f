// Package checkpoint persists and restores network parameter state.
// Whether a checkpoint exists is an explicit lookup result rather
// than an error: callers dispatch on the found flag to decide between
// loading a pretrained network and training one from scratch.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint filenames of the individually pretrained sub-networks.
const (
	RewardNetworkFile = "rewardNetwork.bin"
	PolicyNetworkFile = "policyNetwork.bin"
	ValueNetworkFile  = "valueNetwork.bin"
)

// ActorCriticFile returns the joint actor-critic checkpoint filename,
// derived deterministically from whether curriculum training is in
// use.
func ActorCriticFile(curriculum bool) string {
	if curriculum {
		return "a2cNetwork_curriculum.bin"
	}
	return "a2cNetwork.bin"
}

// Serializable is an object that can be saved/restored
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Store saves and restores Serializable objects in a directory, one
// file per object.
type Store struct {
	dir string
}

// NewStore returns a checkpoint store rooted at dir, creating the
// directory when needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newstore: could not create checkpoint "+
			"directory: %v", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the full path of a named checkpoint.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Lookup reports whether a named checkpoint exists and, when it does,
// decodes it into obj. A missing checkpoint is not an error.
func (s *Store) Lookup(name string, obj Serializable) (bool, error) {
	path := s.Path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("lookup: could not stat %v: %v", path, err)
	}

	encoded, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("lookup: could not read %v: %v", path, err)
	}
	if err := obj.GobDecode(encoded); err != nil {
		return false, fmt.Errorf("lookup: could not decode %v: %v", path, err)
	}

	return true, nil
}

// Save persists obj under the given name. The object is written to a
// temporary file first and renamed into place, so a crash between
// epochs leaves the previous checkpoint intact.
func (s *Store) Save(name string, obj Serializable) error {
	encoded, err := obj.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode %v: %v", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("save: could not create temporary file: %v", err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save: could not write %v: %v", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save: could not close %v: %v", name, err)
	}

	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save: could not replace %v: %v", name, err)
	}
	return nil
}
