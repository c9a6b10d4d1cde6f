package checkpoint

import (
	"bytes"
	"testing"
)

// blob is a minimal Serializable for exercising the store.
type blob struct {
	data []byte
}

func (b *blob) GobEncode() ([]byte, error) {
	return b.data, nil
}

func (b *blob) GobDecode(in []byte) error {
	b.data = append([]byte(nil), in...)
	return nil
}

func TestLookupMissingCheckpoint(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	found, err := store.Lookup("missing.bin", &blob{})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected a missing checkpoint to report found=false")
	}
}

func TestSaveLookupRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	saved := &blob{data: []byte("network state")}
	if err := store.Save("net.bin", saved); err != nil {
		t.Fatal(err)
	}

	restored := &blob{}
	found, err := store.Lookup("net.bin", restored)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected the checkpoint to be found")
	}
	if !bytes.Equal(restored.data, saved.data) {
		t.Errorf("unexpected checkpoint contents\n\twant(%q)\n\thave(%q)",
			saved.data, restored.data)
	}
}

func TestSaveReplacesCheckpoint(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save("net.bin", &blob{data: []byte("old")}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("net.bin", &blob{data: []byte("new")}); err != nil {
		t.Fatal(err)
	}

	restored := &blob{}
	if _, err := store.Lookup("net.bin", restored); err != nil {
		t.Fatal(err)
	}
	if string(restored.data) != "new" {
		t.Errorf("expected the replaced checkpoint, got %q", restored.data)
	}
}

func TestActorCriticFile(t *testing.T) {
	if name := ActorCriticFile(false); name != "a2cNetwork.bin" {
		t.Errorf("unexpected filename %q", name)
	}
	if name := ActorCriticFile(true); name != "a2cNetwork_curriculum.bin" {
		t.Errorf("unexpected filename %q", name)
	}
}
