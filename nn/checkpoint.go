package nn

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// checkpointVersion guards the on-disk checkpoint layout. Bump when the
// encoded structure changes.
const checkpointVersion = 1

// SavedTensor is one named parameter or buffer inside a checkpoint.
type SavedTensor struct {
	Name      string
	Shape     []int
	Data      []float32
	Trainable bool
}

// checkpointFormat is the on-disk representation of a model snapshot. It
// includes metadata to validate integrity and support upgrades.
type checkpointFormat struct {
	Version   int
	CreatedAt int64
	Step      int
	Tensors   []SavedTensor
}

// SaveCheckpoint writes all params and buffers to path using encoding/gob.
// It performs an atomic write (create temp file then rename). Step is stored
// alongside so resumed runs know where they left off.
func SaveCheckpoint(path string, params []*Param, step int) error {
	if path == "" {
		return fmt.Errorf("empty checkpoint path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	ck := checkpointFormat{
		Version:   checkpointVersion,
		CreatedAt: time.Now().Unix(),
		Step:      step,
		Tensors:   make([]SavedTensor, 0, len(params)),
	}
	for _, p := range params {
		ck.Tensors = append(ck.Tensors, SavedTensor{
			Name:      p.Name,
			Shape:     p.Shape,
			Data:      p.Data,
			Trainable: p.Trainable,
		})
	}

	enc := gob.NewEncoder(tmpFile)
	if err := enc.Encode(&ck); err != nil {
		return fmt.Errorf("encode checkpoint to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		log.Printf("warning: sync temp checkpoint file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp checkpoint to target: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint and copies every tensor into the
// matching param by name. Every param must be present with an identical
// shape; use LoadMatching for partial restores.
func LoadCheckpoint(path string, params []*Param) (step int, err error) {
	ck, err := readCheckpoint(path)
	if err != nil {
		return 0, err
	}
	byName := make(map[string]*SavedTensor, len(ck.Tensors))
	for i := range ck.Tensors {
		byName[ck.Tensors[i].Name] = &ck.Tensors[i]
	}
	for _, p := range params {
		st, ok := byName[p.Name]
		if !ok {
			return 0, fmt.Errorf("checkpoint %s: missing tensor %s", path, p.Name)
		}
		if !shapesEqual(st.Shape, p.Shape) {
			return 0, fmt.Errorf("checkpoint %s: tensor %s has shape %v, want %v", path, p.Name, st.Shape, p.Shape)
		}
		copy(p.Data, st.Data)
	}
	return ck.Step, nil
}

// LoadMatching copies tensors whose name and shape both match, skipping the
// rest. This is how a backbone trained with a different input stem or output
// head is adopted: the reshaped layers keep their fresh initialization while
// everything else restores. Returns the number of tensors loaded and skipped.
func LoadMatching(path string, params []*Param) (loaded, skipped int, err error) {
	ck, err := readCheckpoint(path)
	if err != nil {
		return 0, 0, err
	}
	byName := make(map[string]*SavedTensor, len(ck.Tensors))
	for i := range ck.Tensors {
		byName[ck.Tensors[i].Name] = &ck.Tensors[i]
	}
	for _, p := range params {
		st, ok := byName[p.Name]
		if !ok || !shapesEqual(st.Shape, p.Shape) {
			skipped++
			continue
		}
		copy(p.Data, st.Data)
		loaded++
	}
	return loaded, skipped, nil
}

func readCheckpoint(path string) (*checkpointFormat, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer fh.Close()
	dec := gob.NewDecoder(fh)
	var ck checkpointFormat
	if err := dec.Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if ck.Version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint version mismatch: file=%d expected=%d", ck.Version, checkpointVersion)
	}
	return &ck, nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
