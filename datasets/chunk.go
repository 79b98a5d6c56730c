// Package datasets loads pre-rasterized agent samples from chunked gob
// archives and presents them as batches suitable for model training. Chunks
// are decoded on demand and held in a small TTL cache, so datasets much
// larger than memory can be iterated.
package datasets

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// chunkVersion is the on-disk chunk format version. Bump when the encoded
// structure changes.
const chunkVersion = 1

// Meta describes the raster geometry and horizon lengths shared by every
// sample in a chunk. All chunks of a dataset must agree on it.
type Meta struct {
	Channels int
	Height   int
	Width    int

	HistoryFrames int
	FutureFrames  int

	// PixelSize is the raster resolution in meters per pixel (x, y).
	PixelSize [2]float64
	// EgoCenter is the agent anchor inside the raster as a fraction of the
	// image size (x, y).
	EgoCenter [2]float64
}

// RasterLen returns the flat length of one raster image.
func (m Meta) RasterLen() int { return m.Channels * m.Height * m.Width }

// TargetLen returns the flat length of one target position vector.
func (m Meta) TargetLen() int { return 2 * m.FutureFrames }

func (m Meta) equal(o Meta) bool {
	return m.Channels == o.Channels && m.Height == o.Height && m.Width == o.Width &&
		m.HistoryFrames == o.HistoryFrames && m.FutureFrames == o.FutureFrames &&
		m.PixelSize == o.PixelSize && m.EgoCenter == o.EgoCenter
}

// Sample is one training example: a bird's-eye raster around an agent plus
// its future positions in the agent frame.
type Sample struct {
	TrackID   int64
	Timestamp int64

	// Raster is the CHW image: one channel per history frame for the agent,
	// one per history frame for everything else, then three map channels.
	Raster []float32

	// TargetPositions holds FutureFrames xy offsets in meters, flattened.
	TargetPositions []float32
	// TargetAvailabilities is 1 where the corresponding future frame was
	// observed, 0 where it is padding.
	TargetAvailabilities []float32

	// HistoryPositions holds HistoryFrames+1 xy offsets (current frame
	// first, then going back in time), kept for rendering.
	HistoryPositions      []float32
	HistoryAvailabilities []float32

	// Centroid and Yaw place the agent frame in world coordinates.
	Centroid [2]float64
	Yaw      float64
}

// Chunk is a decoded archive: shared geometry plus its samples.
type Chunk struct {
	Name    string
	Meta    Meta
	Samples []Sample
}

// chunkFormat is the on-disk representation. It includes metadata to
// validate integrity and support upgrades.
type chunkFormat struct {
	Version   int
	CreatedAt int64
	Name      string
	Meta      Meta
	Samples   []Sample
}

// validate checks every sample against the chunk geometry.
func (c *Chunk) validate() error {
	rl, tl := c.Meta.RasterLen(), c.Meta.TargetLen()
	hl := 2 * (c.Meta.HistoryFrames + 1)
	for i := range c.Samples {
		s := &c.Samples[i]
		if len(s.Raster) != rl {
			return fmt.Errorf("sample %d: raster has %d values, want %d", i, len(s.Raster), rl)
		}
		if len(s.TargetPositions) != tl {
			return fmt.Errorf("sample %d: targets have %d values, want %d", i, len(s.TargetPositions), tl)
		}
		if len(s.TargetAvailabilities) != c.Meta.FutureFrames {
			return fmt.Errorf("sample %d: availabilities have %d values, want %d",
				i, len(s.TargetAvailabilities), c.Meta.FutureFrames)
		}
		if len(s.HistoryPositions) != 0 && len(s.HistoryPositions) != hl {
			return fmt.Errorf("sample %d: history has %d values, want %d or none", i, len(s.HistoryPositions), hl)
		}
	}
	return nil
}

// WriteChunk writes a chunk to path using encoding/gob. It performs an
// atomic write (create temp file then rename).
func WriteChunk(path string, c *Chunk) error {
	if path == "" {
		return fmt.Errorf("empty chunk path")
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("chunk %s: %w", c.Name, err)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp chunk file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	enc := gob.NewEncoder(tmpFile)
	cf := chunkFormat{
		Version:   chunkVersion,
		CreatedAt: time.Now().Unix(),
		Name:      c.Name,
		Meta:      c.Meta,
		Samples:   c.Samples,
	}
	if err := enc.Encode(&cf); err != nil {
		return fmt.Errorf("encode chunk to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		log.Printf("warning: sync temp chunk file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp chunk file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp chunk to target: %w", err)
	}
	return nil
}

// ReadChunk decodes a chunk from disk and validates its format version and
// sample geometry.
func ReadChunk(path string) (*Chunk, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk %s: %w", path, err)
	}
	defer fh.Close()

	dec := gob.NewDecoder(fh)
	var cf chunkFormat
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", path, err)
	}
	if cf.Version != chunkVersion {
		return nil, fmt.Errorf("chunk version mismatch in %s: file=%d expected=%d", path, cf.Version, chunkVersion)
	}
	c := &Chunk{Name: cf.Name, Meta: cf.Meta, Samples: cf.Samples}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	return c, nil
}
