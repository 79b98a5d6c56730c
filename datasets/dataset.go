package datasets

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	defaultBatchSize       = 12
	defaultChunkTTL        = 5 * time.Minute
	defaultChunkMaxEntries = 8
)

// AgentDataset lazily reads agent samples from chunk files matching a glob
// pattern. Decoded chunks are held in a bounded TTL cache so repeated reads
// of nearby samples do not hit the disk.
type AgentDataset struct {
	// Pattern used to find chunk files (e.g., "scenes/train/*.gob").
	Pattern string

	// BatchSize for yielding batches.
	BatchSize int

	// Workers sets how many goroutines copy samples into batch tensors.
	// Values below 2 keep stacking serial.
	Workers int

	// ShuffleEachEpoch reshuffles the sample order on every Restart. Shuffle
	// must have been called at least once to seed the generator.
	ShuffleEachEpoch bool

	chunkPaths []string
	counts     []int
	cumCounts  []int
	total      int
	meta       Meta

	rand   *rand.Rand
	order  []int
	cursor int

	mu              sync.Mutex
	cache           map[int]*cachedChunk
	chunkTTL        time.Duration
	chunkMaxEntries int
}

type cachedChunk struct {
	chunk    *Chunk
	loadedAt time.Time
	lastUsed time.Time
}

// NewAgentDataset discovers chunk files matching pattern and builds the
// sample index. Every chunk must share the same raster geometry.
func NewAgentDataset(pattern string) (*AgentDataset, error) {
	chunkPaths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob pattern %s: %w", pattern, err)
	}
	if len(chunkPaths) == 0 {
		return nil, fmt.Errorf("no chunk files found matching pattern: %s", pattern)
	}
	sort.Strings(chunkPaths)

	d := &AgentDataset{
		Pattern:         pattern,
		BatchSize:       defaultBatchSize,
		chunkPaths:      chunkPaths,
		cache:           make(map[int]*cachedChunk),
		chunkTTL:        defaultChunkTTL,
		chunkMaxEntries: defaultChunkMaxEntries,
	}
	if err := d.buildIndex(); err != nil {
		return nil, err
	}
	return d, nil
}

// buildIndex decodes every chunk once to record sample counts and verify the
// geometry is consistent.
func (d *AgentDataset) buildIndex() error {
	d.counts = make([]int, len(d.chunkPaths))
	d.cumCounts = make([]int, len(d.chunkPaths)+1)

	for i, path := range d.chunkPaths {
		c, err := ReadChunk(path)
		if err != nil {
			return fmt.Errorf("index chunk %s: %w", path, err)
		}
		if i == 0 {
			d.meta = c.Meta
		} else if !c.Meta.equal(d.meta) {
			return fmt.Errorf("chunk %s geometry %+v does not match first chunk %+v", path, c.Meta, d.meta)
		}
		d.counts[i] = len(c.Samples)
		d.cumCounts[i+1] = d.cumCounts[i] + len(c.Samples)
	}
	d.total = d.cumCounts[len(d.chunkPaths)]
	if d.total == 0 {
		return fmt.Errorf("no samples in chunks matching %s", d.Pattern)
	}

	d.order = make([]int, d.total)
	for i := range d.order {
		d.order[i] = i
	}
	return nil
}

// Len returns the total number of samples across all chunks.
func (d *AgentDataset) Len() int { return d.total }

// Meta returns the shared raster geometry.
func (d *AgentDataset) Meta() Meta { return d.meta }

// mapGlobalIndex maps a global sample index to (chunk index, sample index
// within chunk).
func (d *AgentDataset) mapGlobalIndex(globalIdx int) (chunkIdx, localIdx int) {
	chunkIdx = sort.Search(len(d.chunkPaths), func(i int) bool {
		return d.cumCounts[i+1] > globalIdx
	})
	return chunkIdx, globalIdx - d.cumCounts[chunkIdx]
}

// Example returns a single sample by global index. The returned sample
// aliases cached chunk memory and must not be modified.
func (d *AgentDataset) Example(idx int) (*Sample, error) {
	if idx < 0 || idx >= d.total {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, d.total)
	}
	chunkIdx, localIdx := d.mapGlobalIndex(idx)
	c, err := d.chunkFor(chunkIdx)
	if err != nil {
		return nil, err
	}
	if localIdx >= len(c.Samples) {
		return nil, fmt.Errorf("chunk %s shrank under the index: sample %d of %d",
			d.chunkPaths[chunkIdx], localIdx, len(c.Samples))
	}
	return &c.Samples[localIdx], nil
}

// Batch returns samples for the given global indices.
func (d *AgentDataset) Batch(indices []int) ([]*Sample, error) {
	out := make([]*Sample, len(indices))
	for i, idx := range indices {
		s, err := d.Example(idx)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// SetChunkTTL adjusts how long a decoded chunk may be served from the cache
// before it is re-read from disk. Zero or negative disables expiry.
func (d *AgentDataset) SetChunkTTL(ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunkTTL = ttl
}

// SetChunkMaxEntries bounds the number of decoded chunks held in memory.
// Zero or negative removes the bound.
func (d *AgentDataset) SetChunkMaxEntries(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunkMaxEntries = n
}

// Shuffle seeds the order generator and shuffles the sample order.
func (d *AgentDataset) Shuffle(seed int64) {
	d.rand = rand.New(rand.NewSource(seed))
	d.rand.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// chunkFor returns the decoded chunk, reading it from disk when absent or
// expired. The least recently used entry is evicted when the cache is full.
func (d *AgentDataset) chunkFor(chunkIdx int) (*Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if e, ok := d.cache[chunkIdx]; ok {
		if d.chunkTTL <= 0 || now.Sub(e.loadedAt) < d.chunkTTL {
			e.lastUsed = now
			return e.chunk, nil
		}
		delete(d.cache, chunkIdx)
	}

	c, err := ReadChunk(d.chunkPaths[chunkIdx])
	if err != nil {
		return nil, err
	}
	if !c.Meta.equal(d.meta) {
		return nil, fmt.Errorf("chunk %s geometry changed since indexing", d.chunkPaths[chunkIdx])
	}

	if d.chunkMaxEntries > 0 {
		for len(d.cache) >= d.chunkMaxEntries {
			oldest := -1
			var oldestUsed time.Time
			for idx, e := range d.cache {
				if oldest < 0 || e.lastUsed.Before(oldestUsed) {
					oldest = idx
					oldestUsed = e.lastUsed
				}
			}
			delete(d.cache, oldest)
		}
	}
	d.cache[chunkIdx] = &cachedChunk{chunk: c, loadedAt: now, lastUsed: now}
	return c, nil
}
