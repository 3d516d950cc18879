package feed

import "sync"

// ReplayMode defines how playback handles end-of-data
type ReplayMode string

const (
	ReplayExhaust  ReplayMode = "exhaust"  // ErrFeedExhausted at end
	ReplayRotation ReplayMode = "rotation" // wrap to 0
)

// IndexCache tracks playback positions per feed reference
type IndexCache struct {
	mu      sync.Mutex
	indexes map[string]int
	mode    ReplayMode
}

// NewIndexCache creates a new IndexCache.
func NewIndexCache(mode ReplayMode) *IndexCache {
	return &IndexCache{
		indexes: make(map[string]int),
		mode:    mode,
	}
}

// GetAndAdvance returns the current index and advances it
// Returns (index, isExhausted)
func (c *IndexCache) GetAndAdvance(key string, dataLength int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexes[key]

	if dataLength == 0 || (c.mode == ReplayExhaust && idx >= dataLength) {
		return idx, true
	}

	if c.mode == ReplayRotation {
		idx %= dataLength
		c.indexes[key] = (idx + 1) % dataLength
	} else {
		c.indexes[key] = idx + 1
	}

	return idx, false
}

// Reset clears one key, or all keys when key is empty. Returns how many were cleared.
func (c *IndexCache) Reset(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		count := len(c.indexes)
		c.indexes = make(map[string]int)
		return count
	}
	if _, ok := c.indexes[key]; ok {
		delete(c.indexes, key)
		return 1
	}
	return 0
}

// Position returns the next index without advancing
func (c *IndexCache) Position(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexes[key]
}
