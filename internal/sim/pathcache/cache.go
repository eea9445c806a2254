// Package pathcache stores complete point-to-point corridors and derives
// longer ones by chaining segments that share an endpoint.
package pathcache

import (
	"sync"

	"go.uber.org/zap"

	"questingbots.ai/internal/sim/geom"
)

// Cache holds complete segments keyed by (start, end). The first segment
// stored for a key wins.
type Cache struct {
	log *zap.Logger

	mu    sync.RWMutex
	order []Key
	byKey map[Key]Segment
}

func New(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{log: log, byKey: map[Key]Segment{}}
}

// Store adds seg when it is complete and its key is new.
func (c *Cache) Store(seg Segment) bool {
	if seg.Status != StatusComplete {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(seg)
}

func (c *Cache) storeLocked(seg Segment) bool {
	k := seg.Key()
	if _, ok := c.byKey[k]; ok {
		return false
	}
	c.byKey[k] = seg
	c.order = append(c.order, k)
	return true
}

// Merge stores every new complete segment under one write lock, so readers
// observe the cache either before or after the whole batch.
func (c *Cache) Merge(segs []Segment) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range segs {
		if s.Status == StatusComplete && c.storeLocked(s) {
			n++
		}
	}
	return n
}

// Lookup returns the segments ending at dest in insertion order.
func (c *Cache) Lookup(dest geom.Vec3) []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Segment
	for _, k := range c.order {
		if k.End == dest {
			out = append(out, c.byKey[k])
		}
	}
	return out
}

func (c *Cache) Get(k Key) (Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byKey[k]
	return s, ok
}

func (c *Cache) Has(k Key) bool {
	_, ok := c.Get(k)
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Segments returns a snapshot in insertion order.
func (c *Cache) Segments() []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Segment, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// CombineAll runs Combine over the whole cache and merges the result.
func (c *Cache) CombineAll() int {
	added := c.Merge(Combine(c.Segments()))
	if added > 0 {
		c.log.Debug("combined static paths", zap.Int("added", added))
	}
	return added
}

// Combine returns segs plus every segment derivable by chaining, repeating
// full passes until one adds nothing. Incomplete inputs are dropped and the
// first segment per key wins. segs is not modified.
func Combine(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	have := make(map[Key]bool, len(segs))
	for _, s := range segs {
		if s.Status != StatusComplete || have[s.Key()] {
			continue
		}
		have[s.Key()] = true
		out = append(out, s)
	}

	for {
		added := 0
		n := len(out)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				x, y := out[i], out[j]
				if x.End != y.Start || x.Start == y.End {
					continue
				}
				k := Key{Start: x.Start, End: y.End}
				if have[k] {
					continue
				}
				have[k] = true
				out = append(out, x.Append(y))
				added++
			}
		}
		if added == 0 {
			return out
		}
	}
}
