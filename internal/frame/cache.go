package frame

import (
	"log/slog"
	"sync"
)

// CacheIOMax is the bounded pool size, spec §3 invariant and §4.2.
const CacheIOMax = 32

// HighThreshold is the soft ceiling past which Acquire starts refusing and
// signalling backpressure (spec §4.2).
const HighThreshold = CacheIOMax - 1

// Cache is a fixed-size pool of Buffers with an elastic overflow region,
// spec §4.2. The free list and commitment counter share one mutex; pool
// mutations never block on I/O.
type Cache struct {
	mu        sync.Mutex
	free      []*Buffer
	committed int // buffers currently rented out
	grown     int // buffers allocated beyond the initial CacheIOMax
	log       *slog.Logger
}

// NewCache creates a Cache pre-populated with CacheIOMax free buffers.
func NewCache(log *slog.Logger) *Cache {
	c := &Cache{
		free: make([]*Buffer, 0, CacheIOMax),
		log:  log.With("component", "frame-cache"),
	}
	for i := 0; i < CacheIOMax; i++ {
		c.free = append(c.free, &Buffer{})
	}
	return c
}

// Acquire returns a buffer, or nil when the pool is provisioned at or above
// HighThreshold — the caller must treat nil as backpressure and drop the
// triggering event (spec §4.2).
func (c *Cache) Acquire() *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed >= HighThreshold {
		return nil
	}
	return c.takeLocked()
}

// AcquireOrGrow always succeeds, growing the elastic overflow region and
// logging when the bounded pool is exhausted (spec §4.2).
func (c *Cache) AcquireOrGrow() *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.free) == 0 {
		c.grown++
		c.log.Warn("frame cache grown past bounded pool", "committed", c.committed, "grown", c.grown)
		c.committed++
		return &Buffer{}
	}
	return c.takeLocked()
}

// AcquireWithData behaves like AcquireOrGrow but copies data into the
// buffer and marks it write-intent (spec §4.2).
func (c *Cache) AcquireWithData(data []byte) (*Buffer, error) {
	b := c.AcquireOrGrow()
	if err := b.LoadPayload(data); err != nil {
		c.Reclaim(b)
		return nil, err
	}
	b.writeIntent = true
	return b, nil
}

// Reclaim returns a buffer to the pool.
func (c *Cache) Reclaim(b *Buffer) {
	if b == nil {
		return
	}
	b.Reset()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed--
	c.free = append(c.free, b)
}

// IsOverProvisioned reports whether the pool is currently at or above the
// soft ceiling; dispatch uses this to throttle new TAP reads (spec §4.2,
// §8 S4).
func (c *Cache) IsOverProvisioned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed >= HighThreshold
}

// Committed returns the number of buffers currently rented out, for tests
// and diagnostics.
func (c *Cache) Committed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

func (c *Cache) takeLocked() *Buffer {
	n := len(c.free)
	b := c.free[n-1]
	c.free = c.free[:n-1]
	c.committed++
	return b
}
