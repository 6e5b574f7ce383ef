// Package cache implements the frame cache: a TTL map from frame-id to
// raw frame bytes and capture metadata (spec.md §4.2). It is the sole
// bridge between the AI feeder, which writes it, and the session
// manager, which reads it back out by frame-id when a result correlates
// to a stable detection.
package cache

import (
	"sync"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("cache")

// Frame is an immutable capture sample.
type Frame struct {
	FrameID     uint64
	CaptureTS   int64 // monotonic nanoseconds
	Width       int
	Height      int
	PixelFormat string
	Bytes       []byte
}

// entry is a Frame plus its wall-clock insertion time, used to compute
// expiry independent of the frame's own (monotonic) capture timestamp.
type entry struct {
	frame     Frame
	insertedAt time.Time
}

// Cache is a concurrent-safe TTL map keyed by frame id. Entries are
// immutable once inserted; consistency with respect to TTL is eventual,
// enforced by a background sweeper rather than per-access checks alone
// (a Get still re-checks expiry so a miss is never later than the
// sweeper's cadence).
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[uint64]entry

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// defaultTTL matches spec.md §3's default of 2000ms.
const defaultTTL = 2000 * time.Millisecond

// New creates a frame cache with the given TTL (defaultTTL if ttl<=0)
// and starts its background sweeper at a cadence of roughly ttl/4.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		entries: make(map[uint64]entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	c.wg.Add(1)
	go c.sweep()
	return c
}

// Put inserts or overwrites the entry for frame.FrameID. O(1).
func (c *Cache) Put(frame Frame) {
	c.mu.Lock()
	c.entries[frame.FrameID] = entry{frame: frame, insertedAt: c.now()}
	c.mu.Unlock()
}

// Get returns the frame for id if present and not expired. A miss after
// TTL expiry is expected and non-fatal -- callers treat it as a cache
// miss, not an error.
func (c *Cache) Get(id uint64) (Frame, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.insertedAt) > c.ttl {
		return Frame{}, false
	}
	return e.frame, true
}

// Evict removes id unconditionally, used when the feeder drops a frame
// from its in-flight window under LATEST_WINS.
func (c *Cache) Evict(id uint64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len reports the number of (possibly expired, not-yet-swept) entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *Cache) sweep() {
	defer c.wg.Done()

	cadence := c.ttl / 4
	if cadence <= 0 {
		cadence = time.Millisecond
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Cache) sweepOnce() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug("swept expired frames", "count", evicted, "remaining", len(c.entries))
	}
}
