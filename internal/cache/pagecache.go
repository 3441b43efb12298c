// Package cache holds the rendered global feed front page.
//
// The cache has exactly one slot and is validated by a content version that
// strictly increases on every Invalidate. Any post mutation invalidates the
// whole slot; there is no per-key tracking. Faults in the underlying Slot are
// logged and treated as misses so a feed can always be served uncached.
package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"example.com/postfeed/internal/logger"
)

var logg = logger.New()

// ErrEmpty is returned by a Slot that holds no entry.
var ErrEmpty = errors.New("cache: slot empty")

// Entry is the single cached rendering.
type Entry struct {
	Version uint64
	Body    []byte
}

// Slot stores at most one Entry.
type Slot interface {
	Load() (Entry, error)
	Store(e Entry) error
	Clear() error
}

// MemorySlot is an in-process Slot.
type MemorySlot struct {
	mu    sync.RWMutex
	entry *Entry
}

func NewMemorySlot() *MemorySlot { return &MemorySlot{} }

func (s *MemorySlot) Load() (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return Entry{}, ErrEmpty
	}
	return *s.entry, nil
}

func (s *MemorySlot) Store(e Entry) error {
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	s.mu.Lock()
	s.entry = &Entry{Version: e.Version, Body: body}
	s.mu.Unlock()
	return nil
}

func (s *MemorySlot) Clear() error {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()
	return nil
}

type Stats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// PageCache is the process-wide owner of the slot and the content version.
// Construct one per process and share it; Reset returns it to an empty state.
type PageCache struct {
	slot    Slot
	version atomic.Uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

// New wraps slot. A nil slot gets an in-memory one.
func New(slot Slot) *PageCache {
	if slot == nil {
		slot = NewMemorySlot()
	}
	return &PageCache{slot: slot}
}

// Version returns the live content version. Read it before building a page
// and hand the same value to Put.
func (c *PageCache) Version() uint64 {
	return c.version.Load()
}

// Get returns the cached body if it was stored under exactly version and
// version is still live.
func (c *PageCache) Get(version uint64) ([]byte, bool) {
	if version != c.version.Load() {
		c.misses.Add(1)
		return nil, false
	}
	e, err := c.slot.Load()
	if err != nil {
		if !errors.Is(err, ErrEmpty) {
			logg.Error("cache", "Slot load failed, serving uncached", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if e.Version != version {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.Body, true
}

// Put stores body rendered at version. A body rendered at an outdated version
// is dropped; if an Invalidate races past the check, the stored entry is
// shadowed by the version mismatch on the next Get.
func (c *PageCache) Put(version uint64, body []byte) {
	if version != c.version.Load() {
		return
	}
	if err := c.slot.Store(Entry{Version: version, Body: body}); err != nil {
		logg.Error("cache", "Slot store failed", err)
	}
}

// Invalidate bumps the content version and clears the slot.
func (c *PageCache) Invalidate() {
	c.version.Add(1)
	c.invalidations.Add(1)
	if err := c.slot.Clear(); err != nil {
		logg.Error("cache", "Slot clear failed", err)
	}
}

// Reset clears the slot and the counters. The version keeps increasing so
// entries stored before the reset can never be served after it.
func (c *PageCache) Reset() {
	c.version.Add(1)
	if err := c.slot.Clear(); err != nil {
		logg.Error("cache", "Slot clear failed", err)
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.invalidations.Store(0)
}

func (c *PageCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
