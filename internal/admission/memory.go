package admission

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// MemoryCounter is an in-process CounterStore with the same fixed-window
// semantics as the Redis one. Single-process only; for tests and local runs.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

var _ CounterStore = (*MemoryCounter)(nil)

func (c *MemoryCounter) Hit(_ context.Context, key string, limit int, windowLen time.Duration) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.until) {
		c.windows[key] = &window{count: 1, until: now.Add(windowLen)}
		return true, 0, nil
	}

	if w.count+1 > limit {
		// Full window: refuse without counting.
		return false, w.until.Sub(now), nil
	}
	w.count++
	return true, 0, nil
}
