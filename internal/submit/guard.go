package submit

import (
	"sync"
	"time"
)

// Guard suppresses repeat submissions for the same key within a TTL
// window. The first Admit for a key passes; every Admit for that key
// inside the window is rejected and counted.
type Guard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	hits uint64

	now func() time.Time
}

// NewGuard creates a guard with the given window. A non-positive ttl
// disables the guard entirely: every Admit passes.
func NewGuard(ttl time.Duration) *Guard {
	return &Guard{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Admit reports whether a submission for key may proceed. A true
// result records the key; the window is measured from that first
// admission, not refreshed by rejected repeats.
func (g *Guard) Admit(key string) bool {
	if g.ttl <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.seen[key]; ok && now.Sub(at) < g.ttl {
		g.hits++
		return false
	}
	g.seen[key] = now

	// Expired entries for other keys accumulate between admissions;
	// clear them here so the map tracks only live windows.
	for k, at := range g.seen {
		if now.Sub(at) >= g.ttl {
			delete(g.seen, k)
		}
	}
	return true
}

// Hits returns how many submissions the guard has rejected.
func (g *Guard) Hits() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits
}

// Len returns the number of keys currently inside their window.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for _, at := range g.seen {
		if now.Sub(at) < g.ttl {
			n++
		}
	}
	return n
}
