package stream

import "github.com/solcrank/perp-keeper/internal/model"

// ring is a fixed-capacity price history. Appends overwrite the oldest
// point once full; reads never mutate.
type ring struct {
	buf  []model.PricePoint
	head int // Next write position
	n    int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]model.PricePoint, capacity)}
}

func (r *ring) push(p model.PricePoint) {
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) latest() (model.PricePoint, bool) {
	if r.n == 0 {
		return model.PricePoint{}, false
	}
	i := (r.head - 1 + len(r.buf)) % len(r.buf)
	return r.buf[i], true
}

// history returns points oldest first.
func (r *ring) history() []model.PricePoint {
	out := make([]model.PricePoint, 0, r.n)
	start := (r.head - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
