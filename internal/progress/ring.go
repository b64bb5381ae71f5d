package progress

// ring is a fixed-capacity FIFO that overwrites its oldest element when full.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, max(capacity, 1))}
}

// push appends v and reports whether the oldest element was dropped.
func (r *ring[T]) push(v T) bool {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// items returns the contents oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// drain returns the contents oldest first and empties the ring.
func (r *ring[T]) drain() []T {
	out := r.items()
	r.reset()
	return out
}

func (r *ring[T]) reset() {
	clear(r.buf)
	r.start = 0
	r.n = 0
}

func (r *ring[T]) len() int {
	return r.n
}
