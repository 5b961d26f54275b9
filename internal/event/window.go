package event

// Window is a fixed-capacity FIFO over T. Pushing onto a full window evicts
// the oldest element. The zero value is unusable; use NewWindow.
type Window[T any] struct {
	buf   []T
	start int
	count int
}

// NewWindow creates a window retaining the last capacity elements.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (w *Window[T]) Push(v T) {
	if w.count < len(w.buf) {
		w.buf[(w.start+w.count)%len(w.buf)] = v
		w.count++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of retained elements.
func (w *Window[T]) Len() int { return w.count }

// Items returns the retained elements, oldest first.
func (w *Window[T]) Items() []T {
	out := make([]T, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Clear drops all retained elements.
func (w *Window[T]) Clear() {
	w.start = 0
	w.count = 0
}
