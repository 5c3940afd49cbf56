package zone

// Window is a fixed-capacity ring buffer of range samples in millimetres.
// Once full, every Push evicts exactly the oldest sample.
type Window struct {
	buf  []int
	next int // index the next sample is written to
	size int
}

// NewWindow returns an empty window holding at most capacity samples.
// Capacities below one are raised to one.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]int, capacity)}
}

// Push appends v, evicting the oldest sample when the window is full. It
// reports whether a sample was evicted.
func (w *Window) Push(v int) (evicted bool) {
	evicted = w.size == len(w.buf)
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if !evicted {
		w.size++
	}
	return evicted
}

// Len returns the number of samples currently held.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity N.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window has reached capacity.
func (w *Window) Full() bool { return w.size == len(w.buf) }

// Min returns the smallest stored sample, or false if the window is empty.
func (w *Window) Min() (int, bool) {
	if w.size == 0 {
		return 0, false
	}
	vals := w.Values()
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m, true
}

// Values returns a copy of the stored samples, oldest first.
func (w *Window) Values() []int {
	out := make([]int, 0, w.size)
	start := w.next - w.size
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// Reset empties the window without changing its capacity.
func (w *Window) Reset() {
	w.next = 0
	w.size = 0
}
