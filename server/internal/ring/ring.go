// Package ring provides a fixed-capacity FIFO used for every bounded
// collection in the server: history points, alert history, logbook events
// and workpieces. Push is O(1); once full, each push overwrites the oldest
// element.
package ring

// Buffer is a fixed-capacity ring of T. It is not safe for concurrent use;
// owners guard it with their own mutex.
type Buffer[T any] struct {
	values []T
	start  int // index of the oldest element
	count  int
}

// New returns an empty Buffer holding at most capacity elements.
// A capacity below 1 is promoted to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{values: make([]T, capacity)}
}

// Push appends v as the newest element. When the buffer is full the oldest
// element is evicted and returned with ok=true.
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	c := len(b.values)
	if b.count < c {
		b.values[(b.start+b.count)%c] = v
		b.count++
		return evicted, false
	}
	evicted = b.values[b.start]
	b.values[b.start] = v
	b.start = (b.start + 1) % c
	return evicted, true
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.count }

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int { return len(b.values) }

// at returns a pointer to the i-th oldest element.
func (b *Buffer[T]) at(i int) *T {
	return &b.values[(b.start+i)%len(b.values)]
}

// Oldest returns a copy of the contents ordered oldest to newest.
func (b *Buffer[T]) Oldest() []T {
	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = *b.at(i)
	}
	return out
}

// Newest returns a copy of the contents ordered newest to oldest.
func (b *Buffer[T]) Newest() []T {
	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = *b.at(b.count - 1 - i)
	}
	return out
}

// UpdateNewest walks from newest to oldest and calls fn with a pointer to
// each element until fn returns true. It reports whether fn matched.
func (b *Buffer[T]) UpdateNewest(fn func(*T) bool) bool {
	for i := b.count - 1; i >= 0; i-- {
		if fn(b.at(i)) {
			return true
		}
	}
	return false
}
