package md

// RingBuffer keeps the most recent size values in arrival order.
type RingBuffer[T any] struct {
	values []T
	size   int
	index  int
	filled bool
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{
		values: make([]T, size),
		size:   size,
	}
}

func (r *RingBuffer[T]) Add(value T) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer[T]) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

func (r *RingBuffer[T]) Cap() int {
	return r.size
}

// Values returns a copy, oldest first.
func (r *RingBuffer[T]) Values() []T {
	length := r.Len()
	result := make([]T, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// Last returns the newest value.
func (r *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if r.Len() == 0 {
		return zero, false
	}
	return r.values[(r.index-1+r.size)%r.size], true
}
