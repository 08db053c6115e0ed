package kernel

import "sync"

// A Stream is a bounded FIFO queue connecting one producer context to
// one consumer task. Writing to an empty stream resumes the registered
// consumer; a full stream rejects the write and the producer retries
// on a later tick. Payload ownership passes through the queue with the
// element.
type Stream[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	consumer *Task
}

// NewStream creates a stream holding at most capacity elements.
func NewStream[T any](capacity int) *Stream[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Stream[T]{capacity: capacity}
}

// SetConsumer registers the task to resume when the stream becomes
// non-empty. A nil task disables wakeups.
func (s *Stream[T]) SetConsumer(t *Task) {
	s.mu.Lock()
	s.consumer = t
	s.mu.Unlock()
}

// Write appends an element to the stream, returning false if the
// stream is full.
func (s *Stream[T]) Write(item T) bool {
	s.mu.Lock()
	if len(s.items) >= s.capacity {
		s.mu.Unlock()
		return false
	}
	wasEmpty := len(s.items) == 0
	s.items = append(s.items, item)
	consumer := s.consumer
	s.mu.Unlock()

	if wasEmpty && consumer != nil {
		consumer.Resume()
	}
	return true
}

// Read removes and returns the element at the head of the stream.
func (s *Stream[T]) Read() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	item := s.items[0]
	s.items[0] = zero
	s.items = s.items[1:]
	return item, true
}

// PushBack returns an element to the head of the stream, undoing a
// Read that could not be acted on. It returns false if the stream is
// full.
func (s *Stream[T]) PushBack(item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= s.capacity {
		return false
	}
	s.items = append([]T{item}, s.items...)
	return true
}

// ReadCapacity returns the number of queued elements.
func (s *Stream[T]) ReadCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// WriteCapacity returns the number of free element slots.
func (s *Stream[T]) WriteCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - len(s.items)
}

// Drain removes and returns all queued elements.
func (s *Stream[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items
	s.items = nil
	return items
}
