package kernel

import "sync"

// EventFlags is a bit set used to signal a consumer task from
// interrupt handlers or other goroutines. Setting any bit resumes the
// consumer; the consumer drains the accumulated bits with ResetAll
// from within its own tick.
type EventFlags struct {
	mu       sync.Mutex
	bits     uint32
	consumer *Task
}

// NewEventFlags creates an event bit set delivering wakeups to the
// given consumer task.
func NewEventFlags(consumer *Task) *EventFlags {
	return &EventFlags{consumer: consumer}
}

// Set raises the given bits and resumes the consumer task.
func (ev *EventFlags) Set(mask uint32) {
	ev.mu.Lock()
	ev.bits |= mask
	consumer := ev.consumer
	ev.mu.Unlock()

	if consumer != nil {
		consumer.Resume()
	}
}

// ResetAll clears all bits and returns the set that was cleared.
func (ev *EventFlags) ResetAll() uint32 {
	ev.mu.Lock()
	bits := ev.bits
	ev.bits = 0
	ev.mu.Unlock()
	return bits
}
