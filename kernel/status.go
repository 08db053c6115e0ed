package kernel

import "time"

type statusKind uint8

const (
	statusRunNow statusKind = iota
	statusRunAfter
	statusSuspend
)

// Status is the scheduling decision returned by a task tick. A task
// either wants to run again immediately, run again after a bounded
// delay, or suspend until another party resumes it.
type Status struct {
	kind  statusKind
	delay time.Duration
}

// RunNow requests immediate re-invocation of the task.
func RunNow() Status {
	return Status{kind: statusRunNow}
}

// RunAfter requests re-invocation of the task once the given delay has
// elapsed.
func RunAfter(d time.Duration) Status {
	if d <= 0 {
		return Status{kind: statusRunNow}
	}
	return Status{kind: statusRunAfter, delay: d}
}

// Suspend parks the task until an explicit Resume call.
func Suspend() Status {
	return Status{kind: statusSuspend}
}

// IsSuspend reports whether the status parks the task.
func (s Status) IsSuspend() bool {
	return s.kind == statusSuspend
}

// Delay returns the requested re-invocation delay, which is zero for
// RunNow.
func (s Status) Delay() time.Duration {
	return s.delay
}

// Prioritise combines two scheduling decisions, keeping whichever one
// requires the earlier re-invocation.
func Prioritise(a, b Status) Status {
	if a.kind == statusRunNow || b.kind == statusSuspend {
		return a
	}
	if b.kind == statusRunNow || a.kind == statusSuspend {
		return b
	}
	if a.delay <= b.delay {
		return a
	}
	return b
}
