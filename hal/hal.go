// Package hal defines the hardware abstraction layer used by the
// W5500 driver stack. Implementations adapt a concrete SPI controller
// and GPIO lines, or substitute a behavioural model of the device for
// testing. The driver is the only bus master: no other code may issue
// transfers on the bus while the driver is running.
package hal

// Status reports the outcome of a bus access attempt.
type Status int

const (
	// StatusOK indicates the access completed successfully.
	StatusOK Status = iota

	// StatusNotReady indicates the bus could not accept the access
	// and the caller should retry later.
	StatusNotReady

	// StatusActive indicates an asynchronous transfer is still in
	// progress.
	StatusActive

	// StatusFailed indicates an unrecoverable bus error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotReady:
		return "not-ready"
	case StatusActive:
		return "active"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Bus is a byte-oriented SPI data channel to a selected device. Inline
// accesses transfer short buffers in a single call. Start accesses
// initiate a transfer that completes asynchronously; Complete polls
// for the result. At most one transfer may be in flight at a time.
type Bus interface {
	// InlineWrite transfers p to the device, blocking only briefly.
	InlineWrite(p []byte) Status

	// InlineRead fills p from the device, blocking only briefly.
	InlineRead(p []byte) Status

	// StartWrite initiates an asynchronous write of p. It returns
	// false if the bus cannot accept a new transfer.
	StartWrite(p []byte) bool

	// StartRead initiates an asynchronous read into p. It returns
	// false if the bus cannot accept a new transfer.
	StartRead(p []byte) bool

	// Complete polls an asynchronous transfer, returning
	// StatusActive while it is still running.
	Complete() Status
}

// Notifier is implemented by buses that complete asynchronous
// transfers out of the caller's context. The registered function is
// invoked once a transfer started with StartWrite or StartRead has
// finished, signalling that Complete will no longer report
// StatusActive.
type Notifier interface {
	SetNotify(fn func())
}

// Device controls chip select for a single device on a shared bus.
type Device interface {
	// Select asserts chip select, returning false if the bus is
	// held by another device.
	Select() bool

	// Release deasserts chip select, returning false if the
	// release could not be completed yet.
	Release() bool
}

// OutputPin drives a single GPIO output, such as the device reset
// line.
type OutputPin interface {
	SetState(high bool)
}

// InterruptPin monitors a single GPIO input for edge events. The
// handler runs in interrupt context and must only set event flags.
type InterruptPin interface {
	// SetHandler registers the edge callback. It must be called
	// before Enable.
	SetHandler(fn func())

	// Enable arms edge detection for the selected edges.
	Enable(rising, falling bool)
}
