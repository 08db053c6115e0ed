package w5500

// Status is the result code returned by the socket API operations.
// Recoverable conditions such as Retry and Timeout are distinguished
// from unrecoverable ones such as ProtocolError and DriverFailure,
// which indicate a logic or hardware defect rather than a transient
// condition.
type Status int

const (
	// StatusSuccess indicates that the operation completed or was
	// accepted for asynchronous processing.
	StatusSuccess Status = iota

	// StatusNotOpen indicates that the socket is not open for the
	// requested transfer type.
	StatusNotOpen

	// StatusNotConnected indicates that no TCP connection has been
	// established on the socket.
	StatusNotConnected

	// StatusNotValid indicates that the socket is not in a valid
	// state for the requested operation.
	StatusNotValid

	// StatusRetry indicates transient resource exhaustion. No data
	// has been consumed and the caller may resubmit the request.
	StatusRetry

	// StatusOversized indicates that the payload exceeds the buffer
	// memory allocated to the socket on the device.
	StatusOversized

	// StatusNetworkDown indicates that the physical layer link is
	// not available.
	StatusNetworkDown

	// StatusTimeout indicates that a transport layer timeout
	// occurred. Retry policy is left to the caller.
	StatusTimeout

	// StatusUnsupported indicates a request for functionality that
	// the device does not provide, such as IPv6 addressing.
	StatusUnsupported

	// StatusDataLoss indicates that received data was discarded.
	StatusDataLoss

	// StatusProtocolError indicates a response sequence error. The
	// socket must be closed and reopened to recover.
	StatusProtocolError

	// StatusDriverFailure indicates an unrecoverable driver fault.
	StatusDriverFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotOpen:
		return "not-open"
	case StatusNotConnected:
		return "not-connected"
	case StatusNotValid:
		return "not-valid"
	case StatusRetry:
		return "retry"
	case StatusOversized:
		return "oversized"
	case StatusNetworkDown:
		return "network-down"
	case StatusTimeout:
		return "timeout"
	case StatusUnsupported:
		return "unsupported"
	case StatusDataLoss:
		return "data-loss"
	case StatusProtocolError:
		return "protocol-error"
	case StatusDriverFailure:
		return "driver-failure"
	default:
		return "unknown"
	}
}
