package w5500

// Notification identifies an asynchronous socket status event. A
// single handler may be registered per socket; it is invoked
// synchronously from within the driver processing context and must
// not block.
type Notification int

const (
	NotifyUDPSocketOpened Notification = iota
	NotifyUDPSocketClosed
	NotifyUDPMessageSent
	NotifyUDPARPTimeout
	NotifyTCPSocketOpened
	NotifyTCPSocketClosed
	NotifyTCPConnected
	NotifyTCPConnectTimeout
	NotifyPhyLinkUp
	NotifyPhyLinkDown
)

func (n Notification) String() string {
	switch n {
	case NotifyUDPSocketOpened:
		return "udp-socket-opened"
	case NotifyUDPSocketClosed:
		return "udp-socket-closed"
	case NotifyUDPMessageSent:
		return "udp-message-sent"
	case NotifyUDPARPTimeout:
		return "udp-arp-timeout"
	case NotifyTCPSocketOpened:
		return "tcp-socket-opened"
	case NotifyTCPSocketClosed:
		return "tcp-socket-closed"
	case NotifyTCPConnected:
		return "tcp-connected"
	case NotifyTCPConnectTimeout:
		return "tcp-connect-timeout"
	case NotifyPhyLinkUp:
		return "phy-link-up"
	case NotifyPhyLinkDown:
		return "phy-link-down"
	default:
		return "unknown"
	}
}

// NotifyFunc is the socket status notification callback.
type NotifyFunc func(Notification)

type pendingNotify struct {
	handler NotifyFunc
	event   Notification
}
