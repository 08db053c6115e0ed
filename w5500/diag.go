package w5500

// SocketInfo is a diagnostic snapshot of one hardware socket.
type SocketInfo struct {
	ID         int    `json:"id"`
	Phase      string `json:"phase"`
	BufferSize int    `json:"buffer_size"`
	TxQueued   int    `json:"tx_queued"`
	RxQueued   int    `json:"rx_queued"`
}

// Diagnostics is a point in time snapshot of the driver state, as
// exposed by the monitoring server.
type Diagnostics struct {
	Running bool         `json:"running"`
	PhyUp   bool         `json:"phy_up"`
	MACAddr [6]byte      `json:"mac_addr"`
	Sockets []SocketInfo `json:"sockets"`
}

// Diag captures a diagnostic snapshot of the driver and socket
// states.
func (d *Driver) Diag() Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()

	diag := Diagnostics{
		Running: d.coreState.running(),
		PhyUp:   d.phyUp,
		MACAddr: d.macAddr,
		Sockets: make([]SocketInfo, len(d.sockets)),
	}
	for i, s := range d.sockets {
		phase := "closed"
		switch s.state.(type) {
		case udpState:
			phase = "udp"
		case tcpState:
			phase = "tcp"
		}
		diag.Sockets[i] = SocketInfo{
			ID:         int(s.id),
			Phase:      phase,
			BufferSize: int(d.socketBufferSize(s.id)),
			TxQueued:   s.txStream.ReadCapacity(),
			RxQueued:   s.rxStream.ReadCapacity(),
		}
	}
	return diag
}
