package w5500

import (
	"github.com/zynaptic/w5500go/kernel"
	"github.com/zynaptic/w5500go/netbuf"
)

// Connect initiates an active TCP connection to the given remote IPv4
// address and port. The socket must be open for TCP and idle. The
// outcome is reported via the socket notification handler as either a
// connected or a connect timeout event.
func (s *Socket) Connect(remoteAddr [4]byte, remotePort uint16) Status {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()

	state, isTCP := s.state.(tcpState)
	if !isTCP {
		return StatusNotOpen
	}
	if state == tcpError {
		return StatusProtocolError
	}
	if state != tcpReady {
		return StatusNotValid
	}

	// Stage the remote address and port for the connection setup
	// sequence.
	s.payload.Reset()
	s.payload.Append(remoteAddr[:]...)
	s.payload.Append(uint8(remotePort>>8), uint8(remotePort))
	s.state = tcpSetRemoteAddr
	d.coreTask.Resume()
	d.log.Debugf(
		"W5500 socket %d connecting to %d.%d.%d.%d:%d", s.id,
		remoteAddr[0], remoteAddr[1], remoteAddr[2], remoteAddr[3],
		remotePort)
	return StatusSuccess
}

// Send queues a data buffer for transmission over an established TCP
// connection. On success the buffer is owned by the socket until it
// has been copied to the device. A retry status indicates that the
// transmit queue is full and the buffer is still owned by the caller.
// A socket in its terminal error state reports a protocol error.
func (s *Socket) Send(buffer *netbuf.Buffer) Status {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()

	state, isTCP := s.state.(tcpState)
	if !isTCP {
		return StatusNotOpen
	}
	if state == tcpError {
		return StatusProtocolError
	}
	if state < tcpActive {
		return StatusNotConnected
	}
	if buffer.Len() > int(d.socketBufferSize(s.id)) {
		return StatusOversized
	}
	if !s.txStream.Write(buffer) {
		return StatusRetry
	}
	return StatusSuccess
}

// Receive takes the next queued data buffer received over an
// established TCP connection. A retry status indicates that no
// received data is currently available.
func (s *Socket) Receive() (*netbuf.Buffer, Status) {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()

	state, isTCP := s.state.(tcpState)
	if !isTCP {
		return nil, StatusNotOpen
	}
	if state == tcpError {
		return nil, StatusProtocolError
	}
	if state < tcpActive {
		return nil, StatusNotConnected
	}
	buffer, readOK := s.rxStream.Read()
	if !readOK {
		return nil, StatusRetry
	}
	d.coreTask.Resume()
	return buffer, StatusSuccess
}

// processTickActive runs the main TCP connected state processing.
// Remote disconnection is handled first, once received data has been
// drained; local close requests are deferred behind the receive and
// transmit data paths so queued transfers complete before the
// connection is torn down.
func (s *Socket) processTickActive() kernel.Status {
	taskStatus := kernel.Suspend()
	nextState := s.state.(tcpState)

	switch {

	// Process remote disconnection once all received data has been
	// drained from the device.
	case s.intFlags&sockIntDiscon != 0 && s.intFlags&sockIntRecv == 0:
		nextState = tcpClose
		taskStatus = kernel.RunNow()

	// Start a receive cycle when data is available on the device and
	// there is space to queue it.
	case s.intFlags&sockIntRecv != 0 && s.rxStream.WriteCapacity() > 0:
		if s.bufferStatusRead(sockRegRxStatus) {
			nextState = tcpRxBufferCheck
		}

	// Start a transmit cycle when there is queued data to send, or
	// residual data in the device transmit buffer to flush.
	case s.state == socketState(tcpActive) || s.txStream.ReadCapacity() > 0:
		if s.bufferStatusRead(sockRegTxStatus) {
			nextState = tcpTxBufferCheck
		}

	// Process local close requests as a clean disconnection once the
	// transmit queue has drained.
	case s.intFlags&flagCloseRequest != 0:
		nextState = tcpDisconnect
		taskStatus = kernel.RunNow()
	}

	s.state = nextState
	return taskStatus
}

// bufferStatusRead requests a read of the transmit or receive buffer
// status register block.
func (s *Socket) bufferStatusRead(address uint16) bool {
	t := &transaction{
		address: address,
		control: ctrlSocketRegs(s.id) | ctrlReadEnable,
		size:    6,
	}
	return s.drv.cmdStream.Write(t)
}

// processTickTCP implements one processing cycle of the TCP socket
// state machine.
func (s *Socket) processTickTCP() kernel.Status {
	taskStatus := kernel.RunNow()
	state := s.state.(tcpState)
	nextState := s.state

	switch state {

	// Notify the socket user on initial open.
	case tcpOpen:
		s.sendNotification(NotifyTCPSocketOpened)
		nextState = tcpReady

	// Wait for a connection request or a close request in the idle
	// state.
	case tcpReady:
		if s.intFlags&flagCloseRequest != 0 {
			nextState = tcpClose
		} else {
			taskStatus = kernel.Suspend()
		}

	// A response sequence error is only recoverable by closing the
	// socket.
	case tcpError:
		if s.intFlags&flagCloseRequest != 0 {
			nextState = tcpClose
		} else {
			taskStatus = kernel.Suspend()
		}

	// Shut down the socket, using a clean TCP disconnection for
	// established connections and an immediate close otherwise.
	case tcpClose, tcpDisconnect:
		closeCommand := uint8(sockCmdClose)
		if state == tcpDisconnect {
			closeCommand = sockCmdDisconnect
		}
		if s.issueCommand(closeCommand) {
			s.sendNotification(NotifyTCPSocketClosed)
			nextState = stateClosingStatusRead
		}

	// Set the remote address and port for an outgoing connection.
	case tcpSetRemoteAddr:
		if s.setRemoteAddr() {
			nextState = tcpConnectRequest
		}

	// Issue the TCP connection request command.
	case tcpConnectRequest:
		if s.issueCommand(sockCmdConnect) {
			nextState = tcpConnectWait
			taskStatus = kernel.Suspend()
		}

	// Wait for the connection attempt to resolve via the socket
	// interrupt flags.
	case tcpConnectWait:
		switch {
		case s.intFlags&sockIntTimeout != 0:
			s.sendNotification(NotifyTCPConnectTimeout)
			nextState = tcpReady
		case s.intFlags&sockIntDiscon != 0:
			s.drv.log.Debugf(
				"W5500 socket %d connection refused", s.id)
			nextState = tcpClose
		case s.intFlags&sockIntCon != 0:
			s.drv.log.Debugf("W5500 socket %d connected", s.id)
			s.sendNotification(NotifyTCPConnected)
			nextState = tcpActive
		default:
			taskStatus = kernel.Suspend()
		}
		if !taskStatus.IsSuspend() {
			s.intClear |= sockIntTimeout | sockIntCon | sockIntDiscon
		}

	// Run the main connected state processing.
	case tcpActive, tcpSleeping:
		taskStatus = s.processTickActive()
		nextState = s.state

	// Read the received data window from the device.
	case tcpRxDataBlockRead:
		if s.rxDataBlockRead() {
			nextState = tcpRxDataBlockCheck
			taskStatus = kernel.Suspend()
		}

	// Release the consumed data window back to the device.
	case tcpRxPointerWrite:
		if s.rxPointerWrite() {
			nextState = tcpRxReadConfirm
		}

	// Confirm the receive pointer update to the device.
	case tcpRxReadConfirm:
		if s.issueCommand(sockCmdRecv) {
			nextState = tcpRxDataBlockQueue
		}

	// Queue the received data block for the socket user.
	case tcpRxDataBlockQueue:
		buffer := &netbuf.Buffer{}
		s.payload.MoveTo(buffer)
		if s.rxStream.Write(buffer) {
			nextState = tcpActive
		} else {
			buffer.MoveTo(&s.payload)
		}

	// Accumulate queued transmit buffers into the device transmit
	// window.
	case tcpTxPayloadAppend:
		if s.txDataAppend() {
			nextState = tcpTxPayloadWrite
		} else {
			nextState = tcpTxPointerWrite
		}

	// Copy the staged payload to the device transmit buffer.
	case tcpTxPayloadWrite:
		if s.txDataWrite() {
			nextState = tcpTxPayloadAppend
		}

	// Update the device transmit write pointer.
	case tcpTxPointerWrite:
		if s.txPointerWrite() {
			nextState = tcpTxDataSend
		}

	// Issue the send command for the written data.
	case tcpTxDataSend:
		if s.issueCommand(sockCmdSend) {
			nextState = tcpTxInterruptCheck
			taskStatus = kernel.Suspend()
		}

	// Wait for the send to complete via the socket interrupt flags.
	// TODO: surface send timeouts to the socket user once a suitable
	// retransmission policy has been agreed.
	case tcpTxInterruptCheck:
		switch {
		case s.intFlags&sockIntTimeout != 0:
			nextState = tcpActive
		case s.intFlags&sockIntSendOK != 0:
			nextState = tcpActive
		default:
			taskStatus = kernel.Suspend()
		}
		if !taskStatus.IsSuspend() {
			s.intClear |= sockIntTimeout | sockIntSendOK
		}

	// Wait for an outstanding register read to complete via the
	// socket response handler.
	default:
		taskStatus = kernel.Suspend()
	}

	s.state = nextState
	return taskStatus
}

// processResponseTCP handles response messages for the TCP operating
// phase.
func (s *Socket) processResponseTCP(t *transaction) {
	switch s.state.(tcpState) {

	case tcpRxBufferCheck:
		ok, sequenceError := s.rxBufferCheck(t, 1)
		switch {
		case ok:
			s.state = tcpRxDataBlockRead
		case sequenceError:
			s.state = tcpError
		default:
			s.state = tcpActive
		}

	case tcpRxDataBlockCheck:
		ok, sequenceError := s.rxDataBlockCheck(t)
		switch {
		case ok:
			s.state = tcpRxPointerWrite
		case sequenceError:
			s.state = tcpError
		}

	case tcpTxBufferCheck:
		s.state = s.txBufferCheck(t)
	}

	s.drv.coreTask.Resume()
}

// txBufferCheck processes a transmit buffer status register readback
// and selects the next transmit processing state. Inconsistent
// register snapshots, taken while the device is actively draining the
// buffer, are discarded and re-read.
func (s *Socket) txBufferCheck(t *transaction) tcpState {
	expectedControl := ctrlSocketRegs(s.id) | ctrlReadEnable
	if t.address != sockRegTxStatus ||
		t.control != expectedControl || t.size != 6 {
		return tcpError
	}
	freeSize := uint16(t.inline[0])<<8 | uint16(t.inline[1])
	readPtr := uint16(t.inline[2])<<8 | uint16(t.inline[3])
	writePtr := uint16(t.inline[4])<<8 | uint16(t.inline[5])

	bufferSize := s.drv.socketBufferSize(s.id)
	if writePtr-readPtr != bufferSize-freeSize {
		return tcpActive
	}
	if s.txStream.ReadCapacity() == 0 {
		if writePtr == readPtr {
			return tcpSleeping
		}
		// Residual data in the device buffer from an interrupted
		// send is flushed without appending further payload.
		return tcpTxDataSend
	}
	s.scratch.setWindow(writePtr, writePtr+freeSize)
	return tcpTxPayloadAppend
}
