package w5500

import (
	"github.com/zynaptic/w5500go/kernel"
	"github.com/zynaptic/w5500go/netbuf"
)

// Received UDP datagrams are prefixed by the device with an eight
// byte header holding the source IPv4 address, the source port and
// the datagram length.
const udpHeaderSize = 8

// SendTo queues a data buffer for transmission as a single UDP
// datagram to the given remote IPv4 address and port. On success the
// buffer is owned by the socket until it has been copied to the
// device. A retry status indicates that the transmit queue is full
// and the buffer is still owned by the caller. A socket in its
// terminal error state reports a protocol error.
func (s *Socket) SendTo(
	buffer *netbuf.Buffer, remoteAddr [4]byte, remotePort uint16) Status {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()

	state, isUDP := s.state.(udpState)
	if !isUDP {
		return StatusNotOpen
	}
	if state == udpError {
		return StatusProtocolError
	}
	dataSize := buffer.Len()
	if dataSize > int(d.socketBufferSize(s.id)) {
		return StatusOversized
	}

	// The destination address and port are carried as a trailer on
	// the queued buffer and stripped again during transmission.
	buffer.Append(remoteAddr[:]...)
	buffer.Append(uint8(remotePort>>8), uint8(remotePort))
	if !s.txStream.Write(buffer) {
		buffer.Resize(dataSize)
		return StatusRetry
	}
	return StatusSuccess
}

// ReceiveFrom takes the next queued received UDP datagram, together
// with the source IPv4 address and port of the sender. A retry status
// indicates that no received datagram is currently available.
func (s *Socket) ReceiveFrom() (*netbuf.Buffer, [4]byte, uint16, Status) {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()

	var remoteAddr [4]byte
	state, isUDP := s.state.(udpState)
	if !isUDP {
		return nil, remoteAddr, 0, StatusNotOpen
	}
	if state == udpError {
		return nil, remoteAddr, 0, StatusProtocolError
	}
	buffer, readOK := s.rxStream.Read()
	if !readOK {
		return nil, remoteAddr, 0, StatusRetry
	}

	// Strip the device datagram header, extracting the sender
	// address and port.
	var header [udpHeaderSize]byte
	buffer.Read(0, header[:])
	copy(remoteAddr[:], header[0:4])
	remotePort := uint16(header[4])<<8 | uint16(header[5])
	buffer.Rebase(buffer.Len() - udpHeaderSize)
	d.coreTask.Resume()
	return buffer, remoteAddr, remotePort, StatusSuccess
}

// txReadPtrRead requests the current transmit buffer read pointer,
// which gives the start position for the next datagram write.
func (s *Socket) txReadPtrRead() bool {
	t := &transaction{
		address: sockRegTxReadPtr,
		control: ctrlSocketRegs(s.id) | ctrlReadEnable,
		size:    2,
	}
	return s.drv.cmdStream.Write(t)
}

// rxDataSizeRead requests the datagram length field from the device
// datagram header at the start of the receive data window.
func (s *Socket) rxDataSizeRead() bool {
	dataPtr, _ := s.scratch.window()
	t := &transaction{
		address: dataPtr + 6,
		control: ctrlSocketRxBuf(s.id) | ctrlReadEnable,
		size:    2,
	}
	return s.drv.cmdStream.Write(t)
}

// processTickUDP implements one processing cycle of the UDP socket
// state machine.
func (s *Socket) processTickUDP() kernel.Status {
	taskStatus := kernel.RunNow()
	state := s.state.(udpState)
	nextState := s.state

	switch state {

	// Notify the socket user on initial open.
	case udpOpen:
		s.sendNotification(NotifyUDPSocketOpened)
		nextState = udpReady

	// Process received datagrams, queued transmit datagrams and then
	// close requests in the idle state. Queued datagrams complete
	// before a close request is honored.
	case udpReady:
		switch {
		case s.intFlags&sockIntRecv != 0 && s.rxStream.WriteCapacity() > 0:
			if s.bufferStatusRead(sockRegRxStatus) {
				nextState = udpRxBufferCheck
			}
			taskStatus = kernel.Suspend()
		case s.txStream.ReadCapacity() > 0:
			if s.txReadPtrRead() {
				nextState = udpTxBufferCheck
			}
			taskStatus = kernel.Suspend()
		case s.intFlags&flagCloseRequest != 0:
			nextState = udpClose
		default:
			taskStatus = kernel.Suspend()
		}

	// A response sequence error is only recoverable by closing the
	// socket.
	case udpError:
		if s.intFlags&flagCloseRequest != 0 {
			nextState = udpClose
		} else {
			taskStatus = kernel.Suspend()
		}

	// Shut down the socket.
	case udpClose:
		if s.issueCommand(sockCmdClose) {
			s.sendNotification(NotifyUDPSocketClosed)
			nextState = stateClosingStatusRead
		}

	// Read the datagram length field from the device datagram
	// header.
	case udpRxDataSizeRead:
		if s.rxDataSizeRead() {
			nextState = udpRxDataSizeCheck
			taskStatus = kernel.Suspend()
		}

	// Read the datagram and header from the receive data window.
	case udpRxDataBlockRead:
		if s.rxDataBlockRead() {
			nextState = udpRxDataBlockCheck
			taskStatus = kernel.Suspend()
		}

	// Release the consumed data window back to the device.
	case udpRxPointerWrite:
		if s.rxPointerWrite() {
			nextState = udpRxReadConfirm
		}

	// Confirm the receive pointer update to the device.
	case udpRxReadConfirm:
		if s.issueCommand(sockCmdRecv) {
			nextState = udpRxPacketQueue
		}

	// Queue the received datagram for the socket user.
	case udpRxPacketQueue:
		buffer := &netbuf.Buffer{}
		s.payload.MoveTo(buffer)
		if s.rxStream.Write(buffer) {
			nextState = udpReady
		} else {
			buffer.MoveTo(&s.payload)
		}

	// Set the datagram destination address and port.
	case udpTxSetRemoteAddr:
		if s.setRemoteAddr() {
			nextState = udpTxPayloadWrite
		}

	// Copy the datagram payload to the device transmit buffer.
	case udpTxPayloadWrite:
		if s.txDataWrite() {
			nextState = udpTxPointerWrite
		}

	// Update the device transmit write pointer.
	case udpTxPointerWrite:
		if s.txPointerWrite() {
			nextState = udpTxDataSend
		}

	// Issue the send command for the datagram.
	case udpTxDataSend:
		if s.issueCommand(sockCmdSend) {
			nextState = udpTxInterruptCheck
			taskStatus = kernel.Suspend()
		}

	// Wait for the datagram transmission to resolve via the socket
	// interrupt flags. A timeout indicates that the destination
	// failed to respond to ARP requests.
	case udpTxInterruptCheck:
		switch {
		case s.intFlags&sockIntTimeout != 0:
			s.sendNotification(NotifyUDPARPTimeout)
			nextState = udpReady
		case s.intFlags&sockIntSendOK != 0:
			s.sendNotification(NotifyUDPMessageSent)
			nextState = udpReady
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

// processResponseUDP handles response messages for the UDP operating
// phase.
func (s *Socket) processResponseUDP(t *transaction) {
	switch s.state.(udpState) {

	case udpRxBufferCheck:
		ok, sequenceError := s.rxBufferCheck(t, udpHeaderSize)
		switch {
		case ok:
			s.state = udpRxDataSizeRead
		case sequenceError:
			s.state = udpError
		default:
			s.state = udpReady
		}

	case udpRxDataSizeCheck:
		s.state = s.rxDataSizeCheck(t)

	case udpRxDataBlockCheck:
		ok, sequenceError := s.rxDataBlockCheck(t)
		switch {
		case ok:
			s.state = udpRxPointerWrite
		case sequenceError:
			s.state = udpError
		}

	case udpTxBufferCheck:
		s.state = s.txReadPtrCheck(t)
	}

	s.drv.coreTask.Resume()
}

// rxDataSizeCheck processes the datagram length field readback and
// narrows the receive data window to a single datagram. Datagrams
// that have only partially arrived in the device buffer are deferred
// until a later receive cycle.
func (s *Socket) rxDataSizeCheck(t *transaction) udpState {
	dataPtr, limitPtr := s.scratch.window()
	expectedControl := ctrlSocketRxBuf(s.id) | ctrlReadEnable
	if t.address != dataPtr+6 ||
		t.control != expectedControl || t.size != 2 {
		return udpError
	}
	dataRxSize := uint16(t.inline[0])<<8 | uint16(t.inline[1])
	bufRxSize := limitPtr - dataPtr
	s.drv.log.Debugf(
		"W5500 socket %d datagram size %d, buffered %d",
		s.id, dataRxSize, bufRxSize)

	if dataRxSize > bufRxSize-udpHeaderSize {
		return udpReady
	}
	s.scratch.shrink(dataPtr + dataRxSize + udpHeaderSize)
	return udpRxDataBlockRead
}

// txReadPtrCheck processes the transmit buffer read pointer readback
// and starts the transmission of the next queued datagram.
func (s *Socket) txReadPtrCheck(t *transaction) udpState {
	expectedControl := ctrlSocketRegs(s.id) | ctrlReadEnable
	if t.address != sockRegTxReadPtr ||
		t.control != expectedControl || t.size != 2 {
		return udpError
	}
	buffer, readOK := s.txStream.Read()
	if !readOK {
		return udpReady
	}
	buffer.MoveTo(&s.payload)
	bufReadPtr := uint16(t.inline[0])<<8 | uint16(t.inline[1])
	s.scratch.setWindow(bufReadPtr, bufReadPtr)
	return udpTxSetRemoteAddr
}
