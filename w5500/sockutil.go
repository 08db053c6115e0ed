package w5500

// Common data path operations shared by the TCP and UDP socket state
// machines.

// issueCommand writes a single command code to the socket command
// register.
func (s *Socket) issueCommand(command uint8) bool {
	t := &transaction{
		address: sockRegCommand,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(command)
	return s.drv.cmdStream.Write(t)
}

// setRemoteAddr writes the remote IPv4 address and port registers
// from the trailing six bytes of the staged payload buffer, then
// strips them from the payload.
func (s *Socket) setRemoteAddr() bool {
	payloadLen := s.payload.Len()
	var addrBytes [6]byte
	if !s.payload.Read(payloadLen-6, addrBytes[:]) {
		return false
	}
	t := &transaction{
		address: sockRegRemoteAddr,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(addrBytes[:]...)
	if !s.drv.cmdStream.Write(t) {
		return false
	}
	s.payload.Resize(payloadLen - 6)
	return true
}

// rxBufferCheck processes a receive buffer status register readback,
// capturing the valid data window in the socket scratch area. The
// threshold gives the minimum amount of buffered data that is worth
// processing. Stale receive interrupts are cleared when the buffer is
// empty.
func (s *Socket) rxBufferCheck(
	t *transaction, threshold uint16) (ok, sequenceError bool) {
	expectedControl := ctrlSocketRegs(s.id) | ctrlReadEnable
	if t.address != sockRegRxStatus ||
		t.control != expectedControl || t.size != 6 {
		return false, true
	}
	dataSize := uint16(t.inline[0])<<8 | uint16(t.inline[1])
	readPtr := uint16(t.inline[2])<<8 | uint16(t.inline[3])
	writePtr := uint16(t.inline[4])<<8 | uint16(t.inline[5])

	// Only process the buffer contents once the device reports a
	// stable data window of at least the threshold size.
	if dataSize >= threshold && writePtr-readPtr == dataSize {
		s.scratch.setWindow(readPtr, writePtr)
		return true, false
	}
	if dataSize == 0 {
		s.intClear |= sockIntRecv
	}
	return false, false
}

// rxDataBlockRead requests a read of the current receive data window
// from the socket receive buffer.
func (s *Socket) rxDataBlockRead() bool {
	dataPtr, limitPtr := s.scratch.window()
	t := &transaction{
		address: dataPtr,
		control: ctrlSocketRxBuf(s.id) | ctrlReadEnable,
	}
	t.data.Resize(int(limitPtr - dataPtr))
	return s.drv.cmdStream.Write(t)
}

// rxDataBlockCheck validates a receive buffer data block response and
// transfers the received data to the staged payload buffer.
func (s *Socket) rxDataBlockCheck(t *transaction) (ok, sequenceError bool) {
	dataPtr, _ := s.scratch.window()
	expectedControl := ctrlSocketRxBuf(s.id) | ctrlReadEnable
	if t.address != dataPtr || t.control != expectedControl || t.size != 0 {
		return false, true
	}
	t.data.MoveTo(&s.payload)
	return true, false
}

// rxPointerWrite updates the receive buffer read pointer register to
// the end of the consumed data window.
func (s *Socket) rxPointerWrite() bool {
	_, limitPtr := s.scratch.window()
	t := &transaction{
		address: sockRegRxReadPtr,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(uint8(limitPtr>>8), uint8(limitPtr))
	return s.drv.cmdStream.Write(t)
}

// txDataAppend accepts the next queued transmit buffer into the
// staged payload if it fits in the remaining transmit window. Buffers
// that would overflow the window are pushed back for the next send
// cycle.
func (s *Socket) txDataAppend() bool {
	buffer, readOK := s.txStream.Read()
	if !readOK {
		return false
	}
	dataPtr, limitPtr := s.scratch.window()
	windowSize := int(limitPtr - dataPtr)
	if s.payload.Len()+buffer.Len() > windowSize {
		s.txStream.PushBack(buffer)
		return false
	}
	buffer.MoveTo(&s.payload)
	return true
}

// txDataWrite moves the staged payload into the socket transmit
// buffer at the current write position. On stream contention the
// payload is retained for a later retry.
func (s *Socket) txDataWrite() bool {
	payloadSize := uint16(s.payload.Len())
	dataPtr, _ := s.scratch.window()
	t := &transaction{
		address: dataPtr,
		control: ctrlSocketTxBuf(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	s.payload.MoveTo(&t.data)
	if !s.drv.cmdStream.Write(t) {
		t.data.MoveTo(&s.payload)
		return false
	}
	s.scratch.advance(payloadSize)
	return true
}

// txPointerWrite updates the transmit buffer write pointer register
// to the end of the written data.
func (s *Socket) txPointerWrite() bool {
	dataPtr, _ := s.scratch.window()
	t := &transaction{
		address: sockRegTxWritePtr,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(uint8(dataPtr>>8), uint8(dataPtr))
	return s.drv.cmdStream.Write(t)
}
