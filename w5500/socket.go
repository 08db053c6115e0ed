package w5500

import (
	"github.com/zynaptic/w5500go/kernel"
	"github.com/zynaptic/w5500go/netbuf"
)

// Depth of the per-socket transmit and receive streams, expressed as
// a number of queued payload buffers.
const socketStreamSize = 8

// Socket is one hardware socket on the device. Sockets are created in
// the free state at driver initialisation and claimed by OpenUDP or
// OpenTCP; they return to the free state once the close sequence has
// completed its cleanup.
type Socket struct {
	drv *Driver
	id  uint8

	state    socketState
	intFlags uint8
	intClear uint8
	scratch  scratch

	txStream *kernel.Stream[*netbuf.Buffer]
	rxStream *kernel.Stream[*netbuf.Buffer]
	payload  netbuf.Buffer

	notify NotifyFunc
}

func newSocket(d *Driver, id uint8) *Socket {
	s := &Socket{
		drv:   d,
		id:    id,
		state: stateFree,
	}
	// The transmit stream is consumed by the core worker task. The
	// receive stream consumer is assigned when the socket is opened.
	s.txStream = kernel.NewStream[*netbuf.Buffer](socketStreamSize)
	s.txStream.SetConsumer(d.coreTask)
	s.rxStream = kernel.NewStream[*netbuf.Buffer](socketStreamSize)
	return s
}

// ID returns the hardware socket number.
func (s *Socket) ID() int {
	return int(s.id)
}

// BufferSize returns the transmit and receive buffer size in bytes
// allocated to the socket on the device.
func (s *Socket) BufferSize() int {
	return int(s.drv.socketBufferSize(s.id))
}

// OpenUDP attempts to claim a free socket for UDP transfers on the
// given local port. UDP sockets are allocated from the high numbered
// end of the socket table so that the smaller buffers are used for
// datagram traffic. A nil socket is returned if the physical link is
// down or no free socket is available. The optional consumer task is
// resumed whenever a received datagram is queued; the optional notify
// handler receives socket status events.
func (d *Driver) OpenUDP(
	localPort uint16, consumer *kernel.Task, notify NotifyFunc) *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.phyUp {
		return nil
	}
	for i := d.maxSockets - 1; i >= 0; i-- {
		s := d.sockets[i]
		if s.state == socketState(stateFree) {
			s.open(stateUDPSetPort, localPort, consumer, notify)
			return s
		}
	}
	return nil
}

// OpenTCP attempts to claim a free socket for TCP transfers on the
// given local port. TCP sockets are allocated from the low numbered
// end of the socket table so that the larger buffers are used for
// stream traffic. A nil socket is returned if the physical link is
// down or no free socket is available.
func (d *Driver) OpenTCP(
	localPort uint16, consumer *kernel.Task, notify NotifyFunc) *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.phyUp {
		return nil
	}
	for i := 0; i < d.maxSockets; i++ {
		s := d.sockets[i]
		if s.state == socketState(stateFree) {
			s.open(stateTCPSetPort, localPort, consumer, notify)
			return s
		}
	}
	return nil
}

func (s *Socket) open(
	first commonState, localPort uint16,
	consumer *kernel.Task, notify NotifyFunc) {
	s.scratch.setSetup(localPort)
	s.state = first
	s.notify = notify
	s.rxStream.SetConsumer(consumer)
	s.drv.coreTask.Resume()
}

// Close requests a clean shutdown of the socket. The request is
// recorded as a pending flag and honored at the next safe checkpoint,
// so an in-flight hardware command always completes first.
func (s *Socket) Close() Status {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()

	switch s.state.(type) {
	case udpState, tcpState:
		s.intFlags |= flagCloseRequest
		d.coreTask.Resume()
		return StatusSuccess
	default:
		return StatusNotOpen
	}
}

// sendNotification queues a socket status notification for delivery
// at the end of the current processing step.
func (s *Socket) sendNotification(event Notification) {
	s.drv.queueNotify(s.notify, event)
}

// setPort writes the local source port registers when opening a new
// socket.
func (s *Socket) setPort() bool {
	localPort := s.scratch.setup()
	t := &transaction{
		address: sockRegSourcePort,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(uint8(localPort>>8), uint8(localPort))
	return s.drv.cmdStream.Write(t)
}

// setOpen writes the socket protocol mode and then issues the open
// command, as a single two byte register write.
func (s *Socket) setOpen(isTCP bool) bool {
	mode := uint8(sockModeUDP)
	if isTCP {
		mode = sockModeTCP
	}
	t := &transaction{
		address: sockRegMode,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(mode, sockCmdOpen)
	return s.drv.cmdStream.Write(t)
}

// statusRead requests the contents of the socket status register.
func (s *Socket) statusRead() bool {
	t := &transaction{
		address: sockRegStatus,
		control: ctrlSocketRegs(s.id) | ctrlReadEnable,
		size:    1,
	}
	return s.drv.cmdStream.Write(t)
}

// statusCheck checks the socket status register readback against the
// expected status value.
func (s *Socket) statusCheck(
	t *transaction, expectedStatus uint8) (ok, sequenceError bool) {
	expectedControl := ctrlSocketRegs(s.id) | ctrlReadEnable
	if t.address != sockRegStatus ||
		t.control != expectedControl || t.size != 1 {
		return false, true
	}
	return t.inline[0] == expectedStatus, false
}

// interruptEnable writes the socket interrupt mask register. UDP
// sockets do not require the connection handling interrupts.
func (s *Socket) interruptEnable(isTCP, enabled bool) bool {
	var intEnables uint8
	switch {
	case !enabled:
		intEnables = 0
		s.intClear = 0xFF
	case isTCP:
		intEnables = sockIntCon | sockIntDiscon |
			sockIntRecv | sockIntTimeout | sockIntSendOK
		s.intFlags = 0
		s.intClear = 0
	default:
		intEnables = sockIntRecv | sockIntTimeout | sockIntSendOK
		s.intFlags = 0
		s.intClear = 0
	}

	t := &transaction{
		address: sockRegIntMask,
		control: ctrlSocketRegs(s.id) | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(intEnables)
	return s.drv.cmdStream.Write(t)
}

// interruptClearPending issues a write to the socket interrupt clear
// register for any pending hardware interrupt bits, then drops the
// matching locally latched flags. Software only flags are dropped
// without a hardware access.
func (s *Socket) interruptClearPending() {
	if s.intClear&sockIntHwMask != 0 {
		t := &transaction{
			address: sockRegIntStatus,
			control: ctrlSocketRegs(s.id) |
				ctrlWriteEnable | ctrlDiscardResponse,
		}
		t.setInline(s.intClear & sockIntHwMask)
		if s.drv.cmdStream.Write(t) {
			s.intFlags &^= s.intClear
			s.intClear = 0
		}
	} else {
		s.intFlags &^= s.intClear
		s.intClear = 0
	}
}

// cleanup releases all socket resources after closing: the staged
// payload buffer, all queued transmit and receive buffers, and the
// notification callback.
func (s *Socket) cleanup() {
	s.payload.Reset()
	for _, b := range s.txStream.Drain() {
		b.Reset()
	}
	for _, b := range s.rxStream.Drain() {
		b.Reset()
	}
	s.scratch.clear()
	s.notify = nil
	s.rxStream.SetConsumer(nil)
}

// processTickCommon implements the socket setup and teardown state
// machine used while the socket is in the closed phase.
func (s *Socket) processTickCommon() kernel.Status {
	taskStatus := kernel.RunNow()
	state := s.state.(commonState)
	nextState := s.state

	switch state {

	// Suspend further processing in the free state.
	case stateFree:
		taskStatus = kernel.Suspend()

	// Set the local source port for all sockets.
	case stateTCPSetPort:
		if s.setPort() {
			nextState = stateTCPSetOpen
		}
	case stateUDPSetPort:
		if s.setPort() {
			nextState = stateUDPSetOpen
		}

	// Send the command to open the socket on the device.
	case stateTCPSetOpen:
		if s.setOpen(true) {
			nextState = stateTCPOpenStatusRead
		}
	case stateUDPSetOpen:
		if s.setOpen(false) {
			nextState = stateUDPOpenStatusRead
		}

	// Issue a read request for the socket status register.
	case stateTCPOpenStatusRead:
		if s.statusRead() {
			nextState = stateTCPOpenStatusCheck
			taskStatus = kernel.Suspend()
		}
	case stateUDPOpenStatusRead:
		if s.statusRead() {
			nextState = stateUDPOpenStatusCheck
			taskStatus = kernel.Suspend()
		}

	// Wait for the socket status register read to complete via the
	// socket response handler.
	case stateTCPOpenStatusCheck, stateUDPOpenStatusCheck:
		taskStatus = kernel.Suspend()

	// Set the required interrupt enable flags and enter the
	// protocol specific open phase.
	case stateTCPInterruptEnable:
		if s.interruptEnable(true, true) {
			s.scratch.clear()
			nextState = tcpOpen
			s.drv.log.Debugf("W5500 socket %d opened for TCP", s.id)
		}
	case stateUDPInterruptEnable:
		if s.interruptEnable(false, true) {
			s.scratch.clear()
			nextState = udpOpen
			s.drv.log.Debugf("W5500 socket %d opened for UDP", s.id)
		}

	// Request the socket status while processing a close request.
	case stateClosingStatusRead:
		if s.statusRead() {
			nextState = stateClosingStatusCheck
			taskStatus = kernel.Suspend()
		}

	// Wait for the socket status register read to complete via the
	// socket response handler.
	case stateClosingStatusCheck:
		taskStatus = kernel.Suspend()

	// Disable further interrupts for this socket.
	case stateClosingInterruptDisable:
		if s.interruptEnable(false, false) {
			nextState = stateClosingCleanup
		}

	// Perform socket cleanup, releasing any allocated resources.
	case stateClosingCleanup:
		s.cleanup()
		nextState = stateFree
		s.drv.log.Debugf("W5500 socket %d closed", s.id)

	// A response sequence error leaves the socket in a local
	// terminal error state, recoverable only by the application
	// closing and reopening the socket.
	default:
		taskStatus = kernel.Suspend()
	}

	s.state = nextState
	return taskStatus
}

// processResponseCommon handles response messages while the socket is
// in the closed phase. The open and close status polls repeat until
// the device reports the expected status value.
func (s *Socket) processResponseCommon(t *transaction) {
	resumeProcessing := false

	switch state := s.state.(commonState); state {

	case stateTCPOpenStatusCheck, stateUDPOpenStatusCheck:
		expectedStatus := uint8(sockStatusUDP)
		if state == stateTCPOpenStatusCheck {
			expectedStatus = sockStatusInitTCP
		}
		ok, sequenceError := s.statusCheck(t, expectedStatus)
		switch {
		case ok && state == stateTCPOpenStatusCheck:
			s.state = stateTCPInterruptEnable
		case ok:
			s.state = stateUDPInterruptEnable
		case sequenceError:
			s.state = stateError
		case state == stateTCPOpenStatusCheck:
			s.state = stateTCPOpenStatusRead
		default:
			s.state = stateUDPOpenStatusRead
		}
		resumeProcessing = true

	case stateClosingStatusCheck:
		ok, sequenceError := s.statusCheck(t, sockStatusClosed)
		switch {
		case ok:
			s.state = stateClosingInterruptDisable
		case sequenceError:
			s.state = stateError
		default:
			s.state = stateClosingStatusRead
		}
		resumeProcessing = true
	}

	if resumeProcessing {
		s.drv.coreTask.Resume()
	}
}

// processTick implements one socket processing cycle. Clearing
// latched interrupts takes priority over all other actions.
func (s *Socket) processTick() kernel.Status {
	if s.intClear != 0 {
		s.interruptClearPending()
		return kernel.RunNow()
	}

	switch s.state.(type) {
	case udpState:
		return s.processTickUDP()
	case tcpState:
		return s.processTickTCP()
	default:
		return s.processTickCommon()
	}
}

// processResponse handles all response messages addressed to this
// socket. Interrupt events arrive as asynchronous reads of the socket
// interrupt status register and are latched for the next processing
// tick; all other responses are routed by the current operating
// phase.
func (s *Socket) processResponse(t *transaction) {
	if t.address == sockRegIntStatus && t.size == 2 {
		s.drv.log.Debugf(
			"W5500 socket %d interrupts 0x%02X, status 0x%02X",
			s.id, t.inline[0], t.inline[1])
		s.intFlags |= t.inline[0]
		s.drv.coreTask.Resume()
		return
	}

	switch s.state.(type) {
	case udpState:
		s.processResponseUDP(t)
	case tcpState:
		s.processResponseTCP(t)
	default:
		s.processResponseCommon(t)
	}
}
