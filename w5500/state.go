package w5500

// socketState is the socket operating phase and its phase-specific
// processing state, carried together so that invalid combinations
// cannot be represented. The closed phase uses commonState, while the
// UDP and TCP open phases use their own state enumerations.
type socketState interface {
	isSocketState()
}

// commonState enumerates the socket setup and teardown states used
// while the socket is in the closed phase.
type commonState uint8

const (
	stateFree commonState = iota
	stateError
	stateUDPSetPort
	stateUDPSetOpen
	stateUDPOpenStatusRead
	stateUDPOpenStatusCheck
	stateUDPInterruptEnable
	stateTCPSetPort
	stateTCPSetOpen
	stateTCPOpenStatusRead
	stateTCPOpenStatusCheck
	stateTCPInterruptEnable
	stateClosingStatusRead
	stateClosingStatusCheck
	stateClosingInterruptDisable
	stateClosingCleanup
)

func (commonState) isSocketState() {}

// udpState enumerates the socket processing states used while the
// socket is in the UDP open phase.
type udpState uint8

const (
	udpOpen udpState = iota
	udpReady
	udpError
	udpClose
	udpRxBufferCheck
	udpRxDataSizeRead
	udpRxDataSizeCheck
	udpRxDataBlockRead
	udpRxDataBlockCheck
	udpRxPointerWrite
	udpRxReadConfirm
	udpRxPacketQueue
	udpTxBufferCheck
	udpTxSetRemoteAddr
	udpTxPayloadWrite
	udpTxPointerWrite
	udpTxDataSend
	udpTxInterruptCheck
)

func (udpState) isSocketState() {}

// tcpState enumerates the socket processing states used while the
// socket is in the TCP open phase. States from tcpActive onwards imply
// an established connection.
type tcpState uint8

const (
	tcpOpen tcpState = iota
	tcpReady
	tcpError
	tcpClose
	tcpDisconnect
	tcpSetRemoteAddr
	tcpConnectRequest
	tcpConnectWait
	tcpActive
	tcpSleeping
	tcpRxBufferCheck
	tcpRxDataBlockRead
	tcpRxDataBlockCheck
	tcpRxPointerWrite
	tcpRxReadConfirm
	tcpRxDataBlockQueue
	tcpTxBufferCheck
	tcpTxPayloadWrite
	tcpTxPayloadAppend
	tcpTxPointerWrite
	tcpTxDataSend
	tcpTxInterruptCheck
)

func (tcpState) isSocketState() {}

// scratchKind selects the active variant of the socket scratch state.
type scratchKind uint8

const (
	scratchNone scratchKind = iota
	scratchSetup
	scratchWindow
)

// scratch holds transient per-socket working state. During socket
// setup it carries the requested local port number; during a data
// block transfer it carries the active window into the device's
// circular socket memory. The window fields are only meaningful
// within the read or write sequence that set them.
type scratch struct {
	kind      scratchKind
	localPort uint16
	dataPtr   uint16
	limitPtr  uint16
}

func (s *scratch) setSetup(localPort uint16) {
	s.kind = scratchSetup
	s.localPort = localPort
}

func (s *scratch) setup() uint16 {
	if s.kind != scratchSetup {
		panic("w5500: socket scratch state does not hold setup data")
	}
	return s.localPort
}

func (s *scratch) setWindow(dataPtr, limitPtr uint16) {
	s.kind = scratchWindow
	s.dataPtr = dataPtr
	s.limitPtr = limitPtr
}

func (s *scratch) window() (dataPtr, limitPtr uint16) {
	if s.kind != scratchWindow {
		panic("w5500: socket scratch state does not hold an active window")
	}
	return s.dataPtr, s.limitPtr
}

// advance moves the window data pointer forward after writing a block.
func (s *scratch) advance(n uint16) {
	if s.kind != scratchWindow {
		panic("w5500: socket scratch state does not hold an active window")
	}
	s.dataPtr += n
}

// shrink moves the window limit pointer to the supplied value.
func (s *scratch) shrink(limitPtr uint16) {
	if s.kind != scratchWindow {
		panic("w5500: socket scratch state does not hold an active window")
	}
	s.limitPtr = limitPtr
}

func (s *scratch) clear() {
	s.kind = scratchNone
}
