// Package simhal provides a behavioural model of the W5500 device
// behind the driver hardware abstraction layer. The model implements
// the register map, socket buffer memories and interrupt generation
// closely enough to exercise the full driver stack without hardware,
// and adds injection hooks for received data, link state changes and
// fault conditions.
package simhal

import (
	"sync"

	"github.com/zynaptic/w5500go/hal"
)

// Socket memory is modelled at the maximum 16K buffer allocation;
// smaller configured buffers wrap within it.
const socketMemSize = 16 * 1024

// Register addresses within the common register block.
const (
	regCommonConfig    = 0x0001
	regCommonIntConfig = 0x0013
	regCommonIntStatus = 0x0015
	regPhyStatus       = 0x002E
	regVersion         = 0x0039
	commonRegCount     = 0x0040
)

// Register addresses within each socket register block.
const (
	sockRegMode       = 0x0000
	sockRegCommand    = 0x0001
	sockRegIntStatus  = 0x0002
	sockRegStatus     = 0x0003
	sockRegBufSize    = 0x001E
	sockRegTxFreeSize = 0x0020
	sockRegTxReadPtr  = 0x0022
	sockRegTxWritePtr = 0x0024
	sockRegRxRecvSize = 0x0026
	sockRegRxReadPtr  = 0x0028
	sockRegRxWritePtr = 0x002A
	sockRegIntMask    = 0x002C
	sockRegCount      = 0x0030
)

// Socket command register values.
const (
	cmdOpen       = 0x01
	cmdConnect    = 0x04
	cmdDisconnect = 0x08
	cmdClose      = 0x10
	cmdSend       = 0x20
	cmdRecv       = 0x40
)

// Socket status register values.
const (
	statusClosed      = 0x00
	statusInitTCP     = 0x13
	statusEstablished = 0x17
	statusUDP         = 0x22
)

// Socket interrupt bit positions.
const (
	intCon     = 0x01
	intDiscon  = 0x02
	intRecv    = 0x04
	intTimeout = 0x08
	intSendOK  = 0x10
)

// ConnectResult selects the modelled outcome of a TCP connection
// attempt.
type ConnectResult int

const (
	// ConnectOK establishes the connection.
	ConnectOK ConnectResult = iota

	// ConnectTimeout reports an unanswered connection attempt.
	ConnectTimeout

	// ConnectRefused reports an active rejection by the remote peer.
	ConnectRefused
)

type modelSocket struct {
	regs [sockRegCount]byte

	txRd, txWr uint16
	rxRd, rxWr uint16

	txMem [socketMemSize]byte
	rxMem [socketMemSize]byte

	connectResult ConnectResult
	sendTimeout   bool
	sentFrames    [][]byte
}

func (s *modelSocket) txBufSize() uint16 {
	return 1024 * uint16(s.regs[sockRegBufSize])
}

func (s *modelSocket) rxBufSize() uint16 {
	return 1024 * uint16(s.regs[sockRegBufSize+1])
}

// Model is a behavioural W5500 simulation implementing the driver
// hardware abstraction interfaces. All public methods are safe for
// concurrent use.
type Model struct {
	mu sync.Mutex

	common  [commonRegCount]byte
	sockets [8]modelSocket

	phyStatus uint8

	selected    bool
	frameHeader [3]byte
	headerLen   int
	frameOffset uint16

	asyncBuf   []byte
	asyncRead  bool
	asyncValid bool
	notify     func()

	intHandler func()
	intEnabled bool

	corruptConfig bool
	failAfter     int
}

// NewModel creates a device model with the physical link initially
// established at 100 Mbps full duplex.
func NewModel() *Model {
	m := &Model{}
	m.powerOnReset()
	return m
}

func (m *Model) powerOnReset() {
	m.common = [commonRegCount]byte{}
	m.common[regVersion] = 0x04
	for i := range m.sockets {
		s := &m.sockets[i]
		*s = modelSocket{
			connectResult: s.connectResult,
			sendTimeout:   s.sendTimeout,
		}
		s.regs[sockRegBufSize] = 2
		s.regs[sockRegBufSize+1] = 2
	}
	m.phyStatus = 0x07
}

// ---------------------------------------------------------------------------
// hal.Device implementation.

// Select asserts chip select and starts a new transaction frame.
func (m *Model) Select() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected {
		return false
	}
	m.selected = true
	m.headerLen = 0
	m.frameOffset = 0
	return true
}

// Release deasserts chip select.
func (m *Model) Release() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = false
	return true
}

// ---------------------------------------------------------------------------
// hal.Bus implementation.

func (m *Model) faulted() bool {
	if m.failAfter == 0 {
		return false
	}
	if m.failAfter > 1 {
		m.failAfter--
		return false
	}
	return true
}

// InlineWrite transfers a short data block to the model.
func (m *Model) InlineWrite(p []byte) hal.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.selected || m.faulted() {
		return hal.StatusFailed
	}
	m.writeBytes(p)
	return hal.StatusOK
}

// InlineRead fills a short data block from the model.
func (m *Model) InlineRead(p []byte) hal.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.selected || m.faulted() {
		return hal.StatusFailed
	}
	m.readBytes(p)
	return hal.StatusOK
}

// StartWrite initiates an asynchronous write, which the model
// completes immediately.
func (m *Model) StartWrite(p []byte) bool {
	m.mu.Lock()
	if m.asyncValid {
		m.mu.Unlock()
		return false
	}
	m.asyncBuf = p
	m.asyncRead = false
	m.asyncValid = true
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}

// StartRead initiates an asynchronous read, which the model completes
// immediately.
func (m *Model) StartRead(p []byte) bool {
	m.mu.Lock()
	if m.asyncValid {
		m.mu.Unlock()
		return false
	}
	m.asyncBuf = p
	m.asyncRead = true
	m.asyncValid = true
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}

// Complete finalises an asynchronous transfer.
func (m *Model) Complete() hal.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.asyncValid {
		return hal.StatusFailed
	}
	m.asyncValid = false
	if !m.selected || m.faulted() {
		return hal.StatusFailed
	}
	if m.asyncRead {
		m.readBytes(m.asyncBuf)
	} else {
		m.writeBytes(m.asyncBuf)
	}
	m.asyncBuf = nil
	return hal.StatusOK
}

// SetNotify registers the asynchronous transfer completion callback,
// implementing the optional bus notifier interface.
func (m *Model) SetNotify(fn func()) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// GPIO pin adapters.

type resetPin struct {
	m *Model
}

// ResetPin returns the device hardware reset line adapter. Driving
// the line high releases the model from reset, reinitialising the
// register map.
func (m *Model) ResetPin() hal.OutputPin {
	return &resetPin{m: m}
}

func (p *resetPin) SetState(high bool) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if high {
		p.m.powerOnReset()
	}
}

type interruptPin struct {
	m *Model
}

// InterruptPin returns the device interrupt request line adapter.
func (m *Model) InterruptPin() hal.InterruptPin {
	return &interruptPin{m: m}
}

func (p *interruptPin) SetHandler(fn func()) {
	p.m.mu.Lock()
	p.m.intHandler = fn
	p.m.mu.Unlock()
}

func (p *interruptPin) Enable(rising, falling bool) {
	p.m.mu.Lock()
	p.m.intEnabled = rising || falling
	p.m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Frame decoding.

// writeBytes consumes transferred bytes, first filling the three byte
// transaction header and then applying payload writes at the decoded
// address with automatic address increment.
func (m *Model) writeBytes(p []byte) {
	for _, b := range p {
		if m.headerLen < 3 {
			m.frameHeader[m.headerLen] = b
			m.headerLen++
			continue
		}
		m.writeLocation(m.frameOffset, b)
		m.frameOffset++
	}
}

// readBytes fills the supplied slice from the decoded address with
// automatic address increment.
func (m *Model) readBytes(p []byte) {
	for i := range p {
		p[i] = m.readLocation(m.frameOffset)
		m.frameOffset++
	}
}

func (m *Model) frameAddress() uint16 {
	return uint16(m.frameHeader[0])<<8 | uint16(m.frameHeader[1])
}

// decodeBlock splits the control byte block selector into a socket
// index and a block kind: 0 for registers, 1 for the transmit buffer
// and 2 for the receive buffer. A negative socket index selects the
// common register block.
func (m *Model) decodeBlock() (socketID, kind int) {
	block := m.frameHeader[2] >> 3
	if block == 0 {
		return -1, 0
	}
	return int(block >> 2), int(block&0x03) - 1
}

func (m *Model) writeLocation(offset uint16, b byte) {
	addr := m.frameAddress() + offset
	socketID, kind := m.decodeBlock()
	if socketID < 0 {
		if int(addr) < commonRegCount && addr != regVersion {
			m.common[addr] = b
		}
		return
	}
	s := &m.sockets[socketID]
	switch kind {
	case 0:
		m.writeSocketReg(socketID, s, addr, b)
	case 1:
		if s.txBufSize() > 0 {
			s.txMem[addr%s.txBufSize()] = b
		}
	}
}

func (m *Model) readLocation(offset uint16) byte {
	addr := m.frameAddress() + offset
	socketID, kind := m.decodeBlock()
	if socketID < 0 {
		return m.readCommonReg(addr)
	}
	s := &m.sockets[socketID]
	switch kind {
	case 0:
		return m.readSocketReg(s, addr)
	case 2:
		if s.rxBufSize() > 0 {
			return s.rxMem[addr%s.rxBufSize()]
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Common register block.

func (m *Model) readCommonReg(addr uint16) byte {
	switch {
	case addr == regPhyStatus:
		return m.phyStatus

	case addr == regCommonIntStatus+2:
		// Socket interrupt pending summary.
		var pending uint8
		for i := range m.sockets {
			s := &m.sockets[i]
			if s.regs[sockRegIntStatus]&s.regs[sockRegIntMask] != 0 {
				pending |= 1 << i
			}
		}
		return pending

	case m.corruptConfig && addr == regCommonConfig:
		return m.common[addr] ^ 0xFF

	case int(addr) < commonRegCount:
		return m.common[addr]
	}
	return 0
}

// ---------------------------------------------------------------------------
// Socket register block.

func (m *Model) writeSocketReg(
	socketID int, s *modelSocket, addr uint16, b byte) {
	switch addr {
	case sockRegCommand:
		m.execCommand(socketID, s, b)
	case sockRegIntStatus:
		s.regs[sockRegIntStatus] &^= b
	case sockRegTxReadPtr, sockRegTxReadPtr + 1,
		sockRegRxWritePtr, sockRegRxWritePtr + 1:
		// Hardware managed pointers ignore writes.
	case sockRegTxWritePtr:
		s.txWr = s.txWr&0x00FF | uint16(b)<<8
	case sockRegTxWritePtr + 1:
		s.txWr = s.txWr&0xFF00 | uint16(b)
	case sockRegRxReadPtr:
		s.rxRd = s.rxRd&0x00FF | uint16(b)<<8
	case sockRegRxReadPtr + 1:
		s.rxRd = s.rxRd&0xFF00 | uint16(b)
	default:
		if int(addr) < sockRegCount {
			s.regs[addr] = b
		}
	}
}

func (m *Model) readSocketReg(s *modelSocket, addr uint16) byte {
	switch addr {
	case sockRegTxFreeSize:
		return uint8((s.txBufSize() - (s.txWr - s.txRd)) >> 8)
	case sockRegTxFreeSize + 1:
		return uint8(s.txBufSize() - (s.txWr - s.txRd))
	case sockRegTxReadPtr:
		return uint8(s.txRd >> 8)
	case sockRegTxReadPtr + 1:
		return uint8(s.txRd)
	case sockRegTxWritePtr:
		return uint8(s.txWr >> 8)
	case sockRegTxWritePtr + 1:
		return uint8(s.txWr)
	case sockRegRxRecvSize:
		return uint8((s.rxWr - s.rxRd) >> 8)
	case sockRegRxRecvSize + 1:
		return uint8(s.rxWr - s.rxRd)
	case sockRegRxReadPtr:
		return uint8(s.rxRd >> 8)
	case sockRegRxReadPtr + 1:
		return uint8(s.rxRd)
	case sockRegRxWritePtr:
		return uint8(s.rxWr >> 8)
	case sockRegRxWritePtr + 1:
		return uint8(s.rxWr)
	default:
		if int(addr) < sockRegCount {
			return s.regs[addr]
		}
	}
	return 0
}

func (m *Model) execCommand(socketID int, s *modelSocket, command byte) {
	switch command {
	case cmdOpen:
		s.txRd, s.txWr, s.rxRd, s.rxWr = 0, 0, 0, 0
		switch s.regs[sockRegMode] {
		case 0x01:
			s.regs[sockRegStatus] = statusInitTCP
		case 0x02:
			s.regs[sockRegStatus] = statusUDP
		default:
			s.regs[sockRegStatus] = statusClosed
		}

	case cmdClose, cmdDisconnect:
		s.regs[sockRegStatus] = statusClosed

	case cmdConnect:
		switch s.connectResult {
		case ConnectTimeout:
			m.raiseInt(socketID, intTimeout)
		case ConnectRefused:
			s.regs[sockRegStatus] = statusClosed
			m.raiseInt(socketID, intDiscon)
		default:
			s.regs[sockRegStatus] = statusEstablished
			m.raiseInt(socketID, intCon)
		}

	case cmdSend:
		frame := make([]byte, s.txWr-s.txRd)
		for i := range frame {
			frame[i] = s.txMem[(s.txRd+uint16(i))%s.txBufSize()]
		}
		s.txRd = s.txWr
		s.sentFrames = append(s.sentFrames, frame)
		if s.sendTimeout {
			m.raiseInt(socketID, intTimeout)
		} else {
			m.raiseInt(socketID, intSendOK)
		}

	case cmdRecv:
		// Undelivered data re-arms the receive interrupt.
		if s.rxWr != s.rxRd {
			m.raiseInt(socketID, intRecv)
		}
	}
}

// raiseInt latches a socket interrupt flag and signals the interrupt
// line when the flag is unmasked. The handler only sets event flags,
// so it is safe to invoke with the model lock held.
func (m *Model) raiseInt(socketID int, flag uint8) {
	s := &m.sockets[socketID]
	s.regs[sockRegIntStatus] |= flag
	if s.regs[sockRegIntMask]&flag == 0 || !m.intEnabled {
		return
	}
	if m.intHandler != nil {
		m.intHandler()
	}
}

// ---------------------------------------------------------------------------
// Test injection hooks.

// SetPhyStatus overrides the PHY status register contents, modelling
// cable plug and unplug events. Link changes are observed by the
// driver's polling rather than by interrupt.
func (m *Model) SetPhyStatus(status uint8) {
	m.mu.Lock()
	m.phyStatus = status
	m.mu.Unlock()
}

// SetConnectResult selects the outcome of subsequent TCP connection
// attempts on the given socket.
func (m *Model) SetConnectResult(socketID int, result ConnectResult) {
	m.mu.Lock()
	m.sockets[socketID].connectResult = result
	m.mu.Unlock()
}

// SetSendTimeout makes subsequent send commands on the given socket
// report a retransmission timeout instead of completing.
func (m *Model) SetSendTimeout(socketID int, timeout bool) {
	m.mu.Lock()
	m.sockets[socketID].sendTimeout = timeout
	m.mu.Unlock()
}

// SetCorruptConfig makes common configuration readbacks return a
// corrupted first byte, modelling a wiring level fault.
func (m *Model) SetCorruptConfig(corrupt bool) {
	m.mu.Lock()
	m.corruptConfig = corrupt
	m.mu.Unlock()
}

// FailAfter makes the bus fail permanently after n further transfer
// calls.
func (m *Model) FailAfter(n int) {
	m.mu.Lock()
	m.failAfter = n + 1
	m.mu.Unlock()
}

// SentFrames returns the payloads captured from completed send
// commands on the given socket, in order of transmission.
func (m *Model) SentFrames(socketID int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([][]byte, len(m.sockets[socketID].sentFrames))
	copy(frames, m.sockets[socketID].sentFrames)
	return frames
}

// SocketStatus returns the current socket status register contents.
func (m *Model) SocketStatus(socketID int) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sockets[socketID].regs[sockRegStatus]
}

// SocketBufConfig returns the configured transmit and receive buffer
// sizes for the given socket, in kilobytes.
func (m *Model) SocketBufConfig(socketID int) (txKB, rxKB uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.sockets[socketID]
	return s.regs[sockRegBufSize], s.regs[sockRegBufSize+1]
}

// InjectRawRx appends raw bytes to the socket receive buffer and
// raises the receive interrupt, modelling data arriving from the
// network. For UDP sockets the bytes must include the device datagram
// framing; BuildUDPPacket formats it.
func (m *Model) InjectRawRx(socketID int, data []byte) {
	m.mu.Lock()
	s := &m.sockets[socketID]
	for i, b := range data {
		s.rxMem[(s.rxWr+uint16(i))%s.rxBufSize()] = b
	}
	s.rxWr += uint16(len(data))
	m.raiseInt(socketID, intRecv)
	m.mu.Unlock()
}

// InjectTCPData models a received TCP data segment.
func (m *Model) InjectTCPData(socketID int, data []byte) {
	m.InjectRawRx(socketID, data)
}

// InjectUDPDatagram models a fully received UDP datagram from the
// given source address and port.
func (m *Model) InjectUDPDatagram(
	socketID int, srcAddr [4]byte, srcPort uint16, data []byte) {
	m.InjectRawRx(socketID, BuildUDPPacket(srcAddr, srcPort, data))
}

// InjectRemoteClose models the remote peer closing an established TCP
// connection.
func (m *Model) InjectRemoteClose(socketID int) {
	m.mu.Lock()
	m.raiseInt(socketID, intDiscon)
	m.mu.Unlock()
}

// BuildUDPPacket formats a received datagram with the device header
// framing: source address, source port and payload length, followed
// by the payload itself.
func BuildUDPPacket(srcAddr [4]byte, srcPort uint16, data []byte) []byte {
	packet := make([]byte, 0, 8+len(data))
	packet = append(packet, srcAddr[:]...)
	packet = append(packet,
		uint8(srcPort>>8), uint8(srcPort),
		uint8(len(data)>>8), uint8(len(data)))
	return append(packet, data...)
}
