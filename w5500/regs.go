package w5500

import "time"

// The expected contents of the device version register.
const deviceVersion = 0x04

// Control byte fields for the three byte transaction header. The
// discard response flag is locally significant only and is masked off
// before the control byte is placed on the wire.
const (
	ctrlDiscardResponse = 0x01
	ctrlReadEnable      = 0x00
	ctrlWriteEnable     = 0x04
	ctrlCommonRegs      = 0x00
	ctrlDataModeMask    = 0xFC
)

// ctrlSocketRegs selects the register block for the given socket.
func ctrlSocketRegs(socketID uint8) uint8 {
	return (socketID << 5) + 0x08
}

// ctrlSocketTxBuf selects the transmit buffer for the given socket.
func ctrlSocketTxBuf(socketID uint8) uint8 {
	return (socketID << 5) + 0x10
}

// ctrlSocketRxBuf selects the receive buffer for the given socket.
func ctrlSocketRxBuf(socketID uint8) uint8 {
	return (socketID << 5) + 0x18
}

// Common register block addresses.
const (
	regCommonConfig    = 0x0001
	regCommonIntConfig = 0x0013
	regCommonIntStatus = 0x0015
	regPhyStatus       = 0x002E
	regVersion         = 0x0039
)

// Socket register block addresses.
const (
	sockRegMode       = 0x0000
	sockRegCommand    = 0x0001
	sockRegIntStatus  = 0x0002
	sockRegStatus     = 0x0003
	sockRegSourcePort = 0x0004
	sockRegRemoteAddr = 0x000C
	sockRegBufSize    = 0x001E
	sockRegTxStatus   = 0x0020
	sockRegTxReadPtr  = 0x0022
	sockRegTxWritePtr = 0x0024
	sockRegRxStatus   = 0x0026
	sockRegRxReadPtr  = 0x0028
	sockRegIntMask    = 0x002C
)

// Socket mode register protocol settings.
const (
	sockModeTCP = 0x01
	sockModeUDP = 0x02
)

// Socket command register values.
const (
	sockCmdOpen       = 0x01
	sockCmdConnect    = 0x04
	sockCmdDisconnect = 0x08
	sockCmdClose      = 0x10
	sockCmdSend       = 0x20
	sockCmdRecv       = 0x40
)

// Socket status register values.
const (
	sockStatusClosed  = 0x00
	sockStatusInitTCP = 0x13
	sockStatusUDP     = 0x22
)

// Socket interrupt bit positions, plus the locally significant close
// request flag which shares the interrupt flag byte but never reaches
// the hardware.
const (
	sockIntCon       = 0x01
	sockIntDiscon    = 0x02
	sockIntRecv      = 0x04
	sockIntTimeout   = 0x08
	sockIntSendOK    = 0x10
	sockIntHwMask    = 0x1F
	flagCloseRequest = 0x80
)

// PHY status register bit positions.
const (
	phyLinkUp     = 0x01
	phySpeed100M  = 0x02
	phyFullDuplex = 0x04
)

// The interrupt interval low level timer setting, which allows the
// level based interrupt output to be treated as an edge triggered
// GPIO input. The interval is expressed in microseconds.
const intLowLevelInterval = 250

// Driver timing parameters.
const (
	resetHoldTime          = 250 * time.Millisecond
	resetStartupTime       = 250 * time.Millisecond
	phyStartupPollInterval = 250 * time.Millisecond
	phyLinkPollInterval    = 1000 * time.Millisecond
	intRepollInterval      = 5000 * time.Millisecond
)

// The number of payload bytes carried in each chunk of a non-blocking
// buffer transfer.
const transferChunkSize = 64

// socketBufSizes gives the transmit and receive buffer allocation in
// kilobytes for each of the eight hardware sockets, selected by the
// configured maximum socket count. Lower numbered sockets always get
// the larger buffers.
var socketBufSizes = [8][8]uint8{
	{16, 0, 0, 0, 0, 0, 0, 0},
	{8, 8, 0, 0, 0, 0, 0, 0},
	{8, 4, 4, 0, 0, 0, 0, 0},
	{4, 4, 4, 4, 0, 0, 0, 0},
	{4, 4, 4, 2, 2, 0, 0, 0},
	{4, 4, 2, 2, 2, 2, 0, 0},
	{4, 2, 2, 2, 2, 2, 2, 0},
	{2, 2, 2, 2, 2, 2, 2, 2},
}
