package w5500

import (
	"time"

	"github.com/zynaptic/w5500go/kernel"
)

// coreState enumerates the core processing states, covering the one
// time bring-up sequence followed by steady state operation.
type coreState uint8

const (
	coreVerRead coreState = iota
	coreVerCheck
	coreCfgSet
	coreCfgRead
	coreCfgCheck
	coreSocketCfgSet
	coreSocketCfgRead
	coreSocketCfgCheck
	coreIntEnable
	coreIntRead
	coreIntCheck
	corePhyRead
	corePhyCheck
	coreRunningIntIdle
	coreRunningIntActive
	coreError
)

// running indicates that the bring-up sequence has completed.
func (s coreState) running() bool {
	return s == coreRunningIntIdle || s == coreRunningIntActive
}

// commonVerRead requests the contents of the 8-bit version register.
func (d *Driver) commonVerRead() bool {
	t := &transaction{
		address: regVersion,
		control: ctrlCommonRegs | ctrlReadEnable,
		size:    1,
	}
	return d.cmdStream.Write(t)
}

// commonVerCheck checks the version register readback against the
// expected device version constant.
func (d *Driver) commonVerCheck() (processed, ok bool) {
	t, read := d.rspStream.Read()
	if !read {
		return false, false
	}
	ok = t.size == 1 && t.inline[0] == deviceVersion
	d.log.Debugf("W5500 device version check status: %v", ok)
	return true, ok
}

// commonCfgSet writes the 18 byte common network configuration block,
// starting from the gateway address register. All remaining common
// options are left at their default values.
func (d *Driver) commonCfgSet() bool {
	t := &transaction{
		address: regCommonConfig,
		control: ctrlCommonRegs | ctrlWriteEnable | ctrlDiscardResponse,
		size:    0,
	}
	t.data.Append(d.gatewayAddr[:]...)
	t.data.Append(d.subnetMask[:]...)
	t.data.Append(d.macAddr[:]...)
	t.data.Append(d.interfaceAddr[:]...)
	return d.cmdStream.Write(t)
}

// commonCfgRead requests a readback of the common network
// configuration block.
func (d *Driver) commonCfgRead() bool {
	t := &transaction{
		address: regCommonConfig,
		control: ctrlCommonRegs | ctrlReadEnable,
		size:    0,
	}
	t.data.Resize(18)
	return d.cmdStream.Write(t)
}

// commonCfgCheck byte-compares the configuration readback against the
// locally held network parameters. This deliberately doubles as an
// early hardware and wiring self test.
func (d *Driver) commonCfgCheck() (processed, ok bool) {
	t, read := d.rspStream.Read()
	if !read {
		return false, false
	}
	var cfgData [18]byte
	if t.size == 0 && t.data.Read(0, cfgData[:]) {
		ok = bytesEqual(cfgData[0:4], d.gatewayAddr[:]) &&
			bytesEqual(cfgData[4:8], d.subnetMask[:]) &&
			bytesEqual(cfgData[8:14], d.macAddr[:]) &&
			bytesEqual(cfgData[14:18], d.interfaceAddr[:])
	}
	d.log.Debugf("W5500 common configuration status: %v", ok)
	return true, ok
}

// socketCfgSet writes the transmit and receive buffer size registers
// for the socket currently being configured.
func (d *Driver) socketCfgSet() bool {
	bufSize := d.bufSizes[d.cfgSocket]
	t := &transaction{
		address: sockRegBufSize,
		control: ctrlSocketRegs(uint8(d.cfgSocket)) |
			ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(bufSize, bufSize)
	return d.cmdStream.Write(t)
}

// socketCfgRead requests the 14 transmit and receive buffer state
// registers for the socket currently being configured.
func (d *Driver) socketCfgRead() bool {
	t := &transaction{
		address: sockRegBufSize,
		control: ctrlSocketRegs(uint8(d.cfgSocket)) | ctrlReadEnable,
		size:    0,
	}
	t.data.Resize(14)
	return d.cmdStream.Write(t)
}

// socketCfgCheck compares the buffer configuration readback against
// the expected initial buffer state.
func (d *Driver) socketCfgCheck() (processed, ok bool) {
	t, read := d.rspStream.Read()
	if !read {
		return false, false
	}
	bufSize := d.bufSizes[d.cfgSocket]
	bufBytes := 1024 * uint16(bufSize)
	expected := [14]byte{
		bufSize, bufSize, uint8(bufBytes >> 8), uint8(bufBytes),
	}
	var cfgData [14]byte
	if t.size == 0 && t.data.Read(0, cfgData[:]) {
		ok = bytesEqual(cfgData[:], expected[:])
	}
	d.log.Debugf("W5500 socket %d buffer size %dK status: %v",
		d.cfgSocket, bufSize, ok)
	return true, ok
}

// intConfigBytes formats the six common interrupt configuration
// registers. The interrupt interval low level timer allows the level
// based device interrupts to be treated as edge triggered GPIO
// interrupts. The address conflict and destination unreachable
// interrupts are not used.
func (d *Driver) intConfigBytes() [6]byte {
	intTimerReg := uint16((150*intLowLevelInterval)/4 - 1)
	socketIntMask := uint8(1<<d.maxSockets) - 1
	return [6]byte{
		uint8(intTimerReg >> 8), uint8(intTimerReg),
		0, 0, 0, socketIntMask,
	}
}

// commonIntEnable writes the common interrupt configuration registers.
func (d *Driver) commonIntEnable() bool {
	cfg := d.intConfigBytes()
	t := &transaction{
		address: regCommonIntConfig,
		control: ctrlCommonRegs | ctrlWriteEnable | ctrlDiscardResponse,
	}
	t.setInline(cfg[:]...)
	return d.cmdStream.Write(t)
}

// commonIntCfgRead requests a readback of the common interrupt
// configuration registers.
func (d *Driver) commonIntCfgRead() bool {
	t := &transaction{
		address: regCommonIntConfig,
		control: ctrlCommonRegs | ctrlReadEnable,
		size:    6,
	}
	return d.cmdStream.Write(t)
}

// commonIntCfgCheck compares the interrupt configuration readback
// against the expected values and arms the GPIO interrupt input on
// success.
func (d *Driver) commonIntCfgCheck() (processed, ok bool) {
	t, read := d.rspStream.Read()
	if !read {
		return false, false
	}
	expected := d.intConfigBytes()
	ok = t.size == 6 && bytesEqual(t.inline[:6], expected[:])
	if ok {
		d.interruptPin.Enable(false, true)
	}
	d.log.Debugf("W5500 common interrupt enable status: %v", ok)
	return true, ok
}

// phyStatusRead requests the contents of the 8-bit PHY status
// register.
func (d *Driver) phyStatusRead() bool {
	t := &transaction{
		address: regPhyStatus,
		control: ctrlCommonRegs | ctrlReadEnable,
		size:    1,
	}
	return d.cmdStream.Write(t)
}

// startupPhyCheck checks the PHY status readback for the link
// established bit during bring-up.
func (d *Driver) startupPhyCheck() (processed, ok bool) {
	t, read := d.rspStream.Read()
	if !read {
		return false, false
	}
	if t.size == 1 {
		phyStatus := t.inline[0]
		if phyStatus&phyLinkUp != 0 {
			ok = true
			d.logPhyLink(phyStatus)
		}
	}
	return true, ok
}

func (d *Driver) logPhyLink(phyStatus uint8) {
	speed := 10
	if phyStatus&phySpeed100M != 0 {
		speed = 100
	}
	duplex := "half"
	if phyStatus&phyFullDuplex != 0 {
		duplex = "full"
	}
	d.log.Infof("W5500 PHY link established (%d Mbps, %s duplex)",
		speed, duplex)
}

// commonIntRead requests the common interrupt status register block.
func (d *Driver) commonIntRead() bool {
	t := &transaction{}
	formatIntRead(t)
	return d.cmdStream.Write(t)
}

// socketIntRead requests the interrupt and status registers for the
// given socket.
func (d *Driver) socketIntRead(socketID uint8) bool {
	t := &transaction{
		address: sockRegIntStatus,
		control: ctrlSocketRegs(socketID) | ctrlReadEnable,
		size:    2,
	}
	return d.cmdStream.Write(t)
}

// processCommonResponse handles responses addressed to the common
// register block during steady state operation. Interrupt status
// reads update the per-socket pending bitmap; PHY status reads feed
// the link liveness check, with exactly one notification sent to each
// registered handler on a link state transition.
func (d *Driver) processCommonResponse(t *transaction) {
	socketSelectMask := uint8(1<<d.maxSockets) - 1

	if t.address == regCommonIntStatus && t.size == 4 {
		d.socketPending |= socketSelectMask & t.inline[2]
		return
	}

	if t.address == regPhyStatus && t.size == 1 {
		linkUp := t.inline[0]&phyLinkUp != 0
		if linkUp == d.phyUp {
			return
		}
		d.phyUp = linkUp
		event := NotifyPhyLinkDown
		if linkUp {
			event = NotifyPhyLinkUp
			d.logPhyLink(t.inline[0])
		} else {
			d.log.Warnf("W5500 PHY link lost")
		}
		for _, s := range d.sockets {
			d.queueNotify(s.notify, event)
		}
	}
}

// dispatchResponses drains the response queue, routing each response
// by the block selector field of its control byte either to common
// register handling or to the addressed socket.
func (d *Driver) dispatchResponses() kernel.Status {
	taskStatus := kernel.Suspend()
	for {
		t, ok := d.rspStream.Read()
		if !ok {
			break
		}
		if t.control&0xF8 == 0 {
			d.processCommonResponse(t)
		} else {
			socketID := int(t.control >> 5)
			if socketID < d.maxSockets {
				d.sockets[socketID].processResponse(t)
			}
		}
		taskStatus = kernel.RunNow()
	}
	return taskStatus
}

// coreRunning implements steady state processing: response dispatch,
// bounded interrupt status polling and the per-socket processing
// loop.
func (d *Driver) coreRunning() (kernel.Status, coreState) {
	nextState := d.coreState
	taskStatus := d.dispatchResponses()

	// Issue one socket interrupt status read per tick, round-robin,
	// bounding the per-tick SPI latency.
	intTaskStatus := kernel.Suspend()
	if d.socketPending != 0 {
		nextState = coreRunningIntActive
		for i := 0; i < d.maxSockets; i++ {
			id := (d.nextIntSocket + i) % d.maxSockets
			mask := uint8(1) << id
			if d.socketPending&mask != 0 {
				// Defer the request if the command stream is full.
				if d.socketIntRead(uint8(id)) {
					d.socketPending &^= mask
					d.nextIntSocket = (id + 1) % d.maxSockets
				}
				break
			}
		}

		// Reschedule immediately if more socket interrupt registers
		// need to be read. Otherwise insert an idle period before
		// polling the main interrupt register again.
		if d.socketPending != 0 {
			intTaskStatus = kernel.RunNow()
		} else {
			intTaskStatus = kernel.RunAfter(intRepollInterval)
		}
	} else if d.coreState == coreRunningIntActive {
		if d.commonIntRead() {
			nextState = coreRunningIntIdle
		} else {
			intTaskStatus = kernel.RunNow()
		}
	}
	taskStatus = kernel.Prioritise(taskStatus, intTaskStatus)

	// Poll PHY status as a liveness check against a physical layer
	// disconnection that does not raise an interrupt edge.
	phyTaskStatus := kernel.Suspend()
	now := time.Now()
	if !now.Before(d.phyPollDue) {
		if d.phyStatusRead() {
			d.phyPollDue = now.Add(phyLinkPollInterval)
			phyTaskStatus = kernel.RunAfter(phyLinkPollInterval)
		} else {
			phyTaskStatus = kernel.RunNow()
		}
	} else {
		phyTaskStatus = kernel.RunAfter(d.phyPollDue.Sub(now))
	}
	taskStatus = kernel.Prioritise(taskStatus, phyTaskStatus)

	// Run each socket state machine in turn.
	for _, s := range d.sockets {
		taskStatus = kernel.Prioritise(taskStatus, s.processTick())
	}
	return taskStatus, nextState
}

// coreTickLocked implements the core worker state machine for one
// scheduler tick. Every bring-up configuration step uses the same
// write, read back and compare pattern, with any mismatch routed to
// the terminal error state rather than silently retried.
func (d *Driver) coreTickLocked() kernel.Status {
	taskStatus := kernel.RunNow()
	nextState := d.coreState

	switch d.coreState {

	// Initiate the version register readback.
	case coreVerRead:
		if d.commonVerRead() {
			nextState = coreVerCheck
		}

	// Check the results of the version register readback.
	case coreVerCheck:
		if processed, ok := d.commonVerCheck(); processed {
			if ok {
				nextState = coreCfgSet
			} else {
				nextState = coreError
			}
		} else {
			taskStatus = kernel.Suspend()
		}

	// Set the common configuration registers.
	case coreCfgSet:
		if d.commonCfgSet() {
			nextState = coreCfgRead
		}

	// Read back the common configuration registers.
	case coreCfgRead:
		if d.commonCfgRead() {
			nextState = coreCfgCheck
		}

	// Check the results of the configuration register setup.
	case coreCfgCheck:
		if processed, ok := d.commonCfgCheck(); processed {
			if ok {
				d.cfgSocket = 0
				nextState = coreSocketCfgSet
			} else {
				nextState = coreError
			}
		} else {
			taskStatus = kernel.Suspend()
		}

	// Set the socket specific configuration registers.
	case coreSocketCfgSet:
		if d.socketCfgSet() {
			nextState = coreSocketCfgRead
		}

	// Read back the socket specific configuration registers.
	case coreSocketCfgRead:
		if d.socketCfgRead() {
			nextState = coreSocketCfgCheck
		}

	// Check the socket specific buffer configuration, for each of
	// the eight hardware sockets in turn.
	case coreSocketCfgCheck:
		if processed, ok := d.socketCfgCheck(); processed {
			if !ok {
				nextState = coreError
			} else if d.cfgSocket < 7 {
				d.cfgSocket++
				nextState = coreSocketCfgSet
			} else {
				nextState = coreIntEnable
			}
		} else {
			taskStatus = kernel.Suspend()
		}

	// Enable the required common interrupts.
	case coreIntEnable:
		if d.commonIntEnable() {
			nextState = coreIntRead
		}

	// Read back the common interrupt settings.
	case coreIntRead:
		if d.commonIntCfgRead() {
			nextState = coreIntCheck
		}

	// Check the results of the interrupt enable setup.
	case coreIntCheck:
		if processed, ok := d.commonIntCfgCheck(); processed {
			if ok {
				nextState = corePhyRead
			} else {
				nextState = coreError
			}
		} else {
			taskStatus = kernel.Suspend()
		}

	// Request the startup status for the Ethernet PHY link.
	case corePhyRead:
		if d.phyStatusRead() {
			nextState = corePhyCheck
		}

	// Check whether the Ethernet PHY link is up, repeating at a
	// fixed interval until a connection is established.
	case corePhyCheck:
		if processed, ok := d.startupPhyCheck(); processed {
			if ok {
				d.phyUp = true
				d.socketPending = 0
				d.phyPollDue = time.Now().Add(phyLinkPollInterval)
				nextState = coreRunningIntActive
			} else {
				nextState = corePhyRead
				taskStatus = kernel.RunAfter(phyStartupPollInterval)
			}
		} else {
			taskStatus = kernel.Suspend()
		}

	// Implement the running state which provides interrupt
	// detection and the main socket processing loop.
	case coreRunningIntIdle, coreRunningIntActive:
		taskStatus, nextState = d.coreRunning()

	// A configuration mismatch indicates a hardware or wiring fault
	// and is treated as unrecoverable.
	default:
		d.log.Panicf("unrecoverable error in W5500 core")
	}

	d.coreState = nextState
	return taskStatus
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
