package w5500

import (
	"github.com/zynaptic/w5500go/hal"
	"github.com/zynaptic/w5500go/kernel"
)

// Event flag used to signal a falling edge on the device interrupt
// line.
const intEventRequest = 0x01

// adaptorState enumerates the SPI command/response adaptor states.
type adaptorState uint8

const (
	adaptorInit adaptorState = iota
	adaptorReset
	adaptorIdle
	adaptorSelect
	adaptorSendHeader
	adaptorTransferBytes
	adaptorTransferBuffer
	adaptorTransferWait
	adaptorRelease
	adaptorRespond
	adaptorError
)

// sendHeader transfers the fixed three byte transaction header using
// the blocking bus API.
func (d *Driver) sendHeader() hal.Status {
	header := d.current.header()
	return d.bus.InlineWrite(header[:])
}

// transferBytes implements short payload transfers using the blocking
// bus API.
func (d *Driver) transferBytes() hal.Status {
	t := d.current
	if int(t.size) > len(t.inline) {
		return hal.StatusFailed
	}
	if t.isWrite() {
		return d.bus.InlineWrite(t.inline[:t.size])
	}
	return d.bus.InlineRead(t.inline[:t.size])
}

// transferBuffer initiates the next chunk of a buffer payload transfer
// using the non-blocking bus API.
func (d *Driver) transferBuffer() hal.Status {
	t := d.current
	data := t.data.Bytes()
	if d.bufferOffset >= len(data) {
		return hal.StatusFailed
	}
	chunk := data[d.bufferOffset:]
	if len(chunk) > transferChunkSize {
		chunk = chunk[:transferChunkSize]
	}

	if t.isWrite() {
		if !d.bus.StartWrite(chunk) {
			return hal.StatusNotReady
		}
	} else {
		if !d.bus.StartRead(chunk) {
			return hal.StatusNotReady
		}
	}
	d.bufferOffset += len(chunk)
	return hal.StatusOK
}

// formatIntRead populates a transaction that reads the common
// interrupt status register block at address 0x0015.
func formatIntRead(t *transaction) {
	t.address = regCommonIntStatus
	t.control = ctrlCommonRegs | ctrlReadEnable
	t.size = 4
}

// sendResponse forwards the completed transaction to the response
// queue, unless the discard response flag is set.
func (d *Driver) sendResponse() bool {
	t := d.current
	if d.trace != nil {
		d.trace.RecordTransaction(
			t.address, t.control, t.payloadLen(), t.isWrite())
	}
	if t.discard() {
		if t.size == 0 {
			t.data.Reset()
		}
		return true
	}
	return d.rspStream.Write(t)
}

// adaptorTick drives the SPI adaptor state machine for one scheduler
// tick. The adaptor serializes all device accesses: exactly one
// transaction is outstanding between chip select assert and release.
func (d *Driver) adaptorTick() kernel.Status {
	taskStatus := kernel.RunNow()
	nextState := d.adaptorState

	switch d.adaptorState {

	// From the initialisation state, ensure the device is held in
	// reset for the required period.
	case adaptorInit:
		d.resetPin.SetState(false)
		taskStatus = kernel.RunAfter(resetHoldTime)
		nextState = adaptorReset

	// Enable interrupts and take the device out of reset, inserting
	// a delay to allow it to start up.
	case adaptorReset:
		d.interruptPin.Enable(false, true)
		d.resetPin.SetState(true)
		taskStatus = kernel.RunAfter(resetStartupTime)
		nextState = adaptorIdle

	// In the idle state, wait for an interrupt or a new command to
	// process. Interrupt events take priority over the command queue
	// and synthesize a common interrupt status read.
	case adaptorIdle:
		if d.intEvent.ResetAll() != 0 {
			d.current = &transaction{}
			formatIntRead(d.current)
			nextState = adaptorSelect
		} else if t, ok := d.cmdStream.Read(); ok {
			d.current = t
			nextState = adaptorSelect
		} else {
			taskStatus = kernel.Suspend()
		}

	// Assert chip select for the device.
	case adaptorSelect:
		if d.device.Select() {
			nextState = adaptorSendHeader
		}

	// Send the transaction header using a blocking transfer.
	case adaptorSendHeader:
		busStatus := d.sendHeader()
		if busStatus == hal.StatusOK {
			if d.current.size > 0 {
				nextState = adaptorTransferBytes
			} else {
				d.bufferOffset = 0
				nextState = adaptorTransferBuffer
			}
		} else if busStatus != hal.StatusNotReady {
			nextState = adaptorError
		}

	// Transfer a short payload using a blocking transfer.
	case adaptorTransferBytes:
		busStatus := d.transferBytes()
		if busStatus == hal.StatusOK {
			nextState = adaptorRelease
		} else if busStatus != hal.StatusNotReady {
			nextState = adaptorError
		}

	// Transfer a buffer payload as a sequence of non-blocking chunk
	// transfers, suspending between chunks so long transfers never
	// block the scheduler.
	case adaptorTransferBuffer:
		busStatus := d.transferBuffer()
		if busStatus == hal.StatusOK {
			nextState = adaptorTransferWait
			taskStatus = kernel.Suspend()
		} else if busStatus != hal.StatusNotReady {
			nextState = adaptorError
		}

	// Wait for the completion of a non-blocking chunk transfer.
	case adaptorTransferWait:
		busStatus := d.bus.Complete()
		if busStatus == hal.StatusOK {
			if d.bufferOffset >= d.current.data.Len() {
				nextState = adaptorRelease
			} else {
				nextState = adaptorTransferBuffer
			}
		} else if busStatus == hal.StatusActive {
			taskStatus = kernel.Suspend()
		} else {
			nextState = adaptorError
		}

	// Release chip select on completion of the transaction.
	case adaptorRelease:
		if d.device.Release() {
			nextState = adaptorRespond
		}

	// Forward the completed transaction to the response queue.
	case adaptorRespond:
		if d.sendResponse() {
			d.current = nil
			nextState = adaptorIdle
		}

	// A bus level fault implies a wiring or timing failure outside
	// software control and is treated as unrecoverable.
	default:
		d.log.Panicf("unrecoverable bus fault in W5500 SPI adaptor")
	}

	d.adaptorState = nextState
	return taskStatus
}
