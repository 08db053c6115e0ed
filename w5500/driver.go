// Package w5500 implements a driver stack for the WIZnet W5500 TCP/IP
// offload device, turning its register level SPI command protocol into
// asynchronous socket semantics for a cooperatively scheduled runtime.
//
// The driver assumes it is the only master on the SPI bus: the buffer
// status consistency checks rely on no other agent accessing the
// device registers between the driver's own transactions.
package w5500

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zynaptic/w5500go/hal"
	"github.com/zynaptic/w5500go/kernel"
)

// Config carries the hardware bindings and driver settings supplied
// to New.
type Config struct {
	// Bus is the SPI data channel to the device.
	Bus hal.Bus

	// Device controls chip select for the device on the bus.
	Device hal.Device

	// ResetPin drives the device hardware reset line.
	ResetPin hal.OutputPin

	// InterruptPin monitors the device interrupt request line.
	InterruptPin hal.InterruptPin

	// MACAddr is the 48-bit Ethernet MAC address, in network byte
	// order.
	MACAddr [6]byte

	// MaxSockets selects the number of hardware sockets to use, from
	// 1 to 8. The total device buffer memory is partitioned over the
	// selected sockets, with lower numbered sockets receiving the
	// larger buffers.
	MaxSockets int

	// Log receives driver diagnostics. A nil logger disables them.
	Log *zap.SugaredLogger

	// Trace optionally receives a record of every completed bus
	// transaction.
	Trace TraceSink
}

// Driver is the device context for a single W5500. All socket state
// machines run within the driver's two scheduler tasks; the public
// API methods may be called from any goroutine.
type Driver struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	bus          hal.Bus
	device       hal.Device
	resetPin     hal.OutputPin
	interruptPin hal.InterruptPin
	trace        TraceSink

	adaptorTask *kernel.Task
	coreTask    *kernel.Task
	cmdStream   *kernel.Stream[*transaction]
	rspStream   *kernel.Stream[*transaction]
	intEvent    *kernel.EventFlags

	adaptorState adaptorState
	current      *transaction
	bufferOffset int

	coreState     coreState
	cfgSocket     int
	socketPending uint8
	nextIntSocket int
	phyUp         bool
	phyPollDue    time.Time

	maxSockets    int
	macAddr       [6]byte
	gatewayAddr   [4]byte
	subnetMask    [4]byte
	interfaceAddr [4]byte
	bufSizes      [8]uint8

	sockets []*Socket
	pending []pendingNotify
}

// New creates a driver instance bound to the supplied scheduler
// engine and hardware configuration. The driver does not touch the
// hardware until Start is called.
func New(engine *kernel.Engine, cfg Config) (*Driver, error) {
	if cfg.MaxSockets < 1 || cfg.MaxSockets > 8 {
		return nil, errors.New("w5500: maximum socket count must be from 1 to 8")
	}
	if cfg.Bus == nil || cfg.Device == nil ||
		cfg.ResetPin == nil || cfg.InterruptPin == nil {
		return nil, errors.New("w5500: incomplete hardware configuration")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	d := &Driver{
		log:          log,
		bus:          cfg.Bus,
		device:       cfg.Device,
		resetPin:     cfg.ResetPin,
		interruptPin: cfg.InterruptPin,
		trace:        cfg.Trace,
		adaptorState: adaptorInit,
		coreState:    coreVerRead,
		maxSockets:   cfg.MaxSockets,
		macAddr:      cfg.MACAddr,
		bufSizes:     socketBufSizes[cfg.MaxSockets-1],
	}

	// The default network parameters correspond to the initial
	// settings used by DHCP.
	for i := 0; i < 4; i++ {
		d.gatewayAddr[i] = 0xFF
		d.subnetMask[i] = 0xFF
		d.interfaceAddr[i] = 0x00
	}

	d.adaptorTask = engine.NewTask("w5500-spi-adaptor", d.adaptorTick)
	d.coreTask = engine.NewTask("w5500-core-worker", d.coreTick)

	streamSize := 2 * cfg.MaxSockets
	d.cmdStream = kernel.NewStream[*transaction](streamSize)
	d.cmdStream.SetConsumer(d.adaptorTask)
	d.rspStream = kernel.NewStream[*transaction](streamSize)
	d.rspStream.SetConsumer(d.coreTask)
	d.intEvent = kernel.NewEventFlags(d.adaptorTask)

	d.sockets = make([]*Socket, cfg.MaxSockets)
	for i := range d.sockets {
		d.sockets[i] = newSocket(d, uint8(i))
	}
	return d, nil
}

// Start places the device in reset, arms the interrupt line and
// schedules the adaptor and core worker tasks. The device bring-up
// sequence then runs asynchronously; PhyLinkUp reports when it has
// completed and the physical link is available.
func (d *Driver) Start() {
	d.resetPin.SetState(false)
	d.interruptPin.SetHandler(func() {
		d.intEvent.Set(intEventRequest)
	})
	if n, ok := d.bus.(hal.Notifier); ok {
		n.SetNotify(d.adaptorTask.Resume)
	}
	d.adaptorTask.Start()
	d.coreTask.Start()
}

// SetNetworkInfo updates the IPv4 interface address, gateway address
// and subnet mask used by the device. The settings cannot be changed
// until the bring-up sequence has completed; on a transient failure
// to issue the configuration command the previous settings are
// restored and the caller may retry.
func (d *Driver) SetNetworkInfo(
	interfaceAddr, gatewayAddr, subnetMask [4]byte) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.coreState.running() {
		return StatusNotValid
	}

	oldInterfaceAddr := d.interfaceAddr
	oldGatewayAddr := d.gatewayAddr
	oldSubnetMask := d.subnetMask
	d.interfaceAddr = interfaceAddr
	d.gatewayAddr = gatewayAddr
	d.subnetMask = subnetMask

	if !d.commonCfgSet() {
		d.interfaceAddr = oldInterfaceAddr
		d.gatewayAddr = oldGatewayAddr
		d.subnetMask = oldSubnetMask
		return StatusRetry
	}
	return StatusSuccess
}

// MACAddr returns the 48-bit Ethernet MAC address for the device.
func (d *Driver) MACAddr() [6]byte {
	return d.macAddr
}

// PhyLinkUp indicates whether the physical layer link is ready to
// transport TCP/IP traffic.
func (d *Driver) PhyLinkUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coreState.running() && d.phyUp
}

// socketBufferSize returns the transmit and receive buffer size in
// bytes allocated to the given socket.
func (d *Driver) socketBufferSize(socketID uint8) uint16 {
	if int(socketID) >= d.maxSockets {
		return 0
	}
	return 1024 * uint16(d.bufSizes[socketID])
}

// queueNotify records a notification for delivery once the current
// processing step has released the driver state.
func (d *Driver) queueNotify(handler NotifyFunc, event Notification) {
	if handler != nil {
		d.pending = append(d.pending, pendingNotify{handler, event})
	}
}

// coreTick drives the core processing state machine for one scheduler
// tick. Queued notifications are delivered after the driver state has
// been released, so handlers may call back into the socket API.
func (d *Driver) coreTick() kernel.Status {
	d.mu.Lock()
	status := d.coreTickLocked()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, p := range pending {
		p.handler(p.event)
	}
	return status
}
