// Package periphhal adapts Linux SPI and GPIO devices to the driver
// hardware abstraction layer using the periph.io host libraries. Chip
// select is driven manually through a GPIO line rather than by the
// SPI controller, since the W5500 requires select to be held across
// the header and payload phases of each transaction.
package periphhal

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/zynaptic/w5500go/hal"
)

// Polling interval for the edge monitoring goroutine's stop check.
const edgeWaitTimeout = 500 * time.Millisecond

// Config identifies the host devices to bind. The names are resolved
// through the periph.io registries, so any form those accept is
// valid.
type Config struct {
	// SPIBus is the SPI port name, for example "SPI0.0".
	SPIBus string

	// SPISpeed is the bus clock rate. A zero value selects 10 MHz.
	SPISpeed physic.Frequency

	// SelectPin names the GPIO line wired to the device chip select
	// input.
	SelectPin string

	// ResetPin names the GPIO line wired to the device reset input.
	ResetPin string

	// InterruptPin names the GPIO line wired to the device interrupt
	// output.
	InterruptPin string
}

// HAL binds the host SPI and GPIO devices for one W5500. The host
// libraries must have been initialised with host.Init before Open is
// called.
type HAL struct {
	port spi.PortCloser
	conn spi.Conn

	selectPin gpio.PinOut
	resetPin  gpio.PinOut
	intPin    gpio.PinIn

	mu       sync.Mutex
	pending  chan error
	asyncErr error
	active   bool
	notify   func()

	intHandler func()
	intStop    chan struct{}
}

// Open resolves and configures the host devices named in the
// configuration.
func Open(cfg Config) (*HAL, error) {
	speed := cfg.SPISpeed
	if speed == 0 {
		speed = 10 * physic.MegaHertz
	}

	port, err := spireg.Open(cfg.SPIBus)
	if err != nil {
		return nil, fmt.Errorf("periphhal: opening SPI port: %w", err)
	}
	conn, err := port.Connect(speed, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("periphhal: configuring SPI port: %w", err)
	}

	selectPin := gpioreg.ByName(cfg.SelectPin)
	resetPin := gpioreg.ByName(cfg.ResetPin)
	intPin := gpioreg.ByName(cfg.InterruptPin)
	if selectPin == nil || resetPin == nil || intPin == nil {
		port.Close()
		return nil, fmt.Errorf("periphhal: unknown GPIO pin name")
	}
	if err := selectPin.Out(gpio.High); err != nil {
		port.Close()
		return nil, fmt.Errorf("periphhal: configuring chip select: %w", err)
	}

	return &HAL{
		port:      port,
		conn:      conn,
		selectPin: selectPin,
		resetPin:  resetPin,
		intPin:    intPin,
		pending:   make(chan error, 1),
	}, nil
}

// Close releases the SPI port and stops edge monitoring.
func (h *HAL) Close() error {
	h.mu.Lock()
	if h.intStop != nil {
		close(h.intStop)
		h.intStop = nil
	}
	h.mu.Unlock()
	return h.port.Close()
}

// Bus returns the SPI data channel binding.
func (h *HAL) Bus() hal.Bus {
	return h
}

// Device returns the chip select binding.
func (h *HAL) Device() hal.Device {
	return (*chipSelect)(h)
}

// ResetPin returns the device reset line binding.
func (h *HAL) ResetPin() hal.OutputPin {
	return (*resetOutput)(h)
}

// InterruptPin returns the device interrupt line binding.
func (h *HAL) InterruptPin() hal.InterruptPin {
	return (*interruptInput)(h)
}

// ---------------------------------------------------------------------------
// hal.Bus implementation.

// InlineWrite transfers a short data block to the device.
func (h *HAL) InlineWrite(p []byte) hal.Status {
	if err := h.conn.Tx(p, nil); err != nil {
		return hal.StatusFailed
	}
	return hal.StatusOK
}

// InlineRead fills a short data block from the device.
func (h *HAL) InlineRead(p []byte) hal.Status {
	if err := h.conn.Tx(make([]byte, len(p)), p); err != nil {
		return hal.StatusFailed
	}
	return hal.StatusOK
}

// StartWrite initiates an asynchronous write of p, running the
// blocking host transfer on a worker goroutine.
func (h *HAL) StartWrite(p []byte) bool {
	return h.startTransfer(p, nil)
}

// StartRead initiates an asynchronous read into p.
func (h *HAL) StartRead(p []byte) bool {
	return h.startTransfer(make([]byte, len(p)), p)
}

func (h *HAL) startTransfer(w, r []byte) bool {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		return false
	}
	h.active = true
	h.mu.Unlock()

	go func() {
		err := h.conn.Tx(w, r)
		h.pending <- err
		h.mu.Lock()
		notify := h.notify
		h.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()
	return true
}

// Complete polls for the result of an asynchronous transfer.
func (h *HAL) Complete() hal.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return hal.StatusFailed
	}
	select {
	case err := <-h.pending:
		h.active = false
		if err != nil {
			return hal.StatusFailed
		}
		return hal.StatusOK
	default:
		return hal.StatusActive
	}
}

// SetNotify registers the asynchronous transfer completion callback.
func (h *HAL) SetNotify(fn func()) {
	h.mu.Lock()
	h.notify = fn
	h.mu.Unlock()
}

// ---------------------------------------------------------------------------
// hal.Device implementation. Chip select is active low.

type chipSelect HAL

func (c *chipSelect) Select() bool {
	return c.selectPin.Out(gpio.Low) == nil
}

func (c *chipSelect) Release() bool {
	return c.selectPin.Out(gpio.High) == nil
}

// ---------------------------------------------------------------------------
// hal.OutputPin implementation for the reset line.

type resetOutput HAL

func (r *resetOutput) SetState(high bool) {
	// Pin configuration errors surface later as a failed device
	// version check.
	_ = r.resetPin.Out(gpio.Level(high))
}

// ---------------------------------------------------------------------------
// hal.InterruptPin implementation. Edge detection runs on a dedicated
// goroutine blocking in WaitForEdge.

type interruptInput HAL

func (i *interruptInput) SetHandler(fn func()) {
	i.mu.Lock()
	i.intHandler = fn
	i.mu.Unlock()
}

func (i *interruptInput) Enable(rising, falling bool) {
	h := (*HAL)(i)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.intStop != nil {
		close(h.intStop)
		h.intStop = nil
	}
	if !rising && !falling {
		return
	}

	edge := gpio.BothEdges
	switch {
	case rising && !falling:
		edge = gpio.RisingEdge
	case falling && !rising:
		edge = gpio.FallingEdge
	}
	if err := h.intPin.In(gpio.PullUp, edge); err != nil {
		return
	}

	stop := make(chan struct{})
	h.intStop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if !h.intPin.WaitForEdge(edgeWaitTimeout) {
				continue
			}
			h.mu.Lock()
			handler := h.intHandler
			h.mu.Unlock()
			if handler != nil {
				handler()
			}
		}
	}()
}
