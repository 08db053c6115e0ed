package w5500

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zynaptic/w5500go/hal/simhal"
)

// testBench binds a driver instance to the behavioural device model,
// with the scheduler replaced by a direct tick pump so tests run
// deterministically.
type testBench struct {
	model  *simhal.Model
	driver *Driver
	events []Notification
}

func newTestBench(maxSockets int) *testBench {
	b := &testBench{model: simhal.NewModel()}

	engine := kernelEngine()
	var err error
	b.driver, err = New(engine, Config{
		Bus:          b.model,
		Device:       b.model,
		ResetPin:     b.model.ResetPin(),
		InterruptPin: b.model.InterruptPin(),
		MACAddr:      [6]byte{0x02, 0x00, 0x00, 0x55, 0x00, 0x01},
		MaxSockets:   maxSockets,
	})
	Expect(err).ToNot(HaveOccurred())

	b.driver.Start()
	return b
}

// pump advances the adaptor and core state machines by n tick pairs.
func (b *testBench) pump(n int) {
	for i := 0; i < n; i++ {
		b.driver.adaptorTick()
		b.driver.coreTick()
	}
}

// bringUp pumps until the device bring-up sequence has completed.
func (b *testBench) bringUp() {
	b.pump(500)
	Expect(b.driver.PhyLinkUp()).To(BeTrue())
}

// notify records socket notifications for later inspection.
func (b *testBench) notify(event Notification) {
	b.events = append(b.events, event)
}

// expirePhyPoll makes the periodic PHY liveness poll due immediately.
func (b *testBench) expirePhyPoll() {
	b.driver.mu.Lock()
	b.driver.phyPollDue = time.Time{}
	b.driver.mu.Unlock()
}

// countEvents returns the number of recorded notifications matching
// the given event.
func (b *testBench) countEvents(event Notification) int {
	count := 0
	for _, e := range b.events {
		if e == event {
			count++
		}
	}
	return count
}

// traceLog records transaction addresses in completion order.
type traceLog struct {
	addresses []uint16
}

func (l *traceLog) RecordTransaction(
	address uint16, control uint8, size int, write bool) {
	l.addresses = append(l.addresses, address)
}

// firstIndex returns the position of the first record at the given
// address, or -1.
func (l *traceLog) firstIndex(address uint16) int {
	for i, a := range l.addresses {
		if a == address {
			return i
		}
	}
	return -1
}

var _ = Describe("Driver", func() {

	It("should complete bring-up against the simulated device", func() {
		b := newTestBench(4)
		b.bringUp()

		Expect(b.driver.MACAddr()).To(Equal(
			[6]byte{0x02, 0x00, 0x00, 0x55, 0x00, 0x01}))
	})

	It("should configure the bring-up steps in order", func() {
		model := simhal.NewModel()
		log := &traceLog{}
		driver, err := New(kernelEngine(), Config{
			Bus:          model,
			Device:       model,
			ResetPin:     model.ResetPin(),
			InterruptPin: model.InterruptPin(),
			MACAddr:      [6]byte{2, 0, 0, 0, 0, 1},
			MaxSockets:   4,
			Trace:        log,
		})
		Expect(err).ToNot(HaveOccurred())
		driver.Start()
		for i := 0; i < 500; i++ {
			driver.adaptorTick()
			driver.coreTick()
		}

		version := log.firstIndex(0x0039)
		config := log.firstIndex(0x0001)
		bufSize := log.firstIndex(0x001E)
		intCfg := log.firstIndex(0x0013)
		phy := log.firstIndex(0x002E)
		Expect(version).To(BeNumerically(">=", 0))
		Expect(version).To(BeNumerically("<", config))
		Expect(config).To(BeNumerically("<", bufSize))
		Expect(bufSize).To(BeNumerically("<", intCfg))
		Expect(intCfg).To(BeNumerically("<", phy))
	})

	It("should partition the buffer memory over the configured sockets",
		func() {
			b := newTestBench(4)
			b.bringUp()

			for i := 0; i < 4; i++ {
				tx, rx := b.model.SocketBufConfig(i)
				Expect(tx).To(Equal(uint8(4)))
				Expect(rx).To(Equal(uint8(4)))
			}
			for i := 4; i < 8; i++ {
				tx, rx := b.model.SocketBufConfig(i)
				Expect(tx).To(BeZero())
				Expect(rx).To(BeZero())
			}
		})

	It("should give lower numbered sockets the larger buffers", func() {
		b := newTestBench(3)
		b.bringUp()

		Expect(b.driver.socketBufferSize(0)).To(Equal(uint16(8192)))
		Expect(b.driver.socketBufferSize(1)).To(Equal(uint16(4096)))
		Expect(b.driver.socketBufferSize(2)).To(Equal(uint16(4096)))
	})

	It("should treat a configuration readback mismatch as fatal", func() {
		b := newTestBench(4)
		b.model.SetCorruptConfig(true)

		Expect(func() { b.pump(500) }).To(Panic())
	})

	It("should reject socket opens before the link is up", func() {
		b := newTestBench(4)
		Expect(b.driver.OpenUDP(7, nil, nil)).To(BeNil())
		Expect(b.driver.OpenTCP(80, nil, nil)).To(BeNil())
	})

	It("should allocate TCP sockets low and UDP sockets high", func() {
		b := newTestBench(4)
		b.bringUp()

		tcpSock := b.driver.OpenTCP(80, nil, nil)
		udpSock := b.driver.OpenUDP(7, nil, nil)
		Expect(tcpSock).ToNot(BeNil())
		Expect(udpSock).ToNot(BeNil())
		Expect(tcpSock.ID()).To(Equal(0))
		Expect(udpSock.ID()).To(Equal(3))
	})

	It("should run out of sockets once all are claimed", func() {
		b := newTestBench(2)
		b.bringUp()

		Expect(b.driver.OpenUDP(1, nil, nil)).ToNot(BeNil())
		Expect(b.driver.OpenUDP(2, nil, nil)).ToNot(BeNil())
		Expect(b.driver.OpenUDP(3, nil, nil)).To(BeNil())
	})

	It("should accept network settings only when running", func() {
		b := newTestBench(4)
		addr := [4]byte{192, 168, 1, 10}
		gw := [4]byte{192, 168, 1, 1}
		mask := [4]byte{255, 255, 255, 0}

		Expect(b.driver.SetNetworkInfo(addr, gw, mask)).
			To(Equal(StatusNotValid))

		b.bringUp()
		Expect(b.driver.SetNetworkInfo(addr, gw, mask)).
			To(Equal(StatusSuccess))
	})

	It("should notify each socket exactly once per link transition",
		func() {
			b := newTestBench(4)
			b.bringUp()

			sock := b.driver.OpenUDP(7, nil, b.notify)
			Expect(sock).ToNot(BeNil())
			b.pump(100)

			b.model.SetPhyStatus(0x00)
			b.expirePhyPoll()
			b.pump(100)
			b.expirePhyPoll()
			b.pump(100)
			Expect(b.countEvents(NotifyPhyLinkDown)).To(Equal(1))

			b.model.SetPhyStatus(0x07)
			b.expirePhyPoll()
			b.pump(100)
			b.expirePhyPoll()
			b.pump(100)
			Expect(b.countEvents(NotifyPhyLinkUp)).To(Equal(1))
		})

	It("should report socket diagnostics", func() {
		b := newTestBench(4)
		b.bringUp()

		sock := b.driver.OpenUDP(7, nil, nil)
		Expect(sock).ToNot(BeNil())
		b.pump(100)

		diag := b.driver.Diag()
		Expect(diag.Running).To(BeTrue())
		Expect(diag.PhyUp).To(BeTrue())
		Expect(diag.Sockets).To(HaveLen(4))
		Expect(diag.Sockets[3].Phase).To(Equal("udp"))
		Expect(diag.Sockets[0].Phase).To(Equal("closed"))
		Expect(diag.Sockets[0].BufferSize).To(Equal(4096))
	})
})
