package w5500

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/zynaptic/w5500go/hal"
	"github.com/zynaptic/w5500go/kernel"
)

var _ = Describe("Adaptor", func() {
	var (
		mockCtrl *gomock.Controller
		bus      *MockBus
		device   *MockDevice
		resetPin *MockOutputPin
		intPin   *MockInterruptPin
		driver   *Driver
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		bus = NewMockBus(mockCtrl)
		device = NewMockDevice(mockCtrl)
		resetPin = NewMockOutputPin(mockCtrl)
		intPin = NewMockInterruptPin(mockCtrl)

		engine := kernel.NewEngine(nil)
		var err error
		driver, err = New(engine, Config{
			Bus:          bus,
			Device:       device,
			ResetPin:     resetPin,
			InterruptPin: intPin,
			MACAddr:      [6]byte{2, 0, 0, 0x55, 0, 1},
			MaxSockets:   4,
		})
		Expect(err).ToNot(HaveOccurred())

		// Run the reset sequence so the adaptor reaches the idle
		// state.
		resetPin.EXPECT().SetState(false)
		intPin.EXPECT().Enable(false, true)
		resetPin.EXPECT().SetState(true)
		driver.adaptorTick()
		driver.adaptorTick()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	pump := func(n int) {
		for i := 0; i < n; i++ {
			driver.adaptorTick()
		}
	}

	It("should frame an inline read and route the response", func() {
		t := &transaction{
			address: regVersion,
			control: ctrlCommonRegs | ctrlReadEnable,
			size:    1,
		}
		Expect(driver.cmdStream.Write(t)).To(BeTrue())

		gomock.InOrder(
			device.EXPECT().Select().Return(true),
			bus.EXPECT().InlineWrite([]byte{0x00, 0x39, 0x00}).
				Return(hal.StatusOK),
			bus.EXPECT().InlineRead(gomock.Len(1)).
				DoAndReturn(func(p []byte) hal.Status {
					p[0] = deviceVersion
					return hal.StatusOK
				}),
			device.EXPECT().Release().Return(true),
		)
		pump(8)

		rsp, ok := driver.rspStream.Read()
		Expect(ok).To(BeTrue())
		Expect(rsp.inline[0]).To(Equal(uint8(deviceVersion)))
		Expect(rsp.address).To(Equal(uint16(regVersion)))
	})

	It("should mask the discard flag off the wire and drop the response",
		func() {
			t := &transaction{
				address: sockRegCommand,
				control: ctrlSocketRegs(0) |
					ctrlWriteEnable | ctrlDiscardResponse,
			}
			t.setInline(sockCmdOpen)
			Expect(driver.cmdStream.Write(t)).To(BeTrue())

			gomock.InOrder(
				device.EXPECT().Select().Return(true),
				bus.EXPECT().InlineWrite([]byte{0x00, 0x01, 0x0C}).
					Return(hal.StatusOK),
				bus.EXPECT().InlineWrite([]byte{sockCmdOpen}).
					Return(hal.StatusOK),
				device.EXPECT().Release().Return(true),
			)
			pump(8)

			_, ok := driver.rspStream.Read()
			Expect(ok).To(BeFalse())
		})

	It("should prefer interrupt status reads over queued commands", func() {
		t := &transaction{
			address: regVersion,
			control: ctrlCommonRegs | ctrlReadEnable,
			size:    1,
		}
		Expect(driver.cmdStream.Write(t)).To(BeTrue())
		driver.intEvent.Set(intEventRequest)

		gomock.InOrder(
			device.EXPECT().Select().Return(true),
			bus.EXPECT().InlineWrite([]byte{0x00, 0x15, 0x00}).
				Return(hal.StatusOK),
			bus.EXPECT().InlineRead(gomock.Len(4)).Return(hal.StatusOK),
			device.EXPECT().Release().Return(true),
			device.EXPECT().Select().Return(true),
			bus.EXPECT().InlineWrite([]byte{0x00, 0x39, 0x00}).
				Return(hal.StatusOK),
			bus.EXPECT().InlineRead(gomock.Len(1)).Return(hal.StatusOK),
			device.EXPECT().Release().Return(true),
		)
		pump(16)

		first, ok := driver.rspStream.Read()
		Expect(ok).To(BeTrue())
		Expect(first.address).To(Equal(uint16(regCommonIntStatus)))
		second, ok := driver.rspStream.Read()
		Expect(ok).To(BeTrue())
		Expect(second.address).To(Equal(uint16(regVersion)))
	})

	It("should chunk long payloads through the asynchronous interface",
		func() {
			t := &transaction{
				address: 0x0000,
				control: ctrlSocketTxBuf(1) |
					ctrlWriteEnable | ctrlDiscardResponse,
			}
			t.data.Resize(150)

			Expect(driver.cmdStream.Write(t)).To(BeTrue())

			chunkLens := []int{}
			gomock.InOrder(
				device.EXPECT().Select().Return(true),
				bus.EXPECT().InlineWrite([]byte{0x00, 0x00, 0x34}).
					Return(hal.StatusOK),
				bus.EXPECT().StartWrite(gomock.Any()).Times(3).
					DoAndReturn(func(p []byte) bool {
						chunkLens = append(chunkLens, len(p))
						return true
					}),
				device.EXPECT().Release().Return(true),
			)
			bus.EXPECT().Complete().Times(3).Return(hal.StatusOK)
			pump(16)

			Expect(chunkLens).To(Equal([]int{64, 64, 22}))
		})

	It("should complete each transaction before starting the next", func() {
		for i := 0; i < 2; i++ {
			t := &transaction{
				address: regVersion,
				control: ctrlCommonRegs | ctrlReadEnable,
				size:    1,
			}
			Expect(driver.cmdStream.Write(t)).To(BeTrue())
		}

		gomock.InOrder(
			device.EXPECT().Select().Return(true),
			bus.EXPECT().InlineWrite(gomock.Any()).Return(hal.StatusOK),
			bus.EXPECT().InlineRead(gomock.Any()).Return(hal.StatusOK),
			device.EXPECT().Release().Return(true),
			device.EXPECT().Select().Return(true),
			bus.EXPECT().InlineWrite(gomock.Any()).Return(hal.StatusOK),
			bus.EXPECT().InlineRead(gomock.Any()).Return(hal.StatusOK),
			device.EXPECT().Release().Return(true),
		)
		pump(16)
	})
})
