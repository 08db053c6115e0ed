package kernel

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Status", func() {
	It("should run immediately with no delay", func() {
		status := RunNow()
		Expect(status.IsSuspend()).To(BeFalse())
		Expect(status.Delay()).To(BeZero())
	})

	It("should run after the requested delay", func() {
		status := RunAfter(50 * time.Millisecond)
		Expect(status.IsSuspend()).To(BeFalse())
		Expect(status.Delay()).To(Equal(50 * time.Millisecond))
	})

	It("should treat a non-positive delay as an immediate run", func() {
		Expect(RunAfter(0)).To(Equal(RunNow()))
		Expect(RunAfter(-time.Second)).To(Equal(RunNow()))
	})

	It("should suspend", func() {
		Expect(Suspend().IsSuspend()).To(BeTrue())
	})

	Describe("Prioritise", func() {
		It("should prefer an immediate run over anything else", func() {
			Expect(Prioritise(RunNow(), Suspend())).To(Equal(RunNow()))
			Expect(Prioritise(Suspend(), RunNow())).To(Equal(RunNow()))
			Expect(Prioritise(RunNow(), RunAfter(time.Second))).
				To(Equal(RunNow()))
		})

		It("should prefer any run over a suspend", func() {
			delayed := RunAfter(time.Second)
			Expect(Prioritise(delayed, Suspend())).To(Equal(delayed))
			Expect(Prioritise(Suspend(), delayed)).To(Equal(delayed))
		})

		It("should keep the shorter of two delays", func() {
			short := RunAfter(10 * time.Millisecond)
			long := RunAfter(time.Second)
			Expect(Prioritise(short, long)).To(Equal(short))
			Expect(Prioritise(long, short)).To(Equal(short))
		})

		It("should only suspend when both sides suspend", func() {
			Expect(Prioritise(Suspend(), Suspend()).IsSuspend()).
				To(BeTrue())
		})
	})
})
