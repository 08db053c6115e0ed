package kernel

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Stream", func() {
	var stream *Stream[int]

	BeforeEach(func() {
		stream = NewStream[int](3)
	})

	It("should deliver elements in order", func() {
		Expect(stream.Write(1)).To(BeTrue())
		Expect(stream.Write(2)).To(BeTrue())

		item, ok := stream.Read()
		Expect(ok).To(BeTrue())
		Expect(item).To(Equal(1))
		item, ok = stream.Read()
		Expect(ok).To(BeTrue())
		Expect(item).To(Equal(2))
	})

	It("should reject reads when empty", func() {
		_, ok := stream.Read()
		Expect(ok).To(BeFalse())
	})

	It("should reject writes when full", func() {
		Expect(stream.Write(1)).To(BeTrue())
		Expect(stream.Write(2)).To(BeTrue())
		Expect(stream.Write(3)).To(BeTrue())
		Expect(stream.Write(4)).To(BeFalse())
	})

	It("should track read and write capacity", func() {
		Expect(stream.ReadCapacity()).To(BeZero())
		Expect(stream.WriteCapacity()).To(Equal(3))
		stream.Write(1)
		Expect(stream.ReadCapacity()).To(Equal(1))
		Expect(stream.WriteCapacity()).To(Equal(2))
	})

	It("should return a pushed back element on the next read", func() {
		stream.Write(1)
		stream.Write(2)

		item, _ := stream.Read()
		Expect(stream.PushBack(item)).To(BeTrue())

		item, ok := stream.Read()
		Expect(ok).To(BeTrue())
		Expect(item).To(Equal(1))
	})

	It("should drain all queued elements", func() {
		stream.Write(1)
		stream.Write(2)
		Expect(stream.Drain()).To(Equal([]int{1, 2}))
		Expect(stream.ReadCapacity()).To(BeZero())
	})

	It("should enforce a minimum capacity of one", func() {
		tiny := NewStream[int](0)
		Expect(tiny.Write(1)).To(BeTrue())
		Expect(tiny.Write(2)).To(BeFalse())
	})

	It("should resume the consumer when becoming non-empty", func() {
		engine := NewEngine(nil)
		resumed := make(chan struct{}, 1)
		task := engine.NewTask("consumer", func() Status {
			resumed <- struct{}{}
			return Suspend()
		})
		stream.SetConsumer(task)

		done := runEngine(engine)
		defer done()

		stream.Write(1)
		Eventually(resumed).Should(Receive())

		// A write to an already non-empty stream does not wake the
		// consumer again.
		stream.Write(2)
		Consistently(resumed).ShouldNot(Receive())
	})
})
