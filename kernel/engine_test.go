package kernel

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// runEngine starts the engine on a background goroutine, returning a
// function that stops it and waits for the run loop to exit.
func runEngine(engine *Engine) func() {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		engine.Run(ctx)
	}()
	return func() {
		cancel()
		<-finished
	}
}

var _ = Describe("Engine", func() {
	var engine *Engine

	BeforeEach(func() {
		engine = NewEngine(nil)
	})

	It("should not run a task before it is started", func() {
		var ticks atomic.Int32
		engine.NewTask("idle", func() Status {
			ticks.Add(1)
			return Suspend()
		})

		done := runEngine(engine)
		defer done()

		Consistently(ticks.Load).Should(BeZero())
	})

	It("should re-invoke a task that requests an immediate run", func() {
		var ticks atomic.Int32
		task := engine.NewTask("burst", func() Status {
			if ticks.Add(1) < 5 {
				return RunNow()
			}
			return Suspend()
		})

		done := runEngine(engine)
		defer done()

		task.Start()
		Eventually(ticks.Load).Should(Equal(int32(5)))
		Consistently(ticks.Load).Should(Equal(int32(5)))
	})

	It("should park a suspended task until it is resumed", func() {
		var ticks atomic.Int32
		task := engine.NewTask("parked", func() Status {
			ticks.Add(1)
			return Suspend()
		})

		done := runEngine(engine)
		defer done()

		task.Start()
		Eventually(ticks.Load).Should(Equal(int32(1)))
		Consistently(ticks.Load).Should(Equal(int32(1)))

		task.Resume()
		Eventually(ticks.Load).Should(Equal(int32(2)))
	})

	It("should honour a requested delay", func() {
		started := time.Now()
		var elapsed atomic.Int64
		var ticks atomic.Int32
		task := engine.NewTask("delayed", func() Status {
			if ticks.Add(1) == 1 {
				return RunAfter(30 * time.Millisecond)
			}
			elapsed.Store(int64(time.Since(started)))
			return Suspend()
		})

		done := runEngine(engine)
		defer done()

		task.Start()
		Eventually(ticks.Load).Should(Equal(int32(2)))
		Expect(time.Duration(elapsed.Load())).
			To(BeNumerically(">=", 30*time.Millisecond))
	})

	It("should run a resumed task ahead of its pending delay", func() {
		var ticks atomic.Int32
		task := engine.NewTask("cut-short", func() Status {
			if ticks.Add(1) == 1 {
				return RunAfter(time.Hour)
			}
			return Suspend()
		})

		done := runEngine(engine)
		defer done()

		task.Start()
		Eventually(ticks.Load).Should(Equal(int32(1)))

		task.Resume()
		Eventually(ticks.Load).Should(Equal(int32(2)))
	})

	It("should interleave runnable tasks", func() {
		var first, second atomic.Int32
		taskA := engine.NewTask("first", func() Status {
			if first.Add(1) < 10 {
				return RunNow()
			}
			return Suspend()
		})
		taskB := engine.NewTask("second", func() Status {
			if second.Add(1) < 10 {
				return RunNow()
			}
			return Suspend()
		})

		done := runEngine(engine)
		defer done()

		taskA.Start()
		taskB.Start()
		Eventually(first.Load).Should(Equal(int32(10)))
		Eventually(second.Load).Should(Equal(int32(10)))
	})

	It("should return when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		finished := make(chan error, 1)
		go func() {
			finished <- engine.Run(ctx)
		}()

		cancel()
		Eventually(finished).Should(Receive(MatchError(context.Canceled)))
	})

	It("should return when stopped directly", func() {
		finished := make(chan error, 1)
		go func() {
			finished <- engine.Run(context.Background())
		}()

		engine.Stop()
		Eventually(finished).Should(Receive(BeNil()))
	})
})

var _ = Describe("EventFlags", func() {
	It("should accumulate bits until they are reset", func() {
		events := NewEventFlags(nil)
		events.Set(0x01)
		events.Set(0x04)
		Expect(events.ResetAll()).To(Equal(uint32(0x05)))
		Expect(events.ResetAll()).To(BeZero())
	})

	It("should resume the consumer task on every set", func() {
		engine := NewEngine(nil)
		var observed atomic.Uint32
		resumed := make(chan struct{}, 4)
		var events *EventFlags
		task := engine.NewTask("handler", func() Status {
			bits := events.ResetAll()
			for {
				old := observed.Load()
				if observed.CompareAndSwap(old, old|bits) {
					break
				}
			}
			resumed <- struct{}{}
			return Suspend()
		})
		events = NewEventFlags(task)

		done := runEngine(engine)
		defer done()

		events.Set(0x02)
		Eventually(resumed).Should(Receive())
		events.Set(0x08)
		Eventually(resumed).Should(Receive())
		Expect(observed.Load()).To(Equal(uint32(0x0A)))
	})
})
