package queueing

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rtloop/sim/hooking"
)

var _ = Describe("Queue", func() {
	var (
		q   *Queue[int]
		ctx context.Context
	)

	BeforeEach(func() {
		q = NewQueue[int]("Queue", 2)
		ctx = context.Background()
	})

	It("should allow push and pop", func() {
		Expect(q.Capacity()).To(Equal(2))
		Expect(q.Push(1)).To(Equal(0))
		Expect(q.Push(2)).To(Equal(0))
		Expect(q.Size()).To(Equal(2))

		v, ok := q.Pop(ctx)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))

		v, ok = q.TryPop()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(2))

		_, ok = q.TryPop()
		Expect(ok).To(BeFalse())
	})

	It("should drop the oldest element when full", func() {
		var droppedItems []interface{}
		q.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == HookPosQueueDrop {
				droppedItems = append(droppedItems, ctx.Item)
			}
		}))

		q.Push(1)
		q.Push(2)
		Expect(q.Push(3)).To(Equal(1))

		Expect(q.Dropped()).To(Equal(uint64(1)))
		Expect(droppedItems).To(Equal([]interface{}{1}))

		v, _ := q.TryPop()
		Expect(v).To(Equal(2))
		v, _ = q.TryPop()
		Expect(v).To(Equal(3))
	})

	It("should wait for room before dropping", func() {
		q.Push(1)
		q.Push(2)

		go func() {
			time.Sleep(5 * time.Millisecond)
			q.TryPop()
		}()

		dropped, err := q.PushWait(ctx, 3, time.Second)

		Expect(err).NotTo(HaveOccurred())
		Expect(dropped).To(Equal(0))
		Expect(q.Dropped()).To(Equal(uint64(0)))
	})

	It("should drop after the bounded wait expires", func() {
		q.Push(1)
		q.Push(2)

		dropped, err := q.PushWait(ctx, 3, time.Millisecond)

		Expect(err).NotTo(HaveOccurred())
		Expect(dropped).To(Equal(1))
	})

	It("should stop waiting when the context is canceled", func() {
		q.Push(1)
		q.Push(2)
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := q.PushWait(cancelCtx, 3, time.Second)

		Expect(err).To(MatchError(context.Canceled))
		Expect(q.Size()).To(Equal(2))
	})

	It("should drain remaining elements after close", func() {
		q.Push(1)
		q.Close()

		v, ok := q.Pop(ctx)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))

		_, ok = q.Pop(ctx)
		Expect(ok).To(BeFalse())
	})

	It("should unblock pop on cancellation", func() {
		cancelCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()

		_, ok := q.Pop(cancelCtx)

		Expect(ok).To(BeFalse())
	})

	It("should preserve each producer's order", func() {
		big := NewQueue[[2]int]("Big", 4096)

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					big.Push([2]int{p, i})
				}
			}(p)
		}
		wg.Wait()
		big.Close()

		last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
		for {
			v, ok := big.Pop(ctx)
			if !ok {
				break
			}
			Expect(v[1]).To(BeNumerically(">", last[v[0]]))
			last[v[0]] = v[1]
		}

		for p := 0; p < 4; p++ {
			Expect(last[p]).To(Equal(499))
		}
	})
})
