package hooking

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingHook struct {
	lock  sync.Mutex
	items []interface{}
}

func (h *countingHook) Func(ctx HookCtx) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.items = append(h.items, ctx.Item)
}

type hookableThing struct {
	HookableBase
}

var _ = Describe("HookableBase", func() {
	var (
		thing *hookableThing
		pos   *HookPos
	)

	BeforeEach(func() {
		thing = &hookableThing{}
		pos = &HookPos{Name: "Test"}
	})

	It("should start without hooks", func() {
		Expect(thing.NumHooks()).To(Equal(0))
		Expect(thing.Hooks()).To(BeEmpty())
	})

	It("should invoke hooks in registration order", func() {
		var order []string
		thing.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "a") }))
		thing.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "b") }))

		thing.InvokeHook(HookCtx{Domain: thing, Pos: pos, Item: 1})

		Expect(order).To(Equal([]string{"a", "b"}))
	})

	It("should panic on duplicated hook", func() {
		h := &countingHook{}
		thing.AcceptHook(h)

		Expect(func() { thing.AcceptHook(h) }).To(Panic())
	})

	It("should allow registering while invoking", func() {
		h := &countingHook{}
		thing.AcceptHook(h)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					thing.InvokeHook(HookCtx{Domain: thing, Pos: pos, Item: i})
				}
			}(i)
		}

		thing.AcceptHook(&countingHook{})
		wg.Wait()

		Expect(h.items).To(HaveLen(400))
		Expect(thing.NumHooks()).To(Equal(2))
	})
})
