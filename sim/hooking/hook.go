// Package hooking lets pipeline parts expose observation points that
// telemetry, tracing and tests can attach to without touching stage code.
package hooking

import (
	"sync"
	"sync/atomic"
)

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface. Hooks may be registered while other goroutines are
// invoking them; invocation never takes a lock.
type HookableBase struct {
	registerLock sync.Mutex
	hookList     atomic.Pointer[[]Hook]
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.Hooks())
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	list := h.hookList.Load()
	if list == nil {
		return nil
	}

	return *list
}

// AcceptHook register a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.registerLock.Lock()
	defer h.registerLock.Unlock()

	current := h.Hooks()
	h.mustNotHaveDuplicatedHook(current, hook)

	next := make([]Hook, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, hook)
	h.hookList.Store(&next)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(list []Hook, hook Hook) {
	if _, isFunc := hook.(HookFunc); isFunc {
		return
	}

	for _, existing := range list {
		if existing == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks() {
		hook.Func(ctx)
	}
}
