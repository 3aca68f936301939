// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"sync"
)

type runContextKey struct{}

// RunContextManager carries RunContexts through context.Context values
// and binds callbacks to a captured RunContext.
//
// Go has no continuation hooks to intercept, so "current" is whatever
// the caller's context carries. The manager never mutates a context it
// was given; every change derives a new one. That makes restoring the
// previous context on return or panic automatic: the caller still holds
// it.
type RunContextManager struct {
	root *RunContext
}

// NewRunContextManager returns a manager with an empty root context.
func NewRunContextManager() *RunContextManager {
	return &RunContextManager{root: &RunContext{}}
}

// Root returns the context used when none was entered.
func (m *RunContextManager) Root() *RunContext {
	return m.root
}

// Current returns the RunContext carried by ctx, or the root. It never
// returns nil.
func (m *RunContextManager) Current(ctx context.Context) *RunContext {
	if ctx == nil {
		return m.root
	}
	if rc, ok := ctx.Value(runContextKey{}).(*RunContext); ok && rc != nil {
		return rc
	}
	return m.root
}

// ContextWith returns a child of ctx carrying rc. A nil rc carries the
// root.
func (m *RunContextManager) ContextWith(ctx context.Context, rc *RunContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if rc == nil {
		rc = m.root
	}
	return context.WithValue(ctx, runContextKey{}, rc)
}

// WithContext runs fn with rc current and returns fn's error. The
// caller's ctx is untouched, so on return (or when fn panics, which
// propagates) the caller observes exactly the context it had before.
func (m *RunContextManager) WithContext(ctx context.Context, rc *RunContext, fn func(context.Context) error) error {
	return fn(m.ContextWith(ctx, rc))
}

// BindFunc returns a function that runs fn with rc current, whatever
// context it is eventually called with. The caller's context still
// supplies cancellation and other values.
func (m *RunContextManager) BindFunc(rc *RunContext, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		fn(m.ContextWith(ctx, rc))
	}
}

// BindEmitter makes every later listener call on e run with rc current.
func (m *RunContextManager) BindEmitter(rc *RunContext, e *Emitter) *Emitter {
	e.mu.Lock()
	e.bound = rc
	e.manager = m
	e.mu.Unlock()
	return e
}

// Bind binds a func(context.Context) or an *Emitter to rc. Any other
// target is returned unchanged.
func (m *RunContextManager) Bind(rc *RunContext, target any) any {
	switch t := target.(type) {
	case func(context.Context):
		return m.BindFunc(rc, t)
	case *Emitter:
		if t == nil {
			return target
		}
		return m.BindEmitter(rc, t)
	}
	return target
}

// Go runs fn on a new goroutine with the RunContext current in ctx.
// The goroutine keeps ctx's values but not its cancellation: the
// caller returning must not cut short work it handed off.
func (m *RunContextManager) Go(ctx context.Context, fn func(context.Context)) {
	rc := m.Current(ctx)
	detached := m.ContextWith(context.WithoutCancel(ctx), rc)
	go fn(detached)
}

// Listener handles an emitted event.
type Listener func(ctx context.Context, args ...any)

// Emitter is a minimal named-event dispatcher. Listeners run
// synchronously on the emitting goroutine, in registration order.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]Listener
	bound     *RunContext
	manager   *RunContextManager
}

// NewEmitter returns an Emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]Listener)}
}

// On registers fn for events named name.
func (e *Emitter) On(name string, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string][]Listener)
	}
	e.listeners[name] = append(e.listeners[name], fn)
}

// Emit calls the listeners for name and returns how many ran. A bound
// emitter runs them with its bound RunContext current rather than the
// one in ctx.
func (e *Emitter) Emit(ctx context.Context, name string, args ...any) int {
	e.mu.Lock()
	listeners := append([]Listener(nil), e.listeners[name]...)
	bound, manager := e.bound, e.manager
	e.mu.Unlock()

	if manager != nil {
		ctx = manager.ContextWith(ctx, bound)
	} else if ctx == nil {
		ctx = context.Background()
	}
	for _, listener := range listeners {
		listener(ctx, args...)
	}
	return len(listeners)
}

// Bound reports whether BindEmitter has been applied.
func (e *Emitter) Bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager != nil
}
