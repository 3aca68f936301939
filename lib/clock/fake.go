// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only through Advance. Pending
// timers and tickers fire in deadline order, ties broken by the order
// they were armed. AfterFunc callbacks run synchronously inside Advance,
// so a callback must not call Advance itself.
//
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending alarmQueue
	armed   uint64
	changed *sync.Cond
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// alarm is one pending timer or ticker. Exactly one of fire and
// channel is set.
type alarm struct {
	at     time.Time
	order  uint64
	period time.Duration
	fire   func()

	channel chan time.Time

	// index is the alarm's heap position, -1 when not queued.
	index int
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.schedule(&alarm{at: c.now.Add(d), channel: channel, index: -1})
	return channel
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{clock: c, alarm: &alarm{index: -1}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{at: c.now.Add(d), fire: f, index: -1}
	c.schedule(a)
	return &fakeTimer{clock: c, alarm: a}
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: NewTicker needs a positive period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{at: c.now.Add(d), period: d, channel: make(chan time.Time, 1), index: -1}
	c.schedule(a)
	return &fakeTicker{clock: c, alarm: a}
}

// Advance moves the clock forward by d, firing every alarm whose
// deadline is reached. A ticker whose period fits several times into d
// fires once per period, subject to its one-slot channel.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		if len(c.pending) == 0 || c.pending[0].at.After(target) {
			break
		}
		a := heap.Pop(&c.pending).(*alarm)
		c.now = a.at
		if a.period > 0 {
			a.at = a.at.Add(a.period)
			c.schedule(a)
		}
		if a.fire != nil {
			c.mu.Unlock()
			a.fire()
			c.mu.Lock()
			continue
		}
		select {
		case a.channel <- c.now:
		default:
		}
	}
	c.now = target
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n alarms are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed alarms.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// schedule queues a. Caller holds c.mu.
func (c *FakeClock) schedule(a *alarm) {
	c.armed++
	a.order = c.armed
	heap.Push(&c.pending, a)
	c.changed.Broadcast()
}

// cancel removes a if queued and reports whether it was. Caller holds c.mu.
func (c *FakeClock) cancel(a *alarm) bool {
	if a.index < 0 {
		return false
	}
	heap.Remove(&c.pending, a.index)
	c.changed.Broadcast()
	return true
}

type fakeTimer struct {
	clock *FakeClock
	alarm *alarm
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.cancel(t.alarm)
}

type fakeTicker struct {
	clock *FakeClock
	alarm *alarm
}

func (t *fakeTicker) C() <-chan time.Time { return t.alarm.channel }

func (t *fakeTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("clock: Ticker.Reset needs a positive period")
	}
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.cancel(t.alarm)
	t.alarm.period = d
	t.alarm.at = t.clock.now.Add(d)
	t.clock.schedule(t.alarm)
}

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.cancel(t.alarm)
}

// alarmQueue is a min-heap on (at, order).
type alarmQueue []*alarm

func (q alarmQueue) Len() int { return len(q) }

func (q alarmQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].order < q[j].order
	}
	return q[i].at.Before(q[j].at)
}

func (q alarmQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *alarmQueue) Push(x any) {
	a := x.(*alarm)
	a.index = len(*q)
	*q = append(*q, a)
}

func (q *alarmQueue) Pop() any {
	old := *q
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*q = old[:n-1]
	return a
}
