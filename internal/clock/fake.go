package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline order,
// on the goroutine that called Advance. Callbacks may register new timers
// but must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	ch       chan time.Time
	done     bool
}

// Fake returns a FakeClock set to start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&fakeTimer{clock: c, deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers f to run when the clock passes now+d. A non-positive
// d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &fakeTimer{clock: c, done: true}
	}
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.addLocked(t)
	c.mu.Unlock()
	return t
}

// Sleep blocks until another goroutine advances the clock past now+d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves time forward by d and fires every timer whose deadline is
// reached, including timers registered by callbacks fired along the way.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.popDue(target)
		if t == nil {
			break
		}
		if t.fn != nil {
			t.fn()
		} else {
			t.ch <- t.deadline
		}
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// popDue removes and returns the earliest timer due at or before target,
// moving the clock to its deadline.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})
	if len(c.pending) == 0 || c.pending[0].deadline.After(target) {
		return nil
	}
	t := c.pending[0]
	c.pending = c.pending[1:]
	t.done = true
	if t.deadline.After(c.now) {
		c.now = t.deadline
	}
	return t
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers that have not fired or been
// stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) addLocked(t *fakeTimer) {
	c.pending = append(c.pending, t)
	c.changed.Broadcast()
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	return true
}
