package exam

import (
	"sync"
	"time"
)

// Clock schedules the countdown. Every calls fn once per interval until the
// returned stop function is called. Stop is idempotent, never blocks (it may be
// called from inside fn) and ends the schedule; a tick already in flight may
// still land, so fn must tolerate being called after stop.
type Clock interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// RealClock drives the countdown from a time.Ticker.
type RealClock struct {
	wg sync.WaitGroup
}

// Every starts a ticker goroutine.
func (rc *RealClock) Every(interval time.Duration, fn func()) func() {
	t := time.NewTicker(interval)
	done := make(chan struct{})

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				// A stop may race with a pending tick.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Wait blocks until every ticker goroutine started by rc has exited.
func (rc *RealClock) Wait() {
	rc.wg.Wait()
}

// ManualClock only ticks when told to. It lets tests drive the countdown
// without waiting on wall time.
type ManualClock struct {
	mu      sync.Mutex
	fn      func()
	running bool
	starts  int
}

// NewManualClock creates a stopped ManualClock.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Every registers fn. Only one schedule is active at a time.
func (c *ManualClock) Every(_ time.Duration, fn func()) func() {
	c.mu.Lock()
	c.fn = fn
	c.running = true
	c.starts++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.running = false
			c.fn = nil
			c.mu.Unlock()
		})
	}
}

// Advance delivers n ticks, stopping early if the schedule is torn down.
// It returns the number of ticks delivered.
func (c *ManualClock) Advance(n int) int {
	delivered := 0
	for i := 0; i < n; i++ {
		c.mu.Lock()
		fn, running := c.fn, c.running
		c.mu.Unlock()
		if !running {
			break
		}
		fn()
		delivered++
	}
	return delivered
}

// Running reports whether a schedule is active.
func (c *ManualClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Starts reports how many schedules have been registered.
func (c *ManualClock) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}
