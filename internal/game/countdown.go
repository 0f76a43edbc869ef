package game

import (
	"sync"
	"time"
)

// countdown is a restartable once-per-interval ticker. Starting it always
// halts any prior run first, so at most one live ticker exists per countdown
// regardless of how many times start is called; a leaked duplicate would
// double-decrement the remaining time.
type countdown struct {
	mu   sync.Mutex
	stop chan struct{}
}

// start begins ticking down from seconds. onTick receives the remaining
// seconds after each decrement; onDone fires once when the count hits zero.
func (c *countdown) start(interval time.Duration, seconds int, onTick func(left int), onDone func()) {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		left := seconds
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				left--
				onTick(left)
				if left <= 0 {
					onDone()
					return
				}
			}
		}
	}()
}

// halt stops the countdown if one is running. Safe to call repeatedly.
func (c *countdown) halt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}
