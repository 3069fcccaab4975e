// Package progress carries the two side channels of a long comparison run:
// progress updates flowing out and cancellation flowing in.
package progress

import (
	"math"
	"sync"
	"sync/atomic"
)

// Update is one progress sample.
type Update struct {
	Percent float64 `json:"percent"`
	Rows    int64   `json:"rows"`
}

// Reporter receives progress. Implementations must be safe for concurrent
// use and must not block the caller.
type Reporter interface {
	Report(percent float64, rows int64)
}

// Func adapts a plain function to Reporter.
type Func func(percent float64, rows int64)

func (f Func) Report(percent float64, rows int64) { f(percent, rows) }

type nop struct{}

func (nop) Report(float64, int64) {}

// Nop discards all updates.
var Nop Reporter = nop{}

// Channel is a Reporter backed by a bounded channel. When the consumer falls
// behind, the oldest pending update is dropped. Updates that would move
// backwards are discarded, so the consumer only sees a monotonic sequence.
type Channel struct {
	mu     sync.Mutex
	ch     chan Update
	last   Update
	seen   bool
	closed bool
	drops  atomic.Int64
}

func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Update, size)}
}

// C is the receive side.
func (c *Channel) C() <-chan Update { return c.ch }

func (c *Channel) Report(percent float64, rows int64) {
	u := Update{Percent: clampPercent(percent), Rows: rows}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.seen && (u.Percent < c.last.Percent || u.Rows < c.last.Rows) {
		return
	}
	c.last, c.seen = u, true

	for {
		select {
		case c.ch <- u:
			return
		default:
		}
		// full: drop the oldest and retry
		select {
		case <-c.ch:
			c.drops.Add(1)
		default:
		}
	}
}

// Last returns the most recent accepted update.
func (c *Channel) Last() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Dropped is the number of updates discarded because the consumer was slow.
func (c *Channel) Dropped() int64 { return c.drops.Load() }

// Close stops accepting updates and closes C. Reports after Close are
// ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Gate decides when a row count has advanced far enough to be worth a
// report. It is safe for concurrent workers: for every step of `every`
// rows exactly one caller is told to report.
type Gate struct {
	every int64
	mark  atomic.Int64
}

func NewGate(every int64) *Gate {
	if every < 1 {
		every = 1
	}
	return &Gate{every: every}
}

// Due reports whether rows has crossed the next reporting mark, and claims
// it when so.
func (g *Gate) Due(rows int64) bool {
	for {
		mark := g.mark.Load()
		if rows-mark < g.every {
			return false
		}
		if g.mark.CompareAndSwap(mark, rows) {
			return true
		}
	}
}
