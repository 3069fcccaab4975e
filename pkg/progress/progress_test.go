package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestChannel_DropsOldestWhenFull(t *testing.T) {
	c := NewChannel(2)
	for i := 1; i <= 5; i++ {
		c.Report(float64(i*10), int64(i))
	}
	c.Close()

	var got []Update
	for u := range c.C() {
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 buffered updates, got %v", got)
	}
	if got[0].Rows != 4 || got[1].Rows != 5 {
		t.Fatalf("expected the newest updates, got %v", got)
	}
	if c.Dropped() != 3 {
		t.Fatalf("expected 3 drops, got %d", c.Dropped())
	}
}

func TestChannel_Monotonic(t *testing.T) {
	c := NewChannel(10)
	c.Report(50, 500)
	c.Report(40, 400)
	c.Report(50, 450)
	c.Report(60, 600)
	c.Close()

	var got []Update
	for u := range c.C() {
		got = append(got, u)
	}
	if len(got) != 2 || got[0].Rows != 500 || got[1].Rows != 600 {
		t.Fatalf("unexpected sequence %v", got)
	}
	if c.Last().Percent != 60 {
		t.Fatalf("Last = %+v", c.Last())
	}
}

func TestChannel_ConcurrentReportNeverBlocks(t *testing.T) {
	c := NewChannel(1)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Report(float64(i)/10, int64(i))
			}
		}(w)
	}
	wg.Wait()
	c.Close()
	c.Report(100, 1) // after close: ignored, no panic

	var prev Update
	for u := range c.C() {
		if u.Rows < prev.Rows {
			t.Fatalf("non-monotonic update %v after %v", u, prev)
		}
		prev = u
	}
}

func TestChannel_ClampsPercent(t *testing.T) {
	c := NewChannel(4)
	c.Report(-5, 0)
	c.Report(250, 1)
	c.Close()

	var got []float64
	for u := range c.C() {
		got = append(got, u.Percent)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 100 {
		t.Fatalf("unexpected percents %v", got)
	}
}

func TestGate(t *testing.T) {
	g := NewGate(100)
	if g.Due(50) {
		t.Fatal("50 rows should not be due")
	}
	if !g.Due(100) {
		t.Fatal("100 rows should be due")
	}
	if g.Due(150) {
		t.Fatal("150 rows is within the same step")
	}
	if !g.Due(260) {
		t.Fatal("260 rows should be due")
	}
}

func TestGate_ConcurrentClaimsOnce(t *testing.T) {
	g := NewGate(10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Due(10) {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("expected exactly one claim, got %d", claims)
	}
}

func TestToken(t *testing.T) {
	tok := NewToken(context.Background())
	if tok.Cancelled() {
		t.Fatal("fresh token is cancelled")
	}
	tok.Cancel()
	tok.Cancel()
	if !tok.Cancelled() {
		t.Fatal("token should be cancelled")
	}
	if !errors.Is(context.Cause(tok.Context()), ErrCancelRequested) {
		t.Fatalf("unexpected cause %v", context.Cause(tok.Context()))
	}
	<-tok.Done()
}

func TestToken_ParentCancels(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := NewToken(parent)
	cancel()
	if !tok.Cancelled() {
		t.Fatal("parent cancellation should propagate")
	}
}

func TestPump_DeliversUntilClosed(t *testing.T) {
	c := NewChannel(16)
	var got []Update
	p := NewPump(c.C(), func(u Update) error {
		got = append(got, u)
		return nil
	})
	p.Start(context.Background())

	c.Report(10, 1)
	c.Report(20, 2)
	c.Close()
	p.Wait()

	if len(got) != 2 || got[1].Percent != 20 {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestPump_Stop(t *testing.T) {
	c := NewChannel(1)
	p := NewPump(c.C(), func(Update) error { return errors.New("ignored") })
	p.Start(context.Background())
	c.Report(1, 1)
	p.Stop()
}
