package progress

import (
	"context"
	"log/slog"
	"sync"
)

// Pump forwards updates from a channel to a handler on its own goroutine so
// a slow consumer never holds up the run producing them.
type Pump struct {
	in      <-chan Update
	handler func(Update) error

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPump(in <-chan Update, handler func(Update) error) *Pump {
	return &Pump{in: in, handler: handler, cancel: func() {}}
}

// Start runs until the input channel is closed or Stop is called.
func (p *Pump) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		for {
			select {
			case u, ok := <-p.in:
				if !ok {
					return
				}
				if err := p.handler(u); err != nil {
					slog.Warn("progress handler failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the input channel has been drained and closed.
func (p *Pump) Wait() { p.wg.Wait() }

// Stop ends the pump without draining.
func (p *Pump) Stop() {
	p.cancel()
	p.wg.Wait()
}
