package patrol

import (
	"context"
	"time"
)

// Ticker is a running periodic task. Stop cancels it and waits for the
// in-flight call, if any, to return.
type Ticker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Every calls fn with the tick time once per period until ctx is done or Stop
// is called. Ticks that fall behind are dropped by time.Ticker, never queued.
func Every(ctx context.Context, period time.Duration, fn func(now time.Time)) *Ticker {
	ctx, cancel := context.WithCancel(ctx)
	t := &Ticker{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				fn(now)
			case <-ctx.Done():
				return
			}
		}
	}()
	return t
}

func (t *Ticker) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the ticker goroutine has exited.
func (t *Ticker) Done() <-chan struct{} { return t.done }
