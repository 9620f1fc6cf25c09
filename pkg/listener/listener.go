// Package listener runs a handler for every value received on a channel
// until stopped.
package listener

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

type Listener[T any] struct {
	name        string
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

func New[T any](
	name string,
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		name:        name,
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
	}
}

// NewTicker calls fn every interval. The ticker is released on Stop.
func NewTicker(name string, interval time.Duration, fn func(time.Time) error) *Listener[time.Time] {
	t := time.NewTicker(interval)
	return New(name, t.C, fn, t.Stop)
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case inp, ok := <-l.in:
				if !ok {
					return
				}
				if err := l.handler(inp); err != nil {
					slog.Warn("listener handler failed", "listener", l.name, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop, waits for an in-flight handler and then runs the
// stop handler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
