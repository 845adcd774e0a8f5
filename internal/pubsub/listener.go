package pubsub

import (
	"context"
	"sync"
)

// ContinuousListener keeps a subscription open and hands every received
// event to a callback on its own goroutine until the context ends.
type ContinuousListener[T any] struct {
	ch   <-chan Event[T]
	done chan struct{}
	once sync.Once
}

// NewContinuousListener subscribes to broker for the lifetime of ctx.
func NewContinuousListener[T any](ctx context.Context, broker *Broker[T]) *ContinuousListener[T] {
	return &ContinuousListener[T]{
		ch:   broker.Subscribe(ctx),
		done: make(chan struct{}),
	}
}

// Listen starts delivering events to fn. Only the first call has an effect.
func (l *ContinuousListener[T]) Listen(fn func(Event[T])) {
	l.once.Do(func() {
		go func() {
			defer close(l.done)
			for event := range l.ch {
				fn(event)
			}
		}()
	})
}

// Done is closed once the subscription ends and every received event was delivered.
func (l *ContinuousListener[T]) Done() <-chan struct{} {
	return l.done
}
