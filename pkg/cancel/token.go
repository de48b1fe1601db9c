// Package cancel provides the cooperative cancellation flag shared by the
// scan, extraction and conversion loops of a batch.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a write-once cancellation flag. Loops poll Cancelled at their
// boundaries; nothing in-flight is interrupted.
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// New creates an unset token
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the flag. It returns true only for the call that set it.
func (t *Token) Cancel() bool {
	set := false
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
		set = true
	})
	return set
}

// Cancelled reports whether the flag has been set. A nil token is never cancelled.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load()
}

// Done is closed when the flag is set
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Bind sets the token when ctx is done. The returned stop function releases
// the watcher goroutine without cancelling.
func (t *Token) Bind(ctx context.Context) (stop func()) {
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			t.Cancel()
		case <-quit:
		case <-t.done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-exited
	}
}

// Context derives a context that is cancelled together with the token.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
