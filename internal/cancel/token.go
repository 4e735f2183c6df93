package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is an in-process, write-once "this job must stop" flag. Exactly one
// signal transitions it; later signals are no-ops. Tokens in the API and
// worker processes are causally linked only through the cancellation record,
// never shared in memory.
type Token struct {
	mu        sync.Mutex
	signalled atomic.Bool
	reason    string
	done      chan struct{}
	listeners map[int]func(reason string)
	nextID    int
}

// NewToken returns an unsignalled Token.
func NewToken() *Token {
	return &Token{
		done:      make(chan struct{}),
		listeners: make(map[int]func(reason string)),
	}
}

// Signal transitions the token to signalled and fires registered listeners.
// The first call wins; the reason of later calls is discarded.
func (t *Token) Signal(reason string) {
	t.mu.Lock()
	if t.signalled.Load() {
		t.mu.Unlock()
		return
	}
	t.reason = reason
	t.signalled.Store(true)
	close(t.done)
	fns := make([]func(string), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listeners = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}

// Signalled reports whether the token has been signalled.
func (t *Token) Signalled() bool {
	return t.signalled.Load()
}

// Reason returns the reason passed to the winning Signal call, or "".
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel closed once the token is signalled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnSignal registers a one-shot listener. If the token is already signalled
// the listener runs synchronously before OnSignal returns. The returned
// function removes the listener without firing it; removing after the signal
// is a no-op.
func (t *Token) OnSignal(fn func(reason string)) (remove func()) {
	t.mu.Lock()
	if t.signalled.Load() {
		reason := t.reason
		t.mu.Unlock()
		fn(reason)
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.listeners != nil {
			delete(t.listeners, id)
		}
	}
}

// TokenFromContext returns a Token signalled with reason when ctx ends,
// typically used to turn a client disconnect into a cancellation signal. The
// returned stop function releases the watching goroutine without signalling.
func TokenFromContext(ctx context.Context, reason string) (*Token, func()) {
	t := NewToken()
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.Signal(reason)
		case <-stopCh:
		}
	}()
	var once sync.Once
	return t, func() { once.Do(func() { close(stopCh) }) }
}
