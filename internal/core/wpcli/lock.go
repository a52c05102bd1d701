package wpcli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
)

// instanceLocks serializes mutating operations per instance. Each instance
// gets a one-slot channel so waiting honours context cancellation.
type instanceLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wait  time.Duration
}

func newInstanceLocks(wait time.Duration) *instanceLocks {
	return &instanceLocks{slots: make(map[string]chan struct{}), wait: wait}
}

func (l *instanceLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// acquire blocks until the instance is free, the wait budget runs out
// (BusyError) or ctx is done.
func (l *instanceLocks) acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, domain.Infrastructure("request cancelled while waiting for instance", ctx.Err())
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, &domain.Error{Kind: domain.KindBusy, Message: "instance is busy with another operation", Err: waitCtx.Err()}
		}
		return nil, waitCtx.Err()
	}
}
