// Package retry polls an operation with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a poll loop.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Timeout time.Duration
}

// DefaultPolicy suits container start-up: 500ms doubling to 5s, two minutes total.
var DefaultPolicy = Policy{Initial: 500 * time.Millisecond, Max: 5 * time.Second, Timeout: 2 * time.Minute}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Until calls op until it succeeds, returns a Permanent error, the policy
// timeout elapses or ctx is done. It returns the last error seen.
// notify, if set, is called after each failed attempt.
func Until(ctx context.Context, p Policy, op func(ctx context.Context) error, notify func(err error, next time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = p.Timeout

	return backoff.RetryNotify(func() error {
		return op(ctx)
	}, backoff.WithContext(b, ctx), notify)
}
