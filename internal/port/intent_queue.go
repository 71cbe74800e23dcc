package port

import (
	"context"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

type IntentQueue interface {
	// Publish assigns an order number, sets a pending processing marker and
	// appends the intent to the queue tail. An error returned together with a
	// non-empty order number means the intent may still have been enqueued.
	Publish(ctx context.Context, intent domain.OrderIntent) (string, error)

	// Pop blocks up to wait for the queue head. It returns nil, nil on timeout.
	Pop(ctx context.Context, wait time.Duration) (*domain.OrderIntent, error)

	Marker(ctx context.Context, orderNo string) (domain.MarkerState, error)

	// Claim atomically moves a pending marker to claimed. It returns false when
	// the intent was already claimed, resolved, withdrawn or has expired.
	Claim(ctx context.Context, orderNo string) (bool, error)

	// Resolve marks a claimed intent as finished. The marker then lives out its TTL.
	Resolve(ctx context.Context, orderNo string) error

	// Withdraw deletes the marker only if it is still pending, so no worker can
	// claim the intent afterwards. It returns the state it found.
	Withdraw(ctx context.Context, orderNo string) (domain.MarkerState, error)

	// DeadLetter parks an intent for manual reconciliation.
	DeadLetter(ctx context.Context, intent domain.OrderIntent) error

	Depth(ctx context.Context) (int64, error)
}
