package port

import (
	"context"

	"github.com/rl1809/seckill/internal/core/domain"
)

// CounterStore owns stock and per-user quota counters. Every mutation is one
// indivisible unit against the store; callers never take locks.
type CounterStore interface {
	// Admit checks quota and stock and, only if both pass, moves Quantity units
	// from available to reserved and adds Quantity to the user's purchased count.
	Admit(ctx context.Context, r domain.Reservation) (domain.AdmitResult, error)

	// Compensate reverses Admit. The purchased counter is clamped at zero.
	Compensate(ctx context.Context, r domain.Reservation) error

	// Settle moves Quantity units from reserved to sold once the order is durable.
	Settle(ctx context.Context, r domain.Reservation) error

	// LoadStock primes the counters of one activity product.
	LoadStock(ctx context.Context, activityID, productID int64, level domain.StockLevel) error

	// StockLevel returns the current counters of one activity product.
	StockLevel(ctx context.Context, activityID, productID int64) (domain.StockLevel, error)

	// Purchased returns the user's admitted quantity for one activity product.
	Purchased(ctx context.Context, userID, activityID, productID int64) (int, error)
}
