// Package memory provides in-process implementations of the counter store and
// intent queue for single-instance deployments and tests.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

var ErrClosed = errors.New("memory store closed")

type counters struct {
	values map[string]int
	expiry map[string]time.Time
	now    func() time.Time
}

func (c *counters) get(key string) int {
	if exp, ok := c.expiry[key]; ok && !c.now().Before(exp) {
		delete(c.values, key)
		delete(c.expiry, key)
	}
	return c.values[key]
}

func (c *counters) set(key string, v int) {
	c.values[key] = v
}

func (c *counters) expire(key string, ttl time.Duration) {
	c.expiry[key] = c.now().Add(ttl)
}

// CounterStore serializes every operation through one goroutine, which gives
// the same all-or-nothing guarantee as a Lua script on a single Redis node.
type CounterStore struct {
	ops  chan func(*counters)
	quit chan struct{}
	done chan struct{}
}

func NewCounterStore() *CounterStore {
	return newCounterStore(time.Now)
}

func newCounterStore(now func() time.Time) *CounterStore {
	s := &CounterStore{
		ops:  make(chan func(*counters)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	c := &counters{
		values: make(map[string]int),
		expiry: make(map[string]time.Time),
		now:    now,
	}
	go s.loop(c)
	return s
}

func (s *CounterStore) loop(c *counters) {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op(c)
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish.
func (s *CounterStore) do(ctx context.Context, fn func(*counters)) error {
	finished := make(chan struct{})
	op := func(c *counters) {
		fn(c)
		close(finished)
	}

	select {
	case s.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}
	<-finished
	return nil
}

func (s *CounterStore) Close() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
}

func (s *CounterStore) Admit(ctx context.Context, r domain.Reservation) (domain.AdmitResult, error) {
	var result domain.AdmitResult
	err := s.do(ctx, func(c *counters) {
		purchased := c.get(r.UserKey())
		if purchased+r.Quantity > r.Limit {
			result = domain.QuotaExceeded
			return
		}
		available := c.get(r.StockKey())
		if available < r.Quantity {
			result = domain.InsufficientStock
			return
		}
		c.set(r.StockKey(), available-r.Quantity)
		c.set(r.ReservedKey(), c.get(r.ReservedKey())+r.Quantity)
		c.set(r.UserKey(), purchased+r.Quantity)
		if r.QuotaTTL > 0 {
			c.expire(r.UserKey(), r.QuotaTTL)
		}
		result = domain.Admitted
	})
	return result, err
}

func (s *CounterStore) Compensate(ctx context.Context, r domain.Reservation) error {
	return s.do(ctx, func(c *counters) {
		restore := min(r.Quantity, c.get(r.ReservedKey()))
		if restore > 0 {
			c.set(r.StockKey(), c.get(r.StockKey())+restore)
			c.set(r.ReservedKey(), c.get(r.ReservedKey())-restore)
		}
		if purchased := c.get(r.UserKey()); purchased > 0 {
			c.set(r.UserKey(), max(0, purchased-r.Quantity))
		}
	})
}

func (s *CounterStore) Settle(ctx context.Context, r domain.Reservation) error {
	return s.do(ctx, func(c *counters) {
		settle := min(r.Quantity, c.get(r.ReservedKey()))
		if settle > 0 {
			c.set(r.ReservedKey(), c.get(r.ReservedKey())-settle)
			c.set(r.SoldKey(), c.get(r.SoldKey())+settle)
		}
	})
}

func (s *CounterStore) LoadStock(ctx context.Context, activityID, productID int64, level domain.StockLevel) error {
	return s.do(ctx, func(c *counters) {
		c.set(domain.StockKey(activityID, productID), level.Available)
		c.set(domain.ReservedKey(activityID, productID), level.Reserved)
		c.set(domain.SoldKey(activityID, productID), level.Sold)
	})
}

func (s *CounterStore) StockLevel(ctx context.Context, activityID, productID int64) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := s.do(ctx, func(c *counters) {
		level = domain.StockLevel{
			Available: c.get(domain.StockKey(activityID, productID)),
			Reserved:  c.get(domain.ReservedKey(activityID, productID)),
			Sold:      c.get(domain.SoldKey(activityID, productID)),
		}
	})
	return level, err
}

func (s *CounterStore) Purchased(ctx context.Context, userID, activityID, productID int64) (int, error) {
	var n int
	err := s.do(ctx, func(c *counters) {
		n = c.get(domain.UserQuotaKey(userID, activityID, productID))
	})
	return n, err
}
