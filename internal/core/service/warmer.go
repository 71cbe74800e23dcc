package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

const reconcileAttempts = 3

// StockWarmer moves stock between the durable catalog and the counter store.
type StockWarmer struct {
	catalog  port.CatalogRepository
	counters port.CounterStore
}

func NewStockWarmer(catalog port.CatalogRepository, counters port.CounterStore) *StockWarmer {
	return &StockWarmer{catalog: catalog, counters: counters}
}

// Warmup primes the counters of every product in the activity from the catalog
// and returns how many products were loaded. It must run before the activity
// opens: loading over live counters discards in-flight reservations.
func (w *StockWarmer) Warmup(ctx context.Context, activityID int64) (int, error) {
	activity, err := w.catalog.GetActivity(ctx, activityID)
	if err != nil {
		return 0, fmt.Errorf("load activity: %w", err)
	}
	if activity == nil {
		return 0, domain.ErrActivityNotFound
	}

	products, err := w.catalog.ListActivityProducts(ctx, activityID)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	for _, p := range products {
		level := domain.StockLevel{
			Available: p.AvailableStock,
			Reserved:  p.ReservedStock,
			Sold:      p.SoldStock,
		}
		if err := w.counters.LoadStock(ctx, activityID, p.ProductID, level); err != nil {
			return 0, fmt.Errorf("load stock for product %d: %w", p.ProductID, err)
		}
		log.Printf("warmed activity %d product %d: available=%d reserved=%d sold=%d",
			activityID, p.ProductID, level.Available, level.Reserved, level.Sold)
	}
	return len(products), nil
}

// WarmupOpen warms every activity that is pending or active and has not ended
// at now. It returns the number of products loaded.
func (w *StockWarmer) WarmupOpen(ctx context.Context, now time.Time) (int, error) {
	activities, err := w.catalog.ListOpenActivities(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list open activities: %w", err)
	}

	var total int
	for _, a := range activities {
		n, err := w.Warmup(ctx, a.ID)
		if err != nil {
			return total, fmt.Errorf("warm activity %d: %w", a.ID, err)
		}
		total += n
	}
	log.Printf("warmed %d products across %d open activities", total, len(activities))
	return total, nil
}

// Reconcile writes the live counters of every product in the activity back to
// the catalog snapshot.
func (w *StockWarmer) Reconcile(ctx context.Context, activityID int64) (int, error) {
	products, err := w.catalog.ListActivityProducts(ctx, activityID)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}
	if len(products) == 0 {
		activity, err := w.catalog.GetActivity(ctx, activityID)
		if err != nil {
			return 0, fmt.Errorf("load activity: %w", err)
		}
		if activity == nil {
			return 0, domain.ErrActivityNotFound
		}
	}

	for _, p := range products {
		if err := w.reconcileProduct(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(products), nil
}

func (w *StockWarmer) reconcileProduct(ctx context.Context, p domain.ActivityProduct) error {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		level, err := w.counters.StockLevel(ctx, p.ActivityID, p.ProductID)
		if err != nil {
			return fmt.Errorf("read counters for product %d: %w", p.ProductID, err)
		}

		p.AvailableStock = level.Available
		p.ReservedStock = level.Reserved
		p.SoldStock = level.Sold

		err = w.catalog.UpdateStockSnapshot(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrOptimisticLock) {
			return fmt.Errorf("write snapshot for product %d: %w", p.ProductID, err)
		}

		// Someone else wrote the row: pick up its version and retry.
		fresh, err := w.catalog.GetActivityProduct(ctx, p.ActivityID, p.ProductID)
		if err != nil {
			return fmt.Errorf("reload product %d: %w", p.ProductID, err)
		}
		if fresh == nil {
			return domain.ErrProductNotInActivity
		}
		p = *fresh
	}
	return fmt.Errorf("write snapshot for product %d: %w", p.ProductID, domain.ErrOptimisticLock)
}
