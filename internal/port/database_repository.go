package port

import (
	"context"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists the order and its audit entry in one transaction.
	// A reused order number returns domain.ErrDuplicateOrder.
	CreateOrder(ctx context.Context, order domain.Order, entry domain.AuditEntry) (int64, error)

	// GetOrderByNo returns nil, nil when no order exists.
	GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error)
}

type CatalogRepository interface {
	// GetActivity returns nil, nil when the activity does not exist.
	GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error)

	// GetActivityProduct returns nil, nil when the product is not in the activity.
	GetActivityProduct(ctx context.Context, activityID, productID int64) (*domain.ActivityProduct, error)

	ListActivityProducts(ctx context.Context, activityID int64) ([]domain.ActivityProduct, error)

	// ListOpenActivities returns pending or active activities that have not ended at now.
	ListOpenActivities(ctx context.Context, now time.Time) ([]domain.Activity, error)

	// UpdateStockSnapshot writes counters back with a version check for optimistic locking.
	UpdateStockSnapshot(ctx context.Context, product domain.ActivityProduct) error
}

// Repository is what a single durable store provides.
type Repository interface {
	OrderRepository
	CatalogRepository
	Close() error
}
