package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/seckill/internal/core/domain"
)

// seedFunc inserts an activity with one product and returns the activity id.
type seedFunc func(ctx context.Context, a domain.Activity, p domain.ActivityProduct) (int64, error)

// runRepositoryContract exercises the behaviour both SQL repositories share.
func runRepositoryContract(t *testing.T, repo SchemaRepository, seed seedFunc) {
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))
	// Applying the schema twice is harmless.
	require.NoError(t, repo.EnsureSchema(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	activityID, err := seed(ctx, domain.Activity{
		Name:      "contract",
		Status:    domain.ActivityStatusActive,
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
	}, domain.ActivityProduct{
		ProductID:          11,
		ProductName:        "phone",
		UnitPrice:          9900,
		MaxPurchasePerUser: 2,
		TotalStock:         100,
		AvailableStock:     100,
	})
	require.NoError(t, err)

	t.Run("catalog", func(t *testing.T) {
		activity, err := repo.GetActivity(ctx, activityID)
		require.NoError(t, err)
		require.NotNil(t, activity)
		assert.Equal(t, domain.ActivityStatusActive, activity.Status)
		assert.True(t, activity.ActiveAt(now))

		missing, err := repo.GetActivity(ctx, -1)
		require.NoError(t, err)
		assert.Nil(t, missing)

		product, err := repo.GetActivityProduct(ctx, activityID, 11)
		require.NoError(t, err)
		require.NotNil(t, product)
		assert.Equal(t, int64(9900), product.UnitPrice)
		assert.Equal(t, 2, product.MaxPurchasePerUser)
		assert.Equal(t, 100, product.AvailableStock)

		absent, err := repo.GetActivityProduct(ctx, activityID, 12)
		require.NoError(t, err)
		assert.Nil(t, absent)

		products, err := repo.ListActivityProducts(ctx, activityID)
		require.NoError(t, err)
		assert.Len(t, products, 1)
	})

	t.Run("open activities", func(t *testing.T) {
		product := domain.ActivityProduct{ProductID: 11, ProductName: "phone", UnitPrice: 100, MaxPurchasePerUser: 1, TotalStock: 1, AvailableStock: 1}
		endedID, err := seed(ctx, domain.Activity{
			Name: "ended", Status: domain.ActivityStatusEnded,
			StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
		}, product)
		require.NoError(t, err)
		pastID, err := seed(ctx, domain.Activity{
			Name: "past", Status: domain.ActivityStatusActive,
			StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour),
		}, product)
		require.NoError(t, err)
		upcomingID, err := seed(ctx, domain.Activity{
			Name: "upcoming", Status: domain.ActivityStatusPending,
			StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour),
		}, product)
		require.NoError(t, err)

		open, err := repo.ListOpenActivities(ctx, now)
		require.NoError(t, err)

		var ids []int64
		for _, a := range open {
			ids = append(ids, a.ID)
		}
		assert.Contains(t, ids, activityID)
		assert.Contains(t, ids, upcomingID)
		assert.NotContains(t, ids, endedID)
		assert.NotContains(t, ids, pastID)
	})

	t.Run("orders", func(t *testing.T) {
		intent := domain.OrderIntent{
			OrderNo:         domain.NewOrderNo(now),
			UserID:          1001,
			ActivityID:      activityID,
			ProductID:       11,
			Quantity:        2,
			UnitPrice:       9900,
			TotalAmount:     19800,
			PaymentDeadline: now.Add(15 * time.Minute),
			OriginAddr:      "10.1.2.3",
			ClientAgent:     "contract-test",
		}

		id, err := repo.CreateOrder(ctx, intent.ToOrder(now), intent.AuditEntry())
		require.NoError(t, err)
		assert.Positive(t, id)

		_, err = repo.CreateOrder(ctx, intent.ToOrder(now), intent.AuditEntry())
		assert.ErrorIs(t, err, domain.ErrDuplicateOrder)

		order, err := repo.GetOrderByNo(ctx, intent.OrderNo)
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, id, order.ID)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.Equal(t, int64(19800), order.TotalAmount)
		assert.True(t, intent.PaymentDeadline.Equal(order.PaymentDeadline.UTC()),
			fmt.Sprintf("deadline %v != %v", intent.PaymentDeadline, order.PaymentDeadline))

		missing, err := repo.GetOrderByNo(ctx, "SK-none")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("stock snapshot", func(t *testing.T) {
		product, err := repo.GetActivityProduct(ctx, activityID, 11)
		require.NoError(t, err)
		require.NotNil(t, product)

		stale := *product
		product.AvailableStock, product.ReservedStock, product.SoldStock = 90, 4, 6
		require.NoError(t, repo.UpdateStockSnapshot(ctx, *product))

		stale.AvailableStock = 1
		assert.ErrorIs(t, repo.UpdateStockSnapshot(ctx, stale), domain.ErrOptimisticLock)

		fresh, err := repo.GetActivityProduct(ctx, activityID, 11)
		require.NoError(t, err)
		assert.Equal(t, 90, fresh.AvailableStock)
		assert.Equal(t, 4, fresh.ReservedStock)
		assert.Equal(t, 6, fresh.SoldStock)
		assert.Equal(t, product.Version+1, fresh.Version)
	})
}
