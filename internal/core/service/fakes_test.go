package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/seckill/internal/adapter/memory"
	"github.com/rl1809/seckill/internal/clock"
	"github.com/rl1809/seckill/internal/core/domain"
)

var testNow = time.Date(2026, 11, 11, 0, 0, 30, 0, time.UTC)

// fakeRepo is an in-memory catalog and order store with a unique order number.
type fakeRepo struct {
	mu         sync.Mutex
	activities map[int64]domain.Activity
	products   map[[2]int64]domain.ActivityProduct
	orders     map[string]domain.Order
	audits     []domain.AuditEntry
	createErr  error
	lockMisses int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		activities: make(map[int64]domain.Activity),
		products:   make(map[[2]int64]domain.ActivityProduct),
		orders:     make(map[string]domain.Order),
	}
}

func (r *fakeRepo) addActivity(a domain.Activity, products ...domain.ActivityProduct) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[a.ID] = a
	for _, p := range products {
		p.ActivityID = a.ID
		r.products[[2]int64{a.ID, p.ProductID}] = p
	}
}

func (r *fakeRepo) CreateOrder(ctx context.Context, order domain.Order, entry domain.AuditEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return 0, r.createErr
	}
	if _, ok := r.orders[order.OrderNo]; ok {
		return 0, domain.ErrDuplicateOrder
	}
	order.ID = int64(len(r.orders) + 1)
	r.orders[order.OrderNo] = order
	r.audits = append(r.audits, entry)
	return order.ID, nil
}

func (r *fakeRepo) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderNo]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *fakeRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *fakeRepo) GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activities[activityID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *fakeRepo) GetActivityProduct(ctx context.Context, activityID, productID int64) (*domain.ActivityProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[[2]int64{activityID, productID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakeRepo) ListActivityProducts(ctx context.Context, activityID int64) ([]domain.ActivityProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ActivityProduct
	for key, p := range r.products {
		if key[0] == activityID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListOpenActivities(ctx context.Context, now time.Time) ([]domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Activity
	for _, a := range r.activities {
		open := a.Status == domain.ActivityStatusPending || a.Status == domain.ActivityStatusActive
		if open && a.EndTime.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) UpdateStockSnapshot(ctx context.Context, p domain.ActivityProduct) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]int64{p.ActivityID, p.ProductID}
	current, ok := r.products[key]
	if !ok {
		return domain.ErrOptimisticLock
	}
	if r.lockMisses > 0 {
		// Simulate a concurrent writer bumping the version.
		r.lockMisses--
		current.Version++
		r.products[key] = current
		return domain.ErrOptimisticLock
	}
	if current.Version != p.Version {
		return domain.ErrOptimisticLock
	}
	p.Version++
	r.products[key] = p
	return nil
}

func (r *fakeRepo) product(activityID, productID int64) domain.ActivityProduct {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[[2]int64{activityID, productID}]
}

// brokenCounters fails Compensate on demand.
type brokenCounters struct {
	*memory.CounterStore
	mock.Mock
}

func (b *brokenCounters) Compensate(ctx context.Context, r domain.Reservation) error {
	args := b.Called(ctx, r)
	return args.Error(0)
}

// fixture wires a service and materializer to the in-memory adapters with one
// open activity (id 1) selling product 2 at 9900 with a per-user limit of 2.
type fixture struct {
	repo     *fakeRepo
	counters *memory.CounterStore
	queue    *memory.IntentQueue
	svc      *SeckillService
	worker   *Materializer
}

func newFixture(t *testing.T, stock int, cfg Config) *fixture {
	t.Helper()

	repo := newFakeRepo()
	repo.addActivity(domain.Activity{
		ID:        1,
		Name:      "double eleven",
		Status:    domain.ActivityStatusActive,
		StartTime: testNow.Add(-time.Minute),
		EndTime:   testNow.Add(time.Hour),
	}, domain.ActivityProduct{
		ProductID:          2,
		ProductName:        "phone",
		UnitPrice:          9900,
		MaxPurchasePerUser: 2,
		TotalStock:         stock,
		AvailableStock:     stock,
	})

	counters := memory.NewCounterStore()
	t.Cleanup(counters.Close)
	require.NoError(t, counters.LoadStock(context.Background(), 1, 2, domain.StockLevel{Available: stock}))

	queue := memory.NewIntentQueue(1024, time.Minute)
	deps := Dependencies{
		Catalog:  repo,
		Orders:   repo,
		Counters: counters,
		Queue:    queue,
		Clock:    clock.NewFixed(testNow),
	}

	return &fixture{
		repo:     repo,
		counters: counters,
		queue:    queue,
		svc:      NewSeckillService(deps, cfg),
		worker:   NewMaterializer(deps, MaterializerConfig{PopTimeout: 20 * time.Millisecond}),
	}
}

func (f *fixture) buy(userID int64, quantity int) (*PurchaseResult, error) {
	return f.svc.Purchase(context.Background(), PurchaseRequest{
		UserID:     userID,
		ActivityID: 1,
		ProductID:  2,
		Quantity:   quantity,
	})
}

// drain materializes everything currently queued.
func (f *fixture) drain(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	var outcomes []string
	for {
		intent, err := f.queue.Pop(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		if intent == nil {
			return outcomes
		}
		outcomes = append(outcomes, f.worker.Process(ctx, *intent))
	}
}

func (f *fixture) level(t *testing.T) domain.StockLevel {
	t.Helper()
	level, err := f.counters.StockLevel(context.Background(), 1, 2)
	require.NoError(t, err)
	return level
}

var errReplyLost = errors.New("i/o timeout reading reply")

// lossyQueue enqueues through the memory queue but reports a failure
// afterwards, as a client does when the reply to a successful write is lost.
type lossyQueue struct {
	*memory.IntentQueue
	// onPublished runs between the enqueue and the reported error.
	onPublished func(ctx context.Context, orderNo string)
}

func (q *lossyQueue) Publish(ctx context.Context, intent domain.OrderIntent) (string, error) {
	orderNo, err := q.IntentQueue.Publish(ctx, intent)
	if err != nil {
		return orderNo, err
	}
	if q.onPublished != nil {
		q.onPublished(ctx, orderNo)
	}
	return orderNo, errReplyLost
}

// lateOrders runs onRead once right after its first order lookup, so a write
// can land between the lookup and whatever the caller reads next.
type lateOrders struct {
	*fakeRepo
	once   sync.Once
	onRead func()
}

func (r *lateOrders) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	order, err := r.fakeRepo.GetOrderByNo(ctx, orderNo)
	r.once.Do(r.onRead)
	return order, err
}

// failingLookup stores orders but cannot read them back.
type failingLookup struct {
	*fakeRepo
	err error
}

func (r *failingLookup) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	return nil, r.err
}
