package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/seckill/internal/clock"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
	"github.com/rl1809/seckill/internal/telemetry"
)

type Mode string

const (
	// ModeAsync answers after admission and leaves persistence to the materializer.
	ModeAsync Mode = "async"
	// ModeSync persists the order before answering.
	ModeSync Mode = "sync"
)

const (
	defaultQuotaTTL       = 24 * time.Hour
	defaultPaymentTimeout = 15 * time.Minute
)

type Config struct {
	Mode           Mode
	QuotaTTL       time.Duration
	PaymentTimeout time.Duration
}

type Dependencies struct {
	Catalog  port.CatalogRepository
	Orders   port.OrderRepository
	Counters port.CounterStore
	Queue    port.IntentQueue
	Clock    clock.Clock
	Metrics  *telemetry.Metrics
}

type PurchaseRequest struct {
	UserID      int64
	ActivityID  int64
	ProductID   int64
	Quantity    int
	OriginAddr  string
	ClientAgent string
}

type PurchaseResult struct {
	OrderNo         string
	Status          domain.PurchaseStatus
	ActivityID      int64
	ProductID       int64
	Quantity        int
	UnitPrice       int64
	TotalAmount     int64
	PaymentDeadline time.Time
}

type OrderStatusResult struct {
	OrderNo string
	Status  domain.PurchaseStatus
	Order   *domain.Order
}

type SeckillService struct {
	catalog  port.CatalogRepository
	orders   port.OrderRepository
	counters port.CounterStore
	queue    port.IntentQueue
	clock    clock.Clock
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	writer   *Materializer
	cfg      Config
}

func NewSeckillService(deps Dependencies, cfg Config) *SeckillService {
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.QuotaTTL <= 0 {
		cfg.QuotaTTL = defaultQuotaTTL
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = defaultPaymentTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}

	return &SeckillService{
		catalog:  deps.Catalog,
		orders:   deps.Orders,
		counters: deps.Counters,
		queue:    deps.Queue,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		tracer:   otel.Tracer(telemetry.TracerName),
		writer:   NewMaterializer(deps, MaterializerConfig{}),
		cfg:      cfg,
	}
}

func (s *SeckillService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := s.tracer.Start(ctx, "seckill.purchase", trace.WithAttributes(
		attribute.Int64("seckill.user_id", req.UserID),
		attribute.Int64("seckill.activity_id", req.ActivityID),
		attribute.Int64("seckill.product_id", req.ProductID),
		attribute.Int("seckill.quantity", req.Quantity),
	))
	defer span.End()

	result, err := s.purchase(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("seckill.order_no", result.OrderNo))
	return result, nil
}

func (s *SeckillService) purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.UserID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	if req.Quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	activity, err := s.catalog.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	if activity == nil {
		return nil, domain.ErrActivityNotFound
	}

	now := s.clock.Now()
	if !activity.ActiveAt(now) {
		return nil, domain.ErrActivityNotActive
	}

	product, err := s.catalog.GetActivityProduct(ctx, req.ActivityID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("load activity product: %w", err)
	}
	if product == nil {
		return nil, domain.ErrProductNotInActivity
	}

	reservation := domain.Reservation{
		UserID:     req.UserID,
		ActivityID: req.ActivityID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Limit:      product.MaxPurchasePerUser,
		QuotaTTL:   s.quotaTTL(activity, now),
	}

	start := time.Now()
	admitted, err := s.counters.Admit(ctx, reservation)
	if err != nil {
		s.metrics.ObserveAdmission("error", time.Since(start))
		return nil, fmt.Errorf("admit: %w", err)
	}
	s.metrics.ObserveAdmission(admitted.String(), time.Since(start))
	if admitted != domain.Admitted {
		return nil, admitted.Err()
	}

	intent := domain.OrderIntent{
		UserID:          req.UserID,
		ActivityID:      req.ActivityID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		UnitPrice:       product.UnitPrice,
		TotalAmount:     product.UnitPrice * int64(req.Quantity),
		PaymentDeadline: now.Add(s.cfg.PaymentTimeout),
		OriginAddr:      req.OriginAddr,
		ClientAgent:     req.ClientAgent,
		CreatedAt:       now,
	}

	if s.cfg.Mode == ModeSync {
		return s.purchaseSync(ctx, intent)
	}

	orderNo, err := s.queue.Publish(ctx, intent)
	intent.OrderNo = orderNo
	if err != nil {
		return s.abandon(ctx, intent, err)
	}

	return resultFromIntent(intent, domain.PurchaseStatusProcessing), nil
}

// abandon undoes an admission whose publish reported an error. The intent may
// have reached the queue anyway, so its marker is withdrawn first: a worker
// that already claimed it owns the reservation, otherwise no worker ever will.
func (s *SeckillService) abandon(ctx context.Context, intent domain.OrderIntent, cause error) (*PurchaseResult, error) {
	if intent.OrderNo == "" {
		s.writer.rollback(ctx, intent, cause)
		return nil, fmt.Errorf("publish intent: %w", cause)
	}

	withdrawCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRollbackTimeout)
	defer cancel()

	state, err := s.queue.Withdraw(withdrawCtx, intent.OrderNo)
	if err != nil {
		log.Printf("CRITICAL: publish of order %s failed and its marker cannot be withdrawn, reservation kept: %v; cause: %v",
			intent.OrderNo, err, cause)
		if dlErr := s.queue.DeadLetter(withdrawCtx, intent); dlErr != nil {
			log.Printf("CRITICAL: dead-letter failed for order %s: %v", intent.OrderNo, dlErr)
		}
		return nil, fmt.Errorf("publish intent: %w", cause)
	}

	switch state {
	case domain.MarkerClaimed, domain.MarkerResolved:
		log.Printf("WARN: publish of order %s reported %v but a worker already took it", intent.OrderNo, cause)
		return resultFromIntent(intent, domain.PurchaseStatusProcessing), nil
	default:
		s.writer.rollback(ctx, intent, cause)
		return nil, fmt.Errorf("publish intent: %w", cause)
	}
}

func (s *SeckillService) purchaseSync(ctx context.Context, intent domain.OrderIntent) (*PurchaseResult, error) {
	intent.OrderNo = domain.NewOrderNo(s.clock.Now())

	outcome, err := s.writer.persist(ctx, intent)
	switch outcome {
	case telemetry.OutcomeMaterialized:
		return resultFromIntent(intent, domain.PurchaseStatusMaterialized), nil
	default:
		return nil, fmt.Errorf("create order %s: %w", intent.OrderNo, err)
	}
}

// quotaTTL keeps the user's counter alive at least until the activity ends,
// otherwise an expired counter would let the user buy past the limit.
func (s *SeckillService) quotaTTL(activity *domain.Activity, now time.Time) time.Duration {
	remaining := activity.EndTime.Sub(now)
	if remaining > s.cfg.QuotaTTL {
		return remaining
	}
	return s.cfg.QuotaTTL
}

func (s *SeckillService) GetOrderStatus(ctx context.Context, orderNo string) (*OrderStatusResult, error) {
	ctx, span := s.tracer.Start(ctx, "seckill.order_status", trace.WithAttributes(
		attribute.String("seckill.order_no", orderNo),
	))
	defer span.End()

	if orderNo == "" {
		return &OrderStatusResult{Status: domain.PurchaseStatusNotFound}, nil
	}

	// Marker before order: a worker resolves the marker only after the order
	// is committed, so this order of reads cannot miss a fresh order.
	marker, err := s.queue.Marker(ctx, orderNo)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("check marker: %w", err)
	}

	order, err := s.orders.GetOrderByNo(ctx, orderNo)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order != nil {
		return &OrderStatusResult{OrderNo: orderNo, Status: domain.PurchaseStatusMaterialized, Order: order}, nil
	}
	if marker.InFlight() {
		return &OrderStatusResult{OrderNo: orderNo, Status: domain.PurchaseStatusProcessing}, nil
	}
	return &OrderStatusResult{OrderNo: orderNo, Status: domain.PurchaseStatusNotFound}, nil
}

func resultFromIntent(intent domain.OrderIntent, status domain.PurchaseStatus) *PurchaseResult {
	return &PurchaseResult{
		OrderNo:         intent.OrderNo,
		Status:          status,
		ActivityID:      intent.ActivityID,
		ProductID:       intent.ProductID,
		Quantity:        intent.Quantity,
		UnitPrice:       intent.UnitPrice,
		TotalAmount:     intent.TotalAmount,
		PaymentDeadline: intent.PaymentDeadline,
	}
}

// IsRejection reports whether err is an admission failure the caller should see verbatim.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrActivityNotFound) ||
		errors.Is(err, domain.ErrActivityNotActive) ||
		errors.Is(err, domain.ErrProductNotInActivity) ||
		errors.Is(err, domain.ErrQuotaExceeded) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrInvalidUser)
}
