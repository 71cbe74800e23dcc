package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/seckill/internal/clock"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
	"github.com/rl1809/seckill/internal/telemetry"
)

const (
	defaultPopTimeout      = time.Second
	defaultIntentTimeout   = 5 * time.Second
	defaultRollbackTimeout = 3 * time.Second
	popErrorBackoff        = 500 * time.Millisecond
	depthSampleInterval    = 5 * time.Second
	claimAttempts          = 3
	claimRetryBackoff      = 100 * time.Millisecond
)

type MaterializerConfig struct {
	// PopTimeout bounds each blocking dequeue so shutdown is observed promptly.
	PopTimeout time.Duration
	// IntentTimeout bounds the persistence of a single intent.
	IntentTimeout time.Duration
}

// Materializer drains the intent queue and turns each admitted intent into a
// durable order, or rolls the reservation back when that is impossible.
type Materializer struct {
	queue    port.IntentQueue
	orders   port.OrderRepository
	counters port.CounterStore
	clock    clock.Clock
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	cfg      MaterializerConfig
}

func NewMaterializer(deps Dependencies, cfg MaterializerConfig) *Materializer {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = defaultIntentTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	return &Materializer{
		queue:    deps.Queue,
		orders:   deps.Orders,
		counters: deps.Counters,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		tracer:   otel.Tracer(telemetry.TracerName),
		cfg:      cfg,
	}
}

// RunPool starts count workers and blocks until ctx is cancelled and every
// worker has finished its in-flight intent.
func (m *Materializer) RunPool(ctx context.Context, count int) {
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.Run(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.sampleDepth(ctx)
	}()

	log.Printf("started %d workers", count)
	wg.Wait()
	log.Println("workers stopped")
}

// Run is one worker loop. It returns once ctx is cancelled.
func (m *Materializer) Run(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		intent, err := m.queue.Pop(ctx, m.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrMalformedIntent) {
				log.Printf("worker %d: WARN: dropping malformed intent: %v", id, err)
				m.metrics.ObserveMaterialization(telemetry.OutcomeMalformed)
				continue
			}
			log.Printf("worker %d: dequeue failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(popErrorBackoff):
			}
			continue
		}
		if intent == nil {
			continue
		}

		// In-flight intents finish even if shutdown starts meanwhile.
		intentCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.IntentTimeout)
		outcome := m.Process(intentCtx, *intent)
		cancel()

		log.Printf("worker %d: order %s %s", id, intent.OrderNo, outcome)
	}
}

// Process resolves one intent and returns its outcome label. An intent that
// cannot be claimed was already resolved or withdrawn by its publisher and is dropped.
func (m *Materializer) Process(ctx context.Context, intent domain.OrderIntent) string {
	ctx, span := m.tracer.Start(ctx, "seckill.materialize", trace.WithAttributes(
		attribute.String("seckill.order_no", intent.OrderNo),
	))
	defer span.End()

	claimed, err := m.claim(ctx, intent.OrderNo)
	if err != nil {
		// Without the claim the publisher may still withdraw and compensate this intent.
		span.RecordError(err)
		log.Printf("CRITICAL: cannot claim order %s (user %d, activity %d, product %d, quantity %d), parking it: %v",
			intent.OrderNo, intent.UserID, intent.ActivityID, intent.ProductID, intent.Quantity, err)
		if dlErr := m.queue.DeadLetter(ctx, intent); dlErr != nil {
			log.Printf("CRITICAL: dead-letter failed for order %s: %v", intent.OrderNo, dlErr)
		}
		m.metrics.ObserveMaterialization(telemetry.OutcomeClaimFailed)
		span.SetAttributes(attribute.String("seckill.outcome", telemetry.OutcomeClaimFailed))
		return telemetry.OutcomeClaimFailed
	}
	if !claimed {
		m.metrics.ObserveMaterialization(telemetry.OutcomeStale)
		span.SetAttributes(attribute.String("seckill.outcome", telemetry.OutcomeStale))
		return telemetry.OutcomeStale
	}

	outcome, err := m.persist(ctx, intent)
	if err != nil {
		span.RecordError(err)
	}

	if err := m.queue.Resolve(ctx, intent.OrderNo); err != nil {
		log.Printf("WARN: resolve marker for order %s: %v", intent.OrderNo, err)
	}

	span.SetAttributes(attribute.String("seckill.outcome", outcome))
	return outcome
}

func (m *Materializer) claim(ctx context.Context, orderNo string) (bool, error) {
	var err error
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var claimed bool
		claimed, err = m.queue.Claim(ctx, orderNo)
		if err == nil {
			return claimed, nil
		}
		select {
		case <-ctx.Done():
			return false, err
		case <-time.After(claimRetryBackoff):
		}
	}
	return false, err
}

// persist writes the order and its audit entry, then settles the reservation.
// On a persistence failure the reservation is compensated instead.
func (m *Materializer) persist(ctx context.Context, intent domain.OrderIntent) (string, error) {
	_, err := m.orders.CreateOrder(ctx, intent.ToOrder(m.clock.Now()), intent.AuditEntry())
	switch {
	case err == nil:
		if err := m.counters.Settle(ctx, intent.Reservation()); err != nil {
			log.Printf("WARN: settle order %s: %v", intent.OrderNo, err)
		}
		m.metrics.ObserveMaterialization(telemetry.OutcomeMaterialized)
		return telemetry.OutcomeMaterialized, nil

	case errors.Is(err, domain.ErrDuplicateOrder):
		return m.duplicate(ctx, intent, err)

	default:
		log.Printf("failed to save order %s: %v", intent.OrderNo, err)
		return m.rolledBack(ctx, intent, err)
	}
}

// duplicate handles an order number that is already taken. If the stored order
// is this intent's, an earlier delivery materialized it and the reservation
// belongs to that order. Otherwise two intents drew the same number and this
// one can never be stored, so its reservation is returned.
func (m *Materializer) duplicate(ctx context.Context, intent domain.OrderIntent, cause error) (string, error) {
	existing, err := m.orders.GetOrderByNo(ctx, intent.OrderNo)
	if err != nil {
		// Compensating an order that is in fact ours would oversell, so keep the reservation.
		log.Printf("WARN: cannot verify owner of order %s, leaving its reservation: %v", intent.OrderNo, err)
		m.metrics.ObserveMaterialization(telemetry.OutcomeDuplicate)
		return telemetry.OutcomeDuplicate, errors.Join(cause, err)
	}
	if existing != nil && intent.Matches(*existing) {
		m.metrics.ObserveMaterialization(telemetry.OutcomeDuplicate)
		return telemetry.OutcomeDuplicate, cause
	}

	log.Printf("WARN: order number %s already belongs to another order, returning user %d's reservation",
		intent.OrderNo, intent.UserID)
	return m.rolledBack(ctx, intent, cause)
}

func (m *Materializer) rolledBack(ctx context.Context, intent domain.OrderIntent, cause error) (string, error) {
	if m.rollback(ctx, intent, cause) {
		m.metrics.ObserveMaterialization(telemetry.OutcomeRolledBack)
		return telemetry.OutcomeRolledBack, cause
	}
	m.metrics.ObserveMaterialization(telemetry.OutcomeRollbackFailed)
	return telemetry.OutcomeRollbackFailed, cause
}

// rollback compensates the reservation behind intent. A failed compensation
// leaves the counters wrong for good, so the intent is parked for manual repair.
func (m *Materializer) rollback(ctx context.Context, intent domain.OrderIntent, cause error) bool {
	// The caller's context may be what just expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRollbackTimeout)
	defer cancel()

	if err := m.counters.Compensate(ctx, intent.Reservation()); err != nil {
		m.metrics.ObserveCompensation(false)
		log.Printf("CRITICAL: rollback failed for order %s (user %d, activity %d, product %d, quantity %d): %v; cause: %v",
			intent.OrderNo, intent.UserID, intent.ActivityID, intent.ProductID, intent.Quantity, err, cause)
		if dlErr := m.queue.DeadLetter(ctx, intent); dlErr != nil {
			log.Printf("CRITICAL: dead-letter failed for order %s: %v", intent.OrderNo, dlErr)
		}
		return false
	}

	m.metrics.ObserveCompensation(true)
	log.Printf("rolled back stock for order %s", intent.OrderNo)
	return true
}

func (m *Materializer) sampleDepth(ctx context.Context) {
	ticker := time.NewTicker(depthSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.queue.Depth(ctx)
			if err != nil {
				continue
			}
			m.metrics.SetQueueDepth(n)
		}
	}
}
