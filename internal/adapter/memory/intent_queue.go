package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

var ErrQueueFull = errors.New("intent queue full")

const publishAttempts = 3

// IntentQueue is a bounded FIFO backed by a channel. Receiving from the channel
// hands each intent to exactly one worker.
type IntentQueue struct {
	intents    chan domain.OrderIntent
	markerTTL  time.Duration
	now        func() time.Time
	newOrderNo func(time.Time) string

	mu         sync.Mutex
	markers    map[string]marker
	deadLetter []domain.OrderIntent
}

type marker struct {
	state   domain.MarkerState
	expires time.Time
}

func NewIntentQueue(size int, markerTTL time.Duration) *IntentQueue {
	return &IntentQueue{
		intents:    make(chan domain.OrderIntent, size),
		markerTTL:  markerTTL,
		now:        time.Now,
		newOrderNo: domain.NewOrderNo,
		markers:    make(map[string]marker),
	}
}

func (q *IntentQueue) Publish(ctx context.Context, intent domain.OrderIntent) (string, error) {
	orderNo, ok := q.reserveOrderNo()
	if !ok {
		return "", domain.ErrOrderNoTaken
	}
	intent.OrderNo = orderNo

	select {
	case q.intents <- intent:
		return intent.OrderNo, nil
	case <-ctx.Done():
		q.dropMarker(intent.OrderNo)
		return "", ctx.Err()
	default:
		q.dropMarker(intent.OrderNo)
		return "", ErrQueueFull
	}
}

func (q *IntentQueue) Pop(ctx context.Context, wait time.Duration) (*domain.OrderIntent, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case intent := <-q.intents:
		return &intent, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *IntentQueue) Marker(ctx context.Context, orderNo string) (domain.MarkerState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.markerLocked(orderNo).state, nil
}

func (q *IntentQueue) Claim(ctx context.Context, orderNo string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.markerLocked(orderNo)
	if m.state != domain.MarkerPending {
		return false, nil
	}
	m.state = domain.MarkerClaimed
	q.markers[orderNo] = m
	return true, nil
}

func (q *IntentQueue) Resolve(ctx context.Context, orderNo string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.markerLocked(orderNo)
	if m.state != domain.MarkerAbsent {
		m.state = domain.MarkerResolved
		q.markers[orderNo] = m
	}
	return nil
}

func (q *IntentQueue) Withdraw(ctx context.Context, orderNo string) (domain.MarkerState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.markerLocked(orderNo)
	if m.state == domain.MarkerPending {
		delete(q.markers, orderNo)
	}
	return m.state, nil
}

func (q *IntentQueue) DeadLetter(ctx context.Context, intent domain.OrderIntent) error {
	q.mu.Lock()
	q.deadLetter = append(q.deadLetter, intent)
	q.mu.Unlock()
	return nil
}

// DeadLettered returns a copy of the intents parked by DeadLetter.
func (q *IntentQueue) DeadLettered() []domain.OrderIntent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.OrderIntent(nil), q.deadLetter...)
}

func (q *IntentQueue) Depth(ctx context.Context) (int64, error) {
	return int64(len(q.intents)), nil
}

// reserveOrderNo draws an order number without a live marker and marks it pending.
func (q *IntentQueue) reserveOrderNo() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for attempt := 0; attempt < publishAttempts; attempt++ {
		orderNo := q.newOrderNo(q.now())
		if q.markerLocked(orderNo).state != domain.MarkerAbsent {
			continue
		}
		q.markers[orderNo] = marker{state: domain.MarkerPending, expires: q.now().Add(q.markerTTL)}
		return orderNo, true
	}
	return "", false
}

// markerLocked returns the live marker for orderNo, dropping it once expired.
func (q *IntentQueue) markerLocked(orderNo string) marker {
	m, ok := q.markers[orderNo]
	if !ok {
		return marker{}
	}
	if !q.now().Before(m.expires) {
		delete(q.markers, orderNo)
		return marker{}
	}
	return m
}

func (q *IntentQueue) dropMarker(orderNo string) {
	q.mu.Lock()
	delete(q.markers, orderNo)
	q.mu.Unlock()
}
