package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/core/domain"
)

const (
	defaultMarkerTTL = 5 * time.Minute
	publishAttempts  = 3
)

// KEYS: processing marker, queue. ARGV: pending state, marker ttl ms, payload.
// Returns 1 when enqueued, 0 when the order number already has a marker.
var publishScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	redis.call('LPUSH', KEYS[2], ARGV[3])
	return 1
end
return 0
`)

// KEYS: processing marker. ARGV: pending state, claimed state.
// Returns 1 when this caller took the pending marker, 0 otherwise.
var claimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
	return 1
end
return 0
`)

// KEYS: processing marker. ARGV: pending state.
// Deletes a pending marker and returns the state found, empty when absent.
var withdrawScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1])
if not state then
	return ''
end
if state == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
return state
`)

// RedisQueue is the intent queue: a Redis list fed with LPUSH and drained with
// BRPOP, so each intent is delivered to exactly one worker in FIFO order.
// The marker and queue keys must share a hash slot on Redis Cluster.
type RedisQueue struct {
	client        redis.UniversalClient
	markerTTL     time.Duration
	queueKey      string
	deadLetterKey string
	now           func() time.Time
	newOrderNo    func(time.Time) string
}

type QueueOption func(*RedisQueue)

// WithQueueKeys replaces the default order_queue and order_rollback_failed lists,
// so several deployments can share one Redis.
func WithQueueKeys(queueKey, deadLetterKey string) QueueOption {
	return func(q *RedisQueue) {
		q.queueKey = queueKey
		q.deadLetterKey = deadLetterKey
	}
}

// NewRedisQueue returns a queue whose processing markers live for markerTTL.
// markerTTL must comfortably exceed the time a worker needs to materialize an intent.
func NewRedisQueue(client redis.UniversalClient, markerTTL time.Duration, opts ...QueueOption) *RedisQueue {
	if markerTTL <= 0 {
		markerTTL = defaultMarkerTTL
	}
	q := &RedisQueue{
		client:        client,
		markerTTL:     markerTTL,
		queueKey:      domain.OrderQueueKey,
		deadLetterKey: domain.RollbackFailedQueueKey,
		now:           time.Now,
		newOrderNo:    domain.NewOrderNo,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish returns the order number alongside a script error: the script may
// have run even though the reply never arrived.
func (q *RedisQueue) Publish(ctx context.Context, intent domain.OrderIntent) (string, error) {
	for attempt := 0; attempt < publishAttempts; attempt++ {
		intent.OrderNo = q.newOrderNo(q.now())

		payload, err := json.Marshal(intent)
		if err != nil {
			return "", fmt.Errorf("encode intent: %w", err)
		}

		keys := []string{domain.ProcessingKey(intent.OrderNo), q.queueKey}
		created, err := publishScript.Run(ctx, q.client, keys,
			string(domain.MarkerPending), q.markerTTL.Milliseconds(), payload).Int()
		if err != nil {
			return intent.OrderNo, fmt.Errorf("publish intent %s: %w", intent.OrderNo, err)
		}
		if created == 1 {
			return intent.OrderNo, nil
		}
	}
	return "", fmt.Errorf("publish intent: %w", domain.ErrOrderNoTaken)
}

func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (*domain.OrderIntent, error) {
	result, err := q.client.BRPop(ctx, wait, q.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop intent: %w", err)
	}

	// result is [key, value]
	var intent domain.OrderIntent
	if err := json.Unmarshal([]byte(result[1]), &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedIntent, err)
	}
	if intent.OrderNo == "" || intent.Quantity <= 0 {
		return nil, fmt.Errorf("%w: missing order number or quantity", domain.ErrMalformedIntent)
	}
	return &intent, nil
}

func (q *RedisQueue) Marker(ctx context.Context, orderNo string) (domain.MarkerState, error) {
	state, err := q.client.Get(ctx, domain.ProcessingKey(orderNo)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.MarkerAbsent, nil
	}
	if err != nil {
		return domain.MarkerAbsent, fmt.Errorf("read marker %s: %w", orderNo, err)
	}
	return domain.MarkerState(state), nil
}

func (q *RedisQueue) Claim(ctx context.Context, orderNo string) (bool, error) {
	n, err := claimScript.Run(ctx, q.client, []string{domain.ProcessingKey(orderNo)},
		string(domain.MarkerPending), string(domain.MarkerClaimed)).Int()
	if err != nil {
		return false, fmt.Errorf("claim marker %s: %w", orderNo, err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Resolve(ctx context.Context, orderNo string) error {
	err := q.client.SetArgs(ctx, domain.ProcessingKey(orderNo), string(domain.MarkerResolved),
		redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	// XX on an expired marker is a no-op reported as redis.Nil.
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("resolve marker %s: %w", orderNo, err)
	}
	return nil
}

func (q *RedisQueue) Withdraw(ctx context.Context, orderNo string) (domain.MarkerState, error) {
	state, err := withdrawScript.Run(ctx, q.client, []string{domain.ProcessingKey(orderNo)},
		string(domain.MarkerPending)).Text()
	if err != nil {
		return domain.MarkerAbsent, fmt.Errorf("withdraw marker %s: %w", orderNo, err)
	}
	return domain.MarkerState(state), nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, intent domain.OrderIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadLetterKey, payload).Err(); err != nil {
		return fmt.Errorf("dead-letter intent %s: %w", intent.OrderNo, err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
