package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/core/domain"
)

const defaultQuotaTTL = 24 * time.Hour

// KEYS: user quota, stock, reserved. ARGV: quantity, per-user limit, quota ttl milliseconds.
// Returns 1 admitted, -1 quota exceeded, -2 insufficient stock.
var admitScript = redis.NewScript(`
local quantity = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local purchased = tonumber(redis.call('GET', KEYS[1]) or '0')
if purchased + quantity > limit then
	return -1
end

local available = tonumber(redis.call('GET', KEYS[2]) or '0')
if available < quantity then
	return -2
end

redis.call('DECRBY', KEYS[2], quantity)
redis.call('INCRBY', KEYS[3], quantity)
redis.call('INCRBY', KEYS[1], quantity)
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// KEYS: stock, reserved, user quota. ARGV: quantity.
// Restores at most what is still reserved; returns the restored amount.
var compensateScript = redis.NewScript(`
local quantity = tonumber(ARGV[1])

local reserved = tonumber(redis.call('GET', KEYS[2]) or '0')
local restore = quantity
if reserved < restore then
	restore = reserved
end
if restore > 0 then
	redis.call('INCRBY', KEYS[1], restore)
	redis.call('DECRBY', KEYS[2], restore)
end

local purchased = tonumber(redis.call('GET', KEYS[3]) or '0')
if purchased > 0 then
	local left = purchased - quantity
	if left < 0 then
		left = 0
	end
	redis.call('SET', KEYS[3], left, 'KEEPTTL')
end
return restore
`)

// KEYS: reserved, sold. ARGV: quantity. Returns the settled amount.
var settleScript = redis.NewScript(`
local quantity = tonumber(ARGV[1])
local reserved = tonumber(redis.call('GET', KEYS[1]) or '0')
local settle = quantity
if reserved < settle then
	settle = reserved
end
if settle > 0 then
	redis.call('DECRBY', KEYS[1], settle)
	redis.call('INCRBY', KEYS[2], settle)
end
return settle
`)

type RedisAdapter struct {
	client redis.UniversalClient
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Admit(ctx context.Context, res domain.Reservation) (domain.AdmitResult, error) {
	keys := []string{res.UserKey(), res.StockKey(), res.ReservedKey()}
	result, err := admitScript.Run(ctx, r.client, keys, res.Quantity, res.Limit, quotaTTLMillis(res.QuotaTTL)).Int()
	if err != nil {
		return 0, fmt.Errorf("run admit script: %w", err)
	}

	switch result {
	case 1:
		return domain.Admitted, nil
	case -1:
		return domain.QuotaExceeded, nil
	case -2:
		return domain.InsufficientStock, nil
	default:
		return 0, fmt.Errorf("admit script returned %d: %w", result, domain.ErrUnknownAdmitResult)
	}
}

// quotaTTLMillis rounds up so a sub-millisecond TTL still expires the quota key.
func quotaTTLMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = defaultQuotaTTL
	}
	ms := ttl.Milliseconds()
	if ttl%time.Millisecond != 0 {
		ms++
	}
	return ms
}

func (r *RedisAdapter) Compensate(ctx context.Context, res domain.Reservation) error {
	keys := []string{res.StockKey(), res.ReservedKey(), res.UserKey()}
	if err := compensateScript.Run(ctx, r.client, keys, res.Quantity).Err(); err != nil {
		return fmt.Errorf("run compensate script: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Settle(ctx context.Context, res domain.Reservation) error {
	keys := []string{res.ReservedKey(), res.SoldKey()}
	if err := settleScript.Run(ctx, r.client, keys, res.Quantity).Err(); err != nil {
		return fmt.Errorf("run settle script: %w", err)
	}
	return nil
}

func (r *RedisAdapter) LoadStock(ctx context.Context, activityID, productID int64, level domain.StockLevel) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, domain.StockKey(activityID, productID), level.Available, 0)
		pipe.Set(ctx, domain.ReservedKey(activityID, productID), level.Reserved, 0)
		pipe.Set(ctx, domain.SoldKey(activityID, productID), level.Sold, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load stock: %w", err)
	}
	return nil
}

func (r *RedisAdapter) StockLevel(ctx context.Context, activityID, productID int64) (domain.StockLevel, error) {
	values, err := r.client.MGet(ctx,
		domain.StockKey(activityID, productID),
		domain.ReservedKey(activityID, productID),
		domain.SoldKey(activityID, productID),
	).Result()
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("read stock level: %w", err)
	}

	ints := make([]int, len(values))
	for i, v := range values {
		n, err := toInt(v)
		if err != nil {
			return domain.StockLevel{}, fmt.Errorf("parse stock counter: %w", err)
		}
		ints[i] = n
	}
	return domain.StockLevel{Available: ints[0], Reserved: ints[1], Sold: ints[2]}, nil
}

func (r *RedisAdapter) Purchased(ctx context.Context, userID, activityID, productID int64) (int, error) {
	n, err := r.client.Get(ctx, domain.UserQuotaKey(userID, activityID, productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read purchased: %w", err)
	}
	return n, nil
}

func toInt(v interface{}) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", v)
	}
	return strconv.Atoi(s)
}
