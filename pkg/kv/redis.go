package kv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// candleScript folds one trade into the live 1m candle hash and rolls the
// hash onto the closed-candle list when the minute has advanced. Minute keys
// compare lexicographically, which for YYYYMMDDHHmm is chronological.
var candleScript = redis.NewScript(`
local key = KEYS[1]
local closedKey = KEYS[2]
local price = tonumber(ARGV[1])
local qty = tonumber(ARGV[2])
local minute = ARGV[3]

local current_t = redis.call("HGET", key, "t")

if current_t and current_t < minute then
    local oldArr = redis.call("HGETALL", key)
    if #oldArr > 0 then
        local oldObj = {}
        for i = 1, #oldArr, 2 do
            oldObj[oldArr[i]] = oldArr[i + 1]
        end
        local json = cjson.encode(oldObj)
        redis.call("LPUSH", closedKey, json)
        redis.call("LTRIM", closedKey, 0, 999)
    end
    redis.call("HMSET", key, "o", price, "h", price, "l", price, "c", price, "v", qty, "t", minute)
elseif not current_t then
    redis.call("HMSET", key, "o", price, "h", price, "l", price, "c", price, "v", qty, "t", minute)
else
    local h = tonumber(redis.call("HGET", key, "h"))
    local l = tonumber(redis.call("HGET", key, "l"))
    if price > h then redis.call("HSET", key, "h", price) end
    if price < l then redis.call("HSET", key, "l", price) end
    redis.call("HSET", key, "c", price)
    redis.call("HINCRBY", key, "v", qty)
end

redis.call("EXPIRE", key, 300)
redis.call("EXPIRE", closedKey, 3600)

return "OK"
`)

// Redis implements Store on a single go-redis client, which pools its own
// connections. The engine process shares it between the listener path, the
// inbound consumer and the outbound producer; the notifier does no Redis I/O.
type Redis struct {
	client        *redis.Client
	sessionOffset time.Duration
}

func NewRedis(addr, password string, sessionOffset time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{client: client, sessionOffset: sessionOffset}, nil
}

func (r *Redis) Client() *redis.Client { return r.client }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, pattern).Result()
}

func (r *Redis) LPush(ctx context.Context, key, value string) error {
	return r.client.LPush(ctx, key, value).Err()
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) UpdateCandle(ctx context.Context, symbol string, price, qty uint64, epochSec int64) error {
	keys := []string{LiveCandlePrefix + symbol, ClosedCandles + symbol}
	args := []interface{}{
		strconv.FormatUint(price, 10),
		strconv.FormatUint(qty, 10),
		MinuteKey(epochSec, r.sessionOffset),
	}
	if err := candleScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("candle update for %s: %w", symbol, err)
	}
	return nil
}

func (r *Redis) SaveSnapshot(ctx context.Context, symbol, data string) error {
	if err := r.client.Set(ctx, SnapshotPrefix+symbol, data, 0).Err(); err != nil {
		return err
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return r.client.Set(ctx, SnapshotPrefix+symbol+TimestampSuffix, now, 0).Err()
}

func (r *Redis) LoadSnapshot(ctx context.Context, symbol string) (string, bool, error) {
	return r.Get(ctx, SnapshotPrefix+symbol)
}

var _ Store = (*Redis)(nil)
