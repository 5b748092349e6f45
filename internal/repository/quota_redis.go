package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stylemate-rest-api/internal/model"
)

// counterRetention keeps resolved counters around for usage history.
const counterRetention = 90 * 24 * time.Hour

// RedisQuotaRepository implements the quota ledger on Redis hashes with Lua
// scripts, so the check-and-increment is atomic server-side. Use this backend
// when running multiple API instances against one ledger.
type RedisQuotaRepository struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisQuotaRepository creates a Redis-backed quota ledger.
func NewRedisQuotaRepository(client redis.Cmdable) *RedisQuotaRepository {
	return &RedisQuotaRepository{
		client:    client,
		keyPrefix: "stylemate:quota:",
	}
}

var _ QuotaRepository = (*RedisQuotaRepository)(nil)

func (r *RedisQuotaRepository) counterKey(userID, metric, periodKey string) string {
	return r.keyPrefix + userID + ":" + metric + ":" + periodKey
}

// reserveScript atomically reserves n units iff count+reserved+n <= limit.
// KEYS[1] = counter hash
// ARGV[1] = n, ARGV[2] = has_limit ("1"/"0"), ARGV[3] = limit,
// ARGV[4] = retention seconds, ARGV[5] = period_start, ARGV[6] = period_end
// Returns {allowed, total_after}.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local n = tonumber(ARGV[1])
local has_limit = ARGV[2]
local limit = tonumber(ARGV[3])

local count = tonumber(redis.call("HGET", key, "count") or "0")
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")

if has_limit == "1" and count + reserved + n > limit then
    return {0, count + reserved}
end

redis.call("HINCRBY", key, "reserved", n)
redis.call("HSETNX", key, "period_start", ARGV[5])
redis.call("HSETNX", key, "period_end", ARGV[6])
if redis.call("TTL", key) < 0 then
    redis.call("EXPIRE", key, tonumber(ARGV[4]))
end
return {1, count + reserved + n}
`)

// commitScript moves n units from reserved to count, flooring reserved at 0.
var commitScript = redis.NewScript(`
local key = KEYS[1]
local n = tonumber(ARGV[1])
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
local release = n
if release > reserved then release = reserved end
redis.call("HINCRBY", key, "reserved", -release)
redis.call("HINCRBY", key, "count", n)
return 1
`)

// rollbackScript releases n reserved units, flooring at 0.
var rollbackScript = redis.NewScript(`
local key = KEYS[1]
local n = tonumber(ARGV[1])
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
if n > reserved then n = reserved end
redis.call("HINCRBY", key, "reserved", -n)
return 1
`)

// Reserve provisionally holds n units for (userID, metric, period.Key).
func (r *RedisQuotaRepository) Reserve(ctx context.Context, userID, metric string, period model.Period, limit *int64, n int64) (bool, int64, error) {
	hasLimit := "0"
	var limitVal int64
	if limit != nil {
		hasLimit = "1"
		limitVal = *limit
	}

	res, err := reserveScript.Run(ctx, r.client,
		[]string{r.counterKey(userID, metric, period.Key)},
		n, hasLimit, limitVal,
		int64(counterRetention.Seconds()),
		period.Start.UTC().Format(time.RFC3339),
		period.End.UTC().Format(time.RFC3339),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to reserve quota: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected reserve script result: %v", res)
	}

	return res[0] == 1, res[1], nil
}

// Commit charges n reserved units.
func (r *RedisQuotaRepository) Commit(ctx context.Context, userID, metric, periodKey string, n int64) error {
	err := commitScript.Run(ctx, r.client,
		[]string{r.counterKey(userID, metric, periodKey)}, n).Err()
	if err != nil {
		return fmt.Errorf("failed to commit quota: %w", err)
	}
	return nil
}

// Rollback releases n reserved units.
func (r *RedisQuotaRepository) Rollback(ctx context.Context, userID, metric, periodKey string, n int64) error {
	err := rollbackScript.Run(ctx, r.client,
		[]string{r.counterKey(userID, metric, periodKey)}, n).Err()
	if err != nil {
		return fmt.Errorf("failed to rollback quota: %w", err)
	}
	return nil
}

// Usage returns the committed and reserved counts for a key.
func (r *RedisQuotaRepository) Usage(ctx context.Context, userID, metric, periodKey string) (int64, int64, error) {
	vals, err := r.client.HMGet(ctx, r.counterKey(userID, metric, periodKey), "count", "reserved").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read quota counter: %w", err)
	}

	parse := func(v interface{}) int64 {
		s, ok := v.(string)
		if !ok {
			return 0
		}
		var n int64
		fmt.Sscanf(s, "%d", &n)
		return n
	}

	return parse(vals[0]), parse(vals[1]), nil
}
