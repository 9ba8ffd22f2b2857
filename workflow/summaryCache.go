package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SummaryCache keeps computed planning summaries in redis, keyed by year.
// A nil redis client disables it: every Get misses and Set is a no-op.
type SummaryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger
}

func NewSummaryCache(rdb *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = config.GetCacheLifespan()
	}
	return &SummaryCache{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "budgetSummary",
		logger: config.GetLogger(),
	}
}

func (c *SummaryCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *SummaryCache) key(year int, name string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, year, name)
}

// Get decodes the cached value into dest and reports whether it was there.
// Redis errors count as a miss.
func (c *SummaryCache) Get(ctx context.Context, year int, name string, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.rdb.Get(ctx, c.key(year, name)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			config.LogError(c.logger, "SummaryCache", "Get", c.key(year, name), nil, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		config.LogError(c.logger, "SummaryCache", "Get", c.key(year, name), string(raw), err)
		return false
	}
	return true
}

func (c *SummaryCache) Set(ctx context.Context, year int, name string, value interface{}) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		config.LogError(c.logger, "SummaryCache", "Set", c.key(year, name), nil, err)
		return
	}
	if err := c.rdb.Set(ctx, c.key(year, name), raw, c.ttl).Err(); err != nil {
		config.LogError(c.logger, "SummaryCache", "Set", c.key(year, name), nil, err)
	}
}

// InvalidateYear drops every summary cached for year.
func (c *SummaryCache) InvalidateYear(ctx context.Context, year int) error {
	if !c.Enabled() {
		return nil
	}
	pattern := fmt.Sprintf("%s:%d:*", c.prefix, year)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
