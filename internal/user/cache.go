package user

import (
	"context"
	"encoding/json"
	"time"

	"go-chat/internal/chat"

	"github.com/redis/go-redis/v9"
)

const summaryKeyPrefix = "user:summary:"

// SummaryCache keeps user profile summaries in Redis so projections do not hit
// the users table on every request.
type SummaryCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{redis: client, ttl: ttl}
}

func summaryKey(id string) string {
	return summaryKeyPrefix + id
}

// GetMany returns the cached summaries and the ids that were not cached.
func (c *SummaryCache) GetMany(ctx context.Context, ids []string) (map[string]chat.UserSummary, []string, error) {
	found := make(map[string]chat.UserSummary, len(ids))
	if len(ids) == 0 {
		return found, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = summaryKey(id)
	}
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ids, err
	}

	var missing []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var summary chat.UserSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = summary
	}
	return found, missing, nil
}

func (c *SummaryCache) SetMany(ctx context.Context, summaries []chat.UserSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	pipe := c.redis.Pipeline()
	for _, s := range summaries {
		payload, err := json.Marshal(s)
		if err != nil {
			return err
		}
		pipe.Set(ctx, summaryKey(s.ID), payload, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
