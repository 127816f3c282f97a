package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edge-tutor/node/pkg/models"
)

// remoteBackend is the shared-cache tier, used when the node isn't deployed
// sovereign. Scan-based invalidate() is acceptable here: invalidation is
// driven by VKP installs (infrequent), never by the request hot path.
type remoteBackend interface {
	get(ctx context.Context, key string) (models.Answer, bool, error)
	put(ctx context.Context, key string, answer models.Answer, ttl time.Duration) error
	invalidate(ctx context.Context, pattern string) (int, error)
	close() error
}

// redisBackend is the production remoteBackend, grounded on the pack's
// redis/go-redis/v9 client (see platform.NewRedisClient for the
// ParseURL+Ping connection pattern this mirrors).
type redisBackend struct {
	client *redis.Client
}

// newRedisBackend connects to addr (a redis:// URL) and verifies
// reachability with a Ping before returning.
func newRedisBackend(ctx context.Context, addr string) (*redisBackend, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing remote cache URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging remote cache: %w", err)
	}
	return &redisBackend{client: client}, nil
}

func (r *redisBackend) get(ctx context.Context, key string) (models.Answer, bool, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return models.Answer{}, false, nil
	}
	if err != nil {
		return models.Answer{}, false, err
	}
	var ans models.Answer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return models.Answer{}, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return ans, true, nil
}

func (r *redisBackend) put(ctx context.Context, key string, answer models.Answer, ttl time.Duration) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer for cache: %w", err)
	}
	return r.client.Set(ctx, key, raw, ttl).Err()
}

func (r *redisBackend) invalidate(ctx context.Context, pattern string) (int, error) {
	scanPattern := pattern
	if pattern == WildcardPattern {
		scanPattern = "response:*"
	} else {
		scanPattern = strings.TrimSuffix(pattern, "") + "*"
	}

	var cursor uint64
	var removed int
	for {
		keys, next, err := r.client.Scan(ctx, cursor, scanPattern, 200).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
