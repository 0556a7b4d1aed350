package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a shared Redis instance. Errors degrade to
// cache misses; the caller recomputes and the engine stays correct.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis wraps an existing client. keyPrefix namespaces deskd entries.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "deskd:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) GetStrings(ctx context.Context, key string) ([]string, bool) {
	raw, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			errorsTotal.WithLabelValues("redis").Inc()
			log.Printf("redis cache get %s: %v", key, err)
		}
		misses.WithLabelValues("redis").Inc()
		return nil, false
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		errorsTotal.WithLabelValues("redis").Inc()
		misses.WithLabelValues("redis").Inc()
		return nil, false
	}
	hits.WithLabelValues("redis").Inc()
	return values, true
}

func (r *Redis) SetStrings(ctx context.Context, key string, values []string, ttl time.Duration) {
	raw, err := json.Marshal(values)
	if err != nil {
		errorsTotal.WithLabelValues("redis").Inc()
		return
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, raw, ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("redis").Inc()
		log.Printf("redis cache set %s: %v", key, err)
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		errorsTotal.WithLabelValues("redis").Inc()
		log.Printf("redis cache del %s: %v", key, err)
	}
}
