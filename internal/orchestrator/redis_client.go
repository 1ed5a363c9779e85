package orchestrator

import "github.com/redis/go-redis/v9"

// asRedisClient narrows the fast tier's opaque Client() handle back to a
// redis.UniversalClient, the type the outbox needs to share the
// Fast-Tier connection per spec.md §6. Returns false if the fast tier is
// backed by something other than go-redis.
func asRedisClient(v any) (redis.UniversalClient, bool) {
	client, ok := v.(redis.UniversalClient)
	return client, ok
}
