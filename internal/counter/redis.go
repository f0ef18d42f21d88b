package counter

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrCheckReset runs the whole increment-check-reset sequence inside one
// Redis script evaluation, which Redis executes atomically. This is what lets
// worker processes scale horizontally without a double-trigger race.
var incrCheckReset = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c >= tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], '0')
  return {c, 1}
end
return {c, 0}
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrCheckReset(ctx context.Context, key Key, threshold int64) (int64, bool, error) {
	res, err := incrCheckReset.Run(ctx, s.client, []string{storageKey(key)}, threshold).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("counter script: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("counter script: unexpected reply %v", res)
	}
	count, ok1 := res[0].(int64)
	fired, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("counter script: unexpected reply types %T/%T", res[0], res[1])
	}
	return count, fired == 1, nil
}

// storageKey serializes the composite key. Category is free text so it is
// base64url encoded; bucket labels use a controlled charset.
func storageKey(key Key) string {
	cat := base64.RawURLEncoding.EncodeToString([]byte(key.Category))
	return "bucketcount:" + cat + ":" + string(key.Bucket)
}
