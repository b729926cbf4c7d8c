package versions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kailas-cloud/listsync/internal/domain"
)

// advanceScript stores ARGV[1] unless a strictly newer version is already stored.
// Equal versions pass so redeliveries and replays still apply.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// Guard tracks the highest applied version per listing in Redis.
type Guard struct {
	rdb    redis.Scripter
	prefix string
	ttl    time.Duration
}

// New creates a Guard. ttl bounds how long a version is remembered; 0 keeps it forever.
func New(rdb redis.Scripter, prefix string, ttl time.Duration) *Guard {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Guard{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Advance records version for id and reports whether it is not older than the last one seen.
func (g *Guard) Advance(ctx context.Context, id string, version int64) (bool, error) {
	n, err := advanceScript.Run(ctx, g.rdb, []string{g.key(id)}, version, g.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("advance version %s: %w", id, err)
	}
	return n == 1, nil
}

func (g *Guard) key(id string) string {
	return g.prefix + "version:" + id
}
