/*
redis.go - Best-effort statement cache over Redis

PURPOSE:
  Read-through cache for persisted daily statements. The store rows stay
  the single source of truth; this cache only shaves repeated reads off
  hot statements (current-day dashboards poll the same keys).

FAILURE POSTURE:
  Every Redis failure is logged at warn level and swallowed. A miss and
  a broken cache look identical to callers. A nil *redis.Client produces
  a cache that never hits, so wiring stays unconditional.

SEE ALSO:
  - ledger/accumulate.go: the engine writes through after every sync
  - api/handlers.go: statement reads consult the cache first
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/statement-engine/ledger"
)

// DefaultTTL bounds staleness when an invalidating write is lost.
const DefaultTTL = 15 * time.Minute

// StatementCache implements ledger.StatementCache on a Redis client.
type StatementCache struct {
	Client *redis.Client
	TTL    time.Duration
	Log    *logrus.Logger
}

// NewStatementCache wires a cache around client. A nil client is valid
// and yields a cache that never hits.
func NewStatementCache(client *redis.Client, log *logrus.Logger) *StatementCache {
	return &StatementCache{Client: client, TTL: DefaultTTL, Log: log}
}

func (c *StatementCache) key(k ledger.StatementKey) string {
	return "statement:" + k.String()
}

// Put stores the statement under its key. Failures are logged and
// swallowed.
func (c *StatementCache) Put(ctx context.Context, st *ledger.DailyStatement) {
	if c == nil || c.Client == nil || st == nil {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		c.warn(err, "marshal statement for cache")
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.Client.Set(ctx, c.key(st.Key()), payload, ttl).Err(); err != nil {
		c.warn(err, "cache statement")
	}
}

// Get returns the cached statement for key, or (nil, false) on a miss or
// any failure.
func (c *StatementCache) Get(ctx context.Context, key ledger.StatementKey) (*ledger.DailyStatement, bool) {
	if c == nil || c.Client == nil {
		return nil, false
	}
	val, err := c.Client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(err, "read statement cache")
		}
		return nil, false
	}
	var st ledger.DailyStatement
	if err := json.Unmarshal(val, &st); err != nil {
		c.warn(err, "decode cached statement")
		return nil, false
	}
	return &st, true
}

func (c *StatementCache) warn(err error, msg string) {
	if c.Log != nil {
		c.Log.WithError(err).Warn(msg)
	}
}
