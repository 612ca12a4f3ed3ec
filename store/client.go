// Package store provides the shared-store client used by every distributed
// component: a pooled Redis client with per-operation deadlines, cached
// server-side scripts, and a circuit breaker that fails fast while the store
// is impaired. All errors leaving this package on a failed operation carry
// KindStoreUnavailable so callers can apply the fail-open policy uniformly.
package store

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/byteness/throttle/errors"
	"github.com/byteness/throttle/logging"
)

// Default connection and breaker parameters.
const (
	DefaultOpTimeout        = 5 * time.Millisecond
	DefaultPoolSize         = 50
	DefaultFailureThreshold = 5
	DefaultCoolDown         = 30 * time.Second
)

// Options configures the store client.
type Options struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// DB is the Redis logical database number.
	DB int

	// Password authenticates the connection (empty for none).
	Password string

	// OpTimeout is the per-operation deadline. Deadline exhaustion is
	// treated as a store failure and feeds the circuit breaker.
	// Defaults to DefaultOpTimeout.
	OpTimeout time.Duration

	// PoolSize bounds the connection pool. Defaults to DefaultPoolSize.
	PoolSize int

	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Defaults to DefaultFailureThreshold.
	FailureThreshold uint32

	// CoolDown is how long the breaker stays open before a trial probe.
	// Defaults to DefaultCoolDown.
	CoolDown time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.CoolDown <= 0 {
		opts.CoolDown = DefaultCoolDown
	}
	return opts
}

// Client wraps a pooled Redis connection behind a circuit breaker.
// Safe for concurrent use.
type Client struct {
	rdb       *redis.Client
	breaker   *gobreaker.CircuitBreaker
	opTimeout time.Duration
	logger    logging.Logger
}

// New creates a store client. The connection is established lazily; use
// Ping to verify reachability at startup.
func New(o Options, logger logging.Logger) *Client {
	opts := o.withDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	c := &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			DB:           opts.DB,
			Password:     opts.Password,
			PoolSize:     opts.PoolSize,
			ReadTimeout:  opts.OpTimeout,
			WriteTimeout: opts.OpTimeout,
		}),
		opTimeout: opts.OpTimeout,
		logger:    logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1, // single trial probe in half-open
		Timeout:     opts.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A key miss is a successful round-trip, not a store failure.
			return err == nil || stderrors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.LogEvent(logging.EventLogEntry{
				Timestamp: logging.Now(),
				EventType: "breaker_transition",
				Component: "store",
				Message:   "circuit breaker " + from.String() + " -> " + to.String(),
			})
		},
	})

	return c
}

// do runs fn under the circuit breaker with the per-operation deadline.
// Any failure, including breaker-open fast failures and deadline exhaustion,
// is returned as KindStoreUnavailable. redis.Nil passes through untouched.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		return fn(opCtx)
	})
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, errors.Wrap(errors.KindStoreUnavailable, op+" failed", err)
	}
	return res, nil
}

// Ping reports whether the store is reachable.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.do(ctx, "ping", func(ctx context.Context) (any, error) {
		return c.rdb.Ping(ctx).Result()
	})
	return err == nil
}

// Get returns the string value at key. The second return is false when the
// key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := c.do(ctx, "get", func(ctx context.Context) (any, error) {
		return c.rdb.Get(ctx, key).Result()
	})
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res.(string), true, nil
}

// Set stores value at key with the given TTL. A non-positive TTL stores the
// key without expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	_, err := c.do(ctx, "set", func(ctx context.Context) (any, error) {
		return c.rdb.Set(ctx, key, value, ttl).Result()
	})
	return err
}

// incrWithExpiryScript increments a counter and stamps the TTL on first use,
// so the attempt window starts at the first event.
var incrWithExpiryScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// IncrWithExpiry atomically increments the counter at key, setting the TTL
// when the key is created, and returns the new count.
func (c *Client) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := c.do(ctx, "incr", func(ctx context.Context) (any, error) {
		return incrWithExpiryScript.Run(ctx, c.rdb, []string{key}, int(ttl.Seconds())).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// TTL returns the remaining lifetime of key, or 0 when the key does not
// exist or has no expiry.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	res, err := c.do(ctx, "ttl", func(ctx context.Context) (any, error) {
		return c.rdb.TTL(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	d := res.(time.Duration)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Exists reports whether key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	res, err := c.do(ctx, "exists", func(ctx context.Context) (any, error) {
		return c.rdb.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(int64) > 0, nil
}

// Delete removes the given keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	_, err := c.do(ctx, "del", func(ctx context.Context) (any, error) {
		return c.rdb.Del(ctx, keys...).Result()
	})
	return err
}

// HGetAll returns all fields of the hash at key. Missing keys return an
// empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := c.do(ctx, "hgetall", func(ctx context.Context) (any, error) {
		return c.rdb.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]string), nil
}

// HSetWithTTL replaces the hash at key with the given fields. A positive TTL
// sets key expiry; otherwise any existing expiry is cleared.
func (c *Client) HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	_, err := c.do(ctx, "hset", func(ctx context.Context) (any, error) {
		pipe := c.rdb.TxPipeline()
		pipe.Del(ctx, key)
		args := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// RunScript executes a cached server-side script. go-redis runs EVALSHA
// against the script's hash and re-uploads with EVAL on NOSCRIPT, which
// covers the script-cache-flush case with a single retry.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	return c.do(ctx, "script", func(ctx context.Context) (any, error) {
		return script.Run(ctx, c.rdb, keys, args...).Result()
	})
}

// State returns the circuit breaker state: "closed", "open", or "half-open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

// PoolStats returns a coarse summary of the connection pool for the status
// endpoint.
func (c *Client) PoolStats() map[string]string {
	s := c.rdb.PoolStats()
	return map[string]string{
		"total_conns": strconv.FormatUint(uint64(s.TotalConns), 10),
		"idle_conns":  strconv.FormatUint(uint64(s.IdleConns), 10),
		"hits":        strconv.FormatUint(uint64(s.Hits), 10),
		"timeouts":    strconv.FormatUint(uint64(s.Timeouts), 10),
	}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
