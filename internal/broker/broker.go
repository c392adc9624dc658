// Package broker implements the Streams component: three Redis-hosted
// collections (ready FIFO, retry time-scored set, dead-letter FIFO) and the
// atomic promotion script that moves due retries back to ready.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config names the three streams and tunes the Redis client.
type Config struct {
	URL            string
	ReadyName      string
	RetryName      string
	DeadLetterName string

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadyName == "" {
		c.ReadyName = "job_queue"
	}
	if c.RetryName == "" {
		c.RetryName = "retry_queue"
	}
	if c.DeadLetterName == "" {
		c.DeadLetterName = "dead_letter_queue"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// promoteDueScript atomically moves up to ARGV[2] members scored <= ARGV[1]
// from the retry ZSET (KEYS[1]) to the ready list (KEYS[2]), returning the
// count moved. A single EVAL call is the only way to compose the
// by-score-range + remove + append steps atomically against a Redis-style
// broker; this must never be reimplemented as a pipelined
// sequence of separate ZRANGEBYSCORE/ZREM/LPUSH calls, which would not be
// atomic against concurrent schedulers or producers.
var promoteDueScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(members) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #members
`)

// Broker wraps a Redis client with the ready/retry/dead-letter stream
// operations the core consumes.
type Broker struct {
	client *redis.Client
	cfg    Config
}

// New parses the Redis URL, builds a tuned client, and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Broker, error) {
	cfg.applyDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: ping redis: %w", err)
	}

	return &Broker{client: client, cfg: cfg}, nil
}

// Client exposes the underlying client, e.g. for metrics-surface stream
// length queries or the rate-limit middleware.
func (b *Broker) Client() *redis.Client { return b.client }

// Close releases the connection pool.
func (b *Broker) Close() error { return b.client.Close() }

// ReadyPush appends id to the tail of the ready stream.
func (b *Broker) ReadyPush(ctx context.Context, id string) error {
	return b.client.LPush(ctx, b.cfg.ReadyName, id).Err()
}

// ReadyPop removes and returns the head of the ready stream, blocking for up
// to timeout. Returns ok=false (not an error) if nothing arrived in time.
func (b *Broker) ReadyPop(ctx context.Context, timeout time.Duration) (id string, ok bool, err error) {
	res, err := b.client.BRPop(ctx, timeout, b.cfg.ReadyName).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return "", false, fmt.Errorf("broker: unexpected BRPOP reply shape: %v", res)
	}
	return res[1], true, nil
}

// RetryAdd idempotently schedules id for promotion at dueAt.
func (b *Broker) RetryAdd(ctx context.Context, id string, dueAt time.Time) error {
	return b.client.ZAdd(ctx, b.cfg.RetryName, redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: id,
	}).Err()
}

// PromoteDue atomically moves up to batchCap retry entries scored <= now
// into the ready stream, returning the count moved.
func (b *Broker) PromoteDue(ctx context.Context, now time.Time, batchCap int) (int, error) {
	res, err := promoteDueScript.Run(ctx, b.client,
		[]string{b.cfg.RetryName, b.cfg.ReadyName},
		now.Unix(), batchCap,
	).Result()
	if err != nil {
		return 0, err
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("broker: unexpected promote_due reply type: %T", res)
	}
	return int(count), nil
}

// DeadLetterPush appends id to the dead-letter stream.
func (b *Broker) DeadLetterPush(ctx context.Context, id string) error {
	return b.client.LPush(ctx, b.cfg.DeadLetterName, id).Err()
}

// Lengths reports the current size of all three streams, for the metrics
// surface.
func (b *Broker) Lengths(ctx context.Context) (ready, retrying, deadLetter int64, err error) {
	pipe := b.client.Pipeline()
	readyCmd := pipe.LLen(ctx, b.cfg.ReadyName)
	retryCmd := pipe.ZCard(ctx, b.cfg.RetryName)
	dlqCmd := pipe.LLen(ctx, b.cfg.DeadLetterName)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	return readyCmd.Val(), retryCmd.Val(), dlqCmd.Val(), nil
}
