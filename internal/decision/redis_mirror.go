package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/events"
)

// MirrorConfig controls the Redis copy of the decision cache.
type MirrorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Channel   string        `yaml:"channel"`
	TTL       time.Duration `yaml:"ttl"`
	Buffer    int           `yaml:"buffer"`
}

// DefaultMirrorConfig returns a disabled mirror with production defaults.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "cryptotrader:decision:",
		Channel:   "cryptotrader:decisions",
		TTL:       15 * time.Minute,
		Buffer:    256,
	}
}

// Validate checks the mirror settings when enabled.
func (c MirrorConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required when the mirror is enabled")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("redis ttl must be positive, got %s", c.TTL)
	}
	if c.Buffer <= 0 {
		return fmt.Errorf("redis buffer must be positive, got %d", c.Buffer)
	}
	return nil
}

// NewRedisClient dials Redis and checks the connection.
func NewRedisClient(ctx context.Context, c MirrorConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// RedisMirror copies decisions into Redis for out-of-process readers. It
// is an events.Publisher: Publish only queues, and Run does the network
// writes, so the aggregator never blocks on Redis.
type RedisMirror struct {
	client  *redis.Client
	config  MirrorConfig
	queue   chan *trading.TradingDecision
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRedisMirror creates a mirror over an existing client.
func NewRedisMirror(client *redis.Client, config MirrorConfig) *RedisMirror {
	buffer := config.Buffer
	if buffer <= 0 {
		buffer = 1
	}
	return &RedisMirror{
		client: client,
		config: config,
		queue:  make(chan *trading.TradingDecision, buffer),
	}
}

// Publish queues decision events. Other event types are ignored.
func (m *RedisMirror) Publish(e events.Event) {
	if e.Type != events.DecisionMade {
		return
	}
	d, ok := e.Payload.(*trading.TradingDecision)
	if !ok || d == nil {
		return
	}
	select {
	case m.queue <- d:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many decisions were discarded because the queue was
// full.
func (m *RedisMirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Written returns how many decisions reached Redis.
func (m *RedisMirror) Written() uint64 {
	return m.written.Load()
}

// Run drains the queue until ctx is done.
func (m *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.queue:
			if err := m.Store(ctx, d); err != nil {
				log.Warn().Err(err).Str("symbol", d.Symbol).Msg("Decision mirror write failed")
				continue
			}
			m.written.Add(1)
		}
	}
}

// Store writes the decision under its symbol key and announces it on the
// channel.
func (m *RedisMirror) Store(ctx context.Context, d *trading.TradingDecision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if err := m.client.Set(ctx, m.key(d.Symbol), data, m.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if m.config.Channel != "" {
		if err := m.client.Publish(ctx, m.config.Channel, data).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

// Get reads the mirrored decision for symbol. found is false on a miss.
func (m *RedisMirror) Get(ctx context.Context, symbol string) (*trading.TradingDecision, bool, error) {
	val, err := m.client.Get(ctx, m.key(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var d trading.TradingDecision
	if err := json.Unmarshal(val, &d); err != nil {
		return nil, false, fmt.Errorf("unmarshal decision: %w", err)
	}
	return &d, true, nil
}

func (m *RedisMirror) key(symbol string) string {
	return m.config.KeyPrefix + symbol
}
