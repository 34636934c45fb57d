// Package kvstore wraps the shared Redis-backed key/value store used by
// every core component: chain configuration, health records, and sessions
// all live here, keyed the way the router's data model describes.
package kvstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
)

var (
	ErrClientClosed     = errors.New("kvstore client is closed")
	ErrInvalidConfig    = errors.New("invalid kvstore configuration")
	ErrConnectionFailed = errors.New("kvstore connection failed")
)

// Config describes how to reach the backing Redis instance. Only single-node
// addressing is exposed: the router has one logical KV store, never a
// sentinel/cluster topology, so those modes are dropped from the teacher's
// redis.Config rather than carried unused.
type Config struct {
	Address      string        `yaml:"address" json:"address"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`

	EnableTLS bool        `yaml:"enable_tls" json:"enable_tls"`
	TLSConfig *tls.Config `yaml:"-" json:"-"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Address:             "127.0.0.1:6379",
		PoolSize:            50,
		MinIdleConns:        5,
		DialTimeout:         5 * time.Second,
		ReadTimeout:         3 * time.Second,
		WriteTimeout:        3 * time.Second,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidConfig)
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 50
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return nil
}

// Metrics mirrors the pool/health counters the rest of the pack exposes for
// its Redis wrapper. It is refreshed by the background health check and
// read through GetMetrics.
type Metrics struct {
	PoolHits     uint64
	PoolMisses   uint64
	PoolTimeouts uint64
	PoolSize     uint64
	IdleConns    uint64

	LastHealthCheck time.Time
	IsHealthy       bool
}

// Client wraps a single-node redis.Client with the closed-guard and background
// health check the teacher's client carries, narrowed to the command surface
// the router's components actually call.
type Client struct {
	config    *Config
	rdb       *redis.Client
	closed    int32
	closeChan chan struct{}
	metrics   *Metrics
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.EnableTLS {
		opts.TLSConfig = cfg.TLSConfig
		if opts.TLSConfig == nil {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c := &Client{
		config:    cfg,
		rdb:       rdb,
		closeChan: make(chan struct{}),
		metrics:   &Metrics{},
	}

	if cfg.HealthCheckInterval > 0 {
		go c.startHealthCheck()
	}

	logger.Info("kvstore client initialized",
		zap.String("address", cfg.Address),
		zap.Int("pool_size", cfg.PoolSize),
	)

	return c, nil
}

func (c *Client) startHealthCheck() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			c.doHealthCheck()
		}
	}
}

func (c *Client) doHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.rdb.Ping(ctx).Err()
	c.metrics.LastHealthCheck = time.Now()
	c.metrics.IsHealthy = err == nil
	if err != nil {
		logger.Warn("kvstore health check failed", zap.Error(err))
	}

	if stats := c.rdb.PoolStats(); stats != nil {
		atomic.StoreUint64(&c.metrics.PoolHits, uint64(stats.Hits))
		atomic.StoreUint64(&c.metrics.PoolMisses, uint64(stats.Misses))
		atomic.StoreUint64(&c.metrics.PoolTimeouts, uint64(stats.Timeouts))
		atomic.StoreUint64(&c.metrics.PoolSize, uint64(stats.TotalConns))
		atomic.StoreUint64(&c.metrics.IdleConns, uint64(stats.IdleConns))
	}
}

func (c *Client) GetMetrics() *Metrics {
	return c.metrics
}

func (c *Client) IsHealthy() bool {
	return c.metrics.IsHealthy
}

// Raw exposes the underlying redis.Client for callers that need the full
// driver surface.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

func (c *Client) Pipeline() *Pipeline {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil
	}
	return NewPipeline(c.rdb.Pipeline())
}

func (c *Client) TxPipeline() *Pipeline {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil
	}
	return NewPipeline(c.rdb.TxPipeline())
}

func (c *Client) Ping(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return ErrClientClosed
	}
	close(c.closeChan)
	if err := c.rdb.Close(); err != nil {
		logger.Error("failed to close kvstore client", zap.Error(err))
		return err
	}
	logger.Info("kvstore client closed")
	return nil
}

// ===== command surface =====

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return "", ErrClientClosed
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false, ErrClientClosed
	}
	return c.rdb.SetNX(ctx, key, value, expiration).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return 0, ErrClientClosed
	}
	return c.rdb.Del(ctx, keys...).Result()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false, ErrClientClosed
	}
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false, ErrClientClosed
	}
	return c.rdb.Expire(ctx, key, expiration).Result()
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return 0, ErrClientClosed
	}
	return c.rdb.TTL(ctx, key).Result()
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return "", ErrClientClosed
	}
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	return c.rdb.HSet(ctx, key, values...).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrClientClosed
	}
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return 0, ErrClientClosed
	}
	return c.rdb.HDel(ctx, key, fields...).Result()
}

// Keys enumerates keys matching a prefix with SCAN, never KEYS, so a large
// keyspace never blocks the store for the duration of the sweep.
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrClientClosed
	}
	var keys []string
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

var ErrNotFound = errors.New("kvstore: key not found")
