package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrPipelineEmpty    = errors.New("kvstore: pipeline is empty")
	ErrPipelineExecuted = errors.New("kvstore: pipeline already executed")
)

// Pipeline batches several writes so the Config Loader's reload transaction
// (4.3: diff, queue deletes and sets, commit) lands as a single round trip
// instead of one write per changed URL.
type Pipeline struct {
	pipe     redis.Pipeliner
	mu       sync.Mutex
	commands int
	executed bool
}

func NewPipeline(pipe redis.Pipeliner) *Pipeline {
	return &Pipeline{pipe: pipe}
}

func (p *Pipeline) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipe.Set(ctx, key, value, expiration)
	p.commands++
}

func (p *Pipeline) Del(ctx context.Context, keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipe.Del(ctx, keys...)
	p.commands++
}

func (p *Pipeline) HSet(ctx context.Context, key string, values ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipe.HSet(ctx, key, values...)
	p.commands++
}

func (p *Pipeline) HDel(ctx context.Context, key string, fields ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipe.HDel(ctx, key, fields...)
	p.commands++
}

func (p *Pipeline) Expire(ctx context.Context, key string, expiration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipe.Expire(ctx, key, expiration)
	p.commands++
}

func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commands
}

func (p *Pipeline) Exec(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.executed {
		return ErrPipelineExecuted
	}
	if p.commands == 0 {
		return ErrPipelineEmpty
	}

	p.executed = true
	_, err := p.pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Error("pipeline exec failed", zap.Error(err), zap.Int("commands", p.commands))
		return err
	}
	return nil
}

func (p *Pipeline) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipe.Discard()
	return nil
}
