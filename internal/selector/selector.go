// Package selector implements the Selector (spec §4.4): given a chain id,
// returns the fastest eligible upstream, with a self-healing reload
// trigger when the pool collapses.
//
// The collapse-window ring is a small mutex-guarded slice, grounded on the
// pack's general preference for explicit sync.Mutex-protected state over
// channel-based actors (blockchain.Client.mu, blockchain.NonceManager.mu).
package selector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

// ChainConfigSource is the read-side capability the Selector needs from
// the Config Loader.
type ChainConfigSource interface {
	GetChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error)
}

// HealthSource is the read-side capability the Selector needs from the
// Health Checker.
type HealthSource interface {
	LoadAll(ctx context.Context) (map[string]model.HealthRecord, error)
}

// Reloader is the capability the Selector needs from the Config Loader to
// force a reload on collapse, held as an interface per spec §9 so the
// Selector does not depend on the concrete Loader (which itself depends on
// the Health Checker).
type Reloader interface {
	Reload(ctx context.Context) error
}

const (
	collapseWindowSize = 3
	collapseWindow     = 10 * time.Second
)

type Selector struct {
	configs      ChainConfigSource
	health       HealthSource
	reloader     Reloader
	maxFailCount int

	mu   sync.Mutex
	ring []time.Time
}

func New(configs ChainConfigSource, health HealthSource, reloader Reloader, maxFailCount int) *Selector {
	return &Selector{
		configs:      configs,
		health:       health,
		reloader:     reloader,
		maxFailCount: maxFailCount,
	}
}

// GetHealthyRpcUrl implements the §4.4 algorithm.
func (s *Selector) GetHealthyRpcUrl(ctx context.Context, chainID int64) (string, error) {
	cfg, err := s.configs.GetChainConfig(ctx, chainID)
	if err != nil {
		return "", err
	}

	records, err := s.health.LoadAll(ctx)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, err)
	}

	type candidate struct {
		url          string
		responseTime int64
		order        int
	}
	var eligible []candidate
	for i, u := range cfg.URLs {
		rec, ok := records[u]
		if !ok {
			continue
		}
		if rec.Eligible(s.maxFailCount) {
			eligible = append(eligible, candidate{url: u, responseTime: rec.ResponseTime, order: i})
		}
	}

	if len(eligible) == 0 {
		s.recordCollapse(ctx)
		return "", apperrors.ErrNoHealthyRPC
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].responseTime != eligible[j].responseTime {
			return eligible[i].responseTime < eligible[j].responseTime
		}
		return eligible[i].order < eligible[j].order
	})

	return eligible[0].url, nil
}

// recordCollapse appends to the sliding window and, once it holds at least
// collapseWindowSize entries within collapseWindow, clears it and triggers
// a force reload.
func (s *Selector) recordCollapse(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	cutoff := now.Add(-collapseWindow)
	kept := s.ring[:0:0]
	for _, t := range s.ring {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	trigger := len(kept) >= collapseWindowSize
	if trigger {
		s.ring = nil
	} else {
		s.ring = kept
	}
	s.mu.Unlock()

	if trigger {
		go func() {
			_ = s.reloader.Reload(context.Background())
		}()
		_ = ctx
	}
}
