// Package registry implements the Config Loader (spec §4.3): it watches a
// chain→URLs configuration file's modification time and reconciles the
// KV-resident ChainConfig set and health projection on change.
//
// The file-loading shape (read, expand, unmarshal, validate) is grounded on
// eidos-chain/internal/config.Load; no pack repo watches a local file by
// mtime polling directly (the nearest teacher analogue,
// eidos-common/pkg/discovery, watches a Nacos config center instead), so
// the polling loop itself is grounded on the ticker-driven background-task
// shape used throughout the pack (eidos-chain/internal/app.runBackgroundTasks,
// loopfs's healthCheckLoop). Serializing concurrent reloads is grounded on
// blockchain.NonceManager's acquire/release lock pattern, narrowed to an
// in-process mutex since only one process runs the loader.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/kvstore"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

// HealthProber is the capability the loader needs from the Health Checker
// after a reload. Holding it as an interface (rather than a concrete
// *health.Checker) breaks the circular dependency called out in spec §9:
// the loader triggers probes, and the Selector triggers the loader.
type HealthProber interface {
	CheckHealth(ctx context.Context, url string) (*model.HealthRecord, error)
}

type chainFileEntry struct {
	ChainID int64    `json:"chainId"`
	Name    string   `json:"name"`
	URLs    []string `json:"urls"`
}

// rawFileFormat and rawChainEntry mirror the on-disk shape but unmarshal
// chainId into a pointer so an omitted key can be told apart from an
// explicit "chainId":0 — a bare int64 can't make that distinction.
type rawFileFormat struct {
	Chains []rawChainEntry `json:"chains"`
}

type rawChainEntry struct {
	ChainID *int64   `json:"chainId"`
	Name    string   `json:"name"`
	URLs    []string `json:"urls"`
}

type Loader struct {
	kv       *kvstore.Client
	prober   HealthProber
	path     string
	interval time.Duration

	configTTL time.Duration
	healthTTL time.Duration

	reloadMu     sync.Mutex
	lastModified time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewLoader(kv *kvstore.Client, prober HealthProber, path string, interval, configTTL, healthTTL time.Duration) *Loader {
	return &Loader{
		kv:        kv,
		prober:    prober,
		path:      path,
		interval:  interval,
		configTTL: configTTL,
		healthTTL: healthTTL,
	}
}

// Start begins the file-mtime poller. A no-op if already running.
func (l *Loader) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go l.run(runCtx)
}

func (l *Loader) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.cancel()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *Loader) run(ctx context.Context) {
	defer l.wg.Done()

	// Load once at startup so the registry is populated before the first
	// poll interval elapses.
	if err := l.Reload(ctx); err != nil {
		logger.Warn("config loader: initial load failed", zap.Error(err))
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(l.path)
			if err != nil {
				logger.Warn("config loader: stat failed", zap.Error(err))
				continue
			}
			if l.lastModified.IsZero() || info.ModTime().After(l.lastModified) {
				if err := l.Reload(ctx); err != nil {
					logger.Warn("config loader: reload failed", zap.Error(err))
				}
			}
		}
	}
}

// Reload performs the four-step reconcile transaction from spec §4.3.
// Concurrent callers (the periodic poll and the Selector's force-reload)
// are serialized by reloadMu so file reads never produce interleaved
// writes.
func (l *Loader) Reload(ctx context.Context) error {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidConfig, err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidConfig, err)
	}

	chains, err := parseAndValidate(data)
	if err != nil {
		logger.Warn("config loader: malformed config file, prior state retained", zap.Error(err))
		return apperrors.Wrap(apperrors.ErrInvalidConfig, err)
	}

	oldURLs, err := l.currentHealthURLs(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, err)
	}

	newURLSet := make(map[string]struct{})
	for _, c := range chains {
		for _, u := range c.URLs {
			newURLSet[u] = struct{}{}
		}
	}

	if err := l.commit(ctx, chains, oldURLs, newURLSet); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, err)
	}

	l.lastModified = info.ModTime()

	// Post-commit probes happen outside the transaction: new URLs are
	// seeded, existing ones re-probed. Reload returns once every probe has
	// finished.
	var wg sync.WaitGroup
	for u := range newURLSet {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if _, err := l.prober.CheckHealth(context.Background(), url); err != nil {
				logger.Warn("config loader: post-reload probe failed", zap.String("url", url), zap.Error(err))
			}
		}(u)
	}
	wg.Wait()

	return nil
}

func parseAndValidate(data []byte) ([]chainFileEntry, error) {
	var doc rawFileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if doc.Chains == nil {
		return nil, fmt.Errorf("missing chains array")
	}
	chains := make([]chainFileEntry, len(doc.Chains))
	for i, c := range doc.Chains {
		if c.ChainID == nil {
			return nil, fmt.Errorf("chain entry missing chainId")
		}
		if c.Name == "" {
			return nil, fmt.Errorf("chain %d missing name", *c.ChainID)
		}
		if c.URLs == nil {
			return nil, fmt.Errorf("chain %d missing urls", *c.ChainID)
		}
		chains[i] = chainFileEntry{ChainID: *c.ChainID, Name: c.Name, URLs: c.URLs}
	}
	return dedupeURLs(chains), nil
}

func dedupeURLs(chains []chainFileEntry) []chainFileEntry {
	out := make([]chainFileEntry, len(chains))
	for i, c := range chains {
		seen := make(map[string]struct{}, len(c.URLs))
		deduped := make([]string, 0, len(c.URLs))
		for _, u := range c.URLs {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			deduped = append(deduped, u)
		}
		out[i] = chainFileEntry{ChainID: c.ChainID, Name: c.Name, URLs: deduped}
	}
	return out
}

func (l *Loader) currentHealthURLs(ctx context.Context) (map[string]struct{}, error) {
	fields, err := l.kv.HGetAll(ctx, kvstore.HealthHashKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(fields))
	for url := range fields {
		out[url] = struct{}{}
	}
	return out, nil
}

func (l *Loader) commit(ctx context.Context, chains []chainFileEntry, oldURLs, newURLs map[string]struct{}) error {
	existingChainKeys, err := l.kv.Keys(ctx, kvstore.ChainKeyPrefix)
	if err != nil {
		return err
	}

	pipe := l.kv.TxPipeline()

	for _, key := range existingChainKeys {
		pipe.Del(ctx, key)
	}
	for url := range oldURLs {
		if _, stillPresent := newURLs[url]; !stillPresent {
			pipe.HDel(ctx, kvstore.HealthHashKey, url)
		}
	}
	for _, c := range chains {
		cfg := model.ChainConfig{ChainID: c.ChainID, Name: c.Name, URLs: c.URLs}
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		pipe.Set(ctx, kvstore.ChainKey(c.ChainID), data, l.configTTL)
	}
	pipe.Expire(ctx, kvstore.HealthHashKey, l.healthTTL)

	if pipe.Len() == 0 {
		return nil
	}
	return pipe.Exec(ctx)
}

// GetChainConfig reads a single chain's configuration. Callers (the
// Selector, the Read API) treat an absent key as ChainNotFound.
func (l *Loader) GetChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error) {
	raw, err := l.kv.Get(ctx, kvstore.ChainKey(chainID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, apperrors.ErrChainNotFound
		}
		return nil, err
	}
	var cfg model.ChainConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	return &cfg, nil
}

// ListChainConfigs enumerates every configured chain, for the Read API's
// urls listing.
func (l *Loader) ListChainConfigs(ctx context.Context) ([]model.ChainConfig, error) {
	keys, err := l.kv.Keys(ctx, kvstore.ChainKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.ChainConfig, 0, len(keys))
	for _, key := range keys {
		raw, err := l.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var cfg model.ChainConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}
