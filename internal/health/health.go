// Package health implements the Health Checker (spec §4.2): it maintains
// the health hash as a live projection of upstream reachability, probing
// every known URL on a schedule and on demand.
//
// Grounded on eidos-chain/internal/blockchain.Client's endpoint-health
// tracking (RPCEndpoint, consecutive ErrorCount, periodic background
// reconnection) and on the ticker-driven probe loop shape used across the
// pack (loopfs's BackendManager.healthCheckLoop), generalized from an
// ethclient-typed client to a payload-opaque HTTP JSON-RPC probe.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/kvstore"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

const probeTimeout = 5 * time.Second

// netVersionRequest is the canonical probe body from spec §4.2.
var netVersionRequest = []byte(`{"jsonrpc":"2.0","method":"net_version","params":[],"id":1}`)

type rpcProbeResponse struct {
	Result json.RawMessage `json:"result"`
}

// Checker owns the `health` hash and the periodic prober.
type Checker struct {
	kv           *kvstore.Client
	httpClient   *http.Client
	maxFailCount int
	healthTTL    time.Duration
	interval     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewChecker(kv *kvstore.Client, interval, healthTTL time.Duration, maxFailCount int) *Checker {
	return &Checker{
		kv:           kv,
		httpClient:   &http.Client{Timeout: probeTimeout},
		maxFailCount: maxFailCount,
		healthTTL:    healthTTL,
		interval:     interval,
	}
}

// Start begins the periodic prober. It is a no-op if already running.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.run(runCtx)
}

// Stop cancels the ticker. In-flight probes may complete or be abandoned.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Checker) run(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

// probeAll takes a snapshot of known URLs and probes each, one goroutine
// per URL, so a single tick never runs two in-flight probes against the
// same URL.
func (c *Checker) probeAll(ctx context.Context) {
	fields, err := c.kv.HGetAll(ctx, kvstore.HealthHashKey)
	if err != nil {
		logger.Warn("health checker: failed to read health hash", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for url := range fields {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if _, err := c.CheckHealth(ctx, url); err != nil {
				logger.Warn("health checker: probe failed", zap.String("url", url), zap.Error(err))
			}
		}(url)
	}
	wg.Wait()
}

// CheckHealth probes a single URL immediately and writes the refreshed
// record. It is idempotent and safe to call concurrently; it is exposed
// for the Executor to force a re-probe of an upstream that just failed a
// forwarded request, and for the Config Loader to seed newly-registered
// URLs.
func (c *Checker) CheckHealth(ctx context.Context, url string) (*model.HealthRecord, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	ok := c.probe(probeCtx, url)
	elapsed := time.Since(start).Milliseconds()

	record := &model.HealthRecord{
		URL:          url,
		ResponseTime: elapsed,
		LastCheck:    time.Now(),
	}

	if ok {
		record.Healthy = true
		record.FailCount = 0
	} else {
		prev, _ := c.loadRecord(ctx, url)
		failCount := 1
		if prev != nil {
			failCount = prev.FailCount + 1
		}
		record.Healthy = false
		record.FailCount = failCount

		if failCount >= c.maxFailCount {
			logger.Warn("upstream crossed max fail count",
				zap.String("url", url), zap.Int("failCount", failCount), zap.Int("maxFailCount", c.maxFailCount))
		}
	}

	if err := c.writeRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// probe sends the net_version call and reports success per spec §4.2: HTTP
// 200 and a decoded body with a defined result field.
func (c *Checker) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(netVersionRequest))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var body rpcProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return len(body.Result) > 0
}

func (c *Checker) loadRecord(ctx context.Context, url string) (*model.HealthRecord, error) {
	raw, err := c.kv.HGet(ctx, kvstore.HealthHashKey, url)
	if err != nil {
		return nil, err
	}
	var rec model.HealthRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Checker) writeRecord(ctx context.Context, rec *model.HealthRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.kv.HSet(ctx, kvstore.HealthHashKey, rec.URL, string(data)); err != nil {
		return err
	}
	_, err = c.kv.Expire(ctx, kvstore.HealthHashKey, c.healthTTL)
	return err
}

// LoadAll returns every known health record, keyed by URL.
func (c *Checker) LoadAll(ctx context.Context) (map[string]model.HealthRecord, error) {
	fields, err := c.kv.HGetAll(ctx, kvstore.HealthHashKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.HealthRecord, len(fields))
	for url, raw := range fields {
		var rec model.HealthRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out[url] = rec
	}
	return out, nil
}
