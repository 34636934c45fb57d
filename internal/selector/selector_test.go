package selector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

type fakeConfigs struct {
	cfgs map[int64]*model.ChainConfig
}

func (f *fakeConfigs) GetChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error) {
	cfg, ok := f.cfgs[chainID]
	if !ok {
		return nil, apperrors.ErrChainNotFound
	}
	return cfg, nil
}

type fakeHealth struct {
	records map[string]model.HealthRecord
}

func (f *fakeHealth) LoadAll(ctx context.Context) (map[string]model.HealthRecord, error) {
	return f.records, nil
}

type fakeReloader struct {
	calls int32
	done  chan struct{}
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func TestGetHealthyRpcUrl_ChainNotFound(t *testing.T) {
	sel := New(&fakeConfigs{cfgs: map[int64]*model.ChainConfig{}}, &fakeHealth{}, &fakeReloader{}, 3)
	_, err := sel.GetHealthyRpcUrl(context.Background(), 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrChainNotFound))
}

func TestGetHealthyRpcUrl_HappyPathFastestWins(t *testing.T) {
	configs := &fakeConfigs{cfgs: map[int64]*model.ChainConfig{
		1: {ChainID: 1, Name: "c", URLs: []string{"A", "B", "C"}},
	}}
	health := &fakeHealth{records: map[string]model.HealthRecord{
		"A": {Healthy: true, ResponseTime: 10},
		"B": {Healthy: true, ResponseTime: 50},
		"C": {Healthy: false, ResponseTime: 5},
	}}
	sel := New(configs, health, &fakeReloader{}, 3)

	url, err := sel.GetHealthyRpcUrl(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A", url)
}

func TestGetHealthyRpcUrl_TieBreakByInputOrder(t *testing.T) {
	configs := &fakeConfigs{cfgs: map[int64]*model.ChainConfig{
		1: {ChainID: 1, Name: "c", URLs: []string{"A", "B"}},
	}}
	health := &fakeHealth{records: map[string]model.HealthRecord{
		"A": {Healthy: true, ResponseTime: 10},
		"B": {Healthy: true, ResponseTime: 10},
	}}
	sel := New(configs, health, &fakeReloader{}, 3)

	url, err := sel.GetHealthyRpcUrl(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A", url)
}

func TestGetHealthyRpcUrl_NoRecordIsIneligible(t *testing.T) {
	configs := &fakeConfigs{cfgs: map[int64]*model.ChainConfig{
		1: {ChainID: 1, Name: "c", URLs: []string{"A"}},
	}}
	health := &fakeHealth{records: map[string]model.HealthRecord{}}
	sel := New(configs, health, &fakeReloader{}, 3)

	_, err := sel.GetHealthyRpcUrl(context.Background(), 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrNoHealthyRPC))
}

func TestGetHealthyRpcUrl_FailCountAtThresholdIsIneligible(t *testing.T) {
	configs := &fakeConfigs{cfgs: map[int64]*model.ChainConfig{
		1: {ChainID: 1, Name: "c", URLs: []string{"A"}},
	}}
	health := &fakeHealth{records: map[string]model.HealthRecord{
		"A": {Healthy: true, FailCount: 3, ResponseTime: 10},
	}}
	sel := New(configs, health, &fakeReloader{}, 3)

	_, err := sel.GetHealthyRpcUrl(context.Background(), 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrNoHealthyRPC))
}

func TestCollapseWindow_TriggersReloadAfterThreeFailuresWithin10s(t *testing.T) {
	configs := &fakeConfigs{cfgs: map[int64]*model.ChainConfig{
		1: {ChainID: 1, Name: "c", URLs: []string{"A"}},
	}}
	health := &fakeHealth{records: map[string]model.HealthRecord{}}
	done := make(chan struct{})
	reloader := &fakeReloader{done: done}
	sel := New(configs, health, reloader, 3)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sel.GetHealthyRpcUrl(context.Background(), 1)
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected reload to be triggered after 3 collapses")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&reloader.calls))
}

func TestCollapseWindow_DoesNotTriggerBelowThreshold(t *testing.T) {
	configs := &fakeConfigs{cfgs: map[int64]*model.ChainConfig{
		1: {ChainID: 1, Name: "c", URLs: []string{"A"}},
	}}
	health := &fakeHealth{records: map[string]model.HealthRecord{}}
	reloader := &fakeReloader{}
	sel := New(configs, health, reloader, 3)

	_, _ = sel.GetHealthyRpcUrl(context.Background(), 1)
	_, _ = sel.GetHealthyRpcUrl(context.Background(), 1)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&reloader.calls))
}
