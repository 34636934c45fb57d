// Package readapi implements the Read API (spec §4.7): pure-read
// projections of chain state for operators.
package readapi

import (
	"context"
	"time"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

type ChainConfigSource interface {
	GetChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error)
	ListChainConfigs(ctx context.Context) ([]model.ChainConfig, error)
}

type HealthSource interface {
	LoadAll(ctx context.Context) (map[string]model.HealthRecord, error)
}

type SessionCounter interface {
	CountByChain(ctx context.Context, chainID int64) (int, error)
}

type API struct {
	configs  ChainConfigSource
	health   HealthSource
	sessions SessionCounter

	maxFailCount int
}

func New(configs ChainConfigSource, health HealthSource, sessions SessionCounter, maxFailCount int) *API {
	return &API{configs: configs, health: health, sessions: sessions, maxFailCount: maxFailCount}
}

// ChainStats is the §4.7 chain-stats projection.
type ChainStats struct {
	TotalSessions       int     `json:"totalSessions"`
	ActiveUrls          int     `json:"activeUrls"`
	HealthyUrls         int     `json:"healthyUrls"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

func (a *API) ChainStats(ctx context.Context, chainID int64) (*ChainStats, error) {
	cfg, err := a.configs.GetChainConfig(ctx, chainID)
	if err != nil {
		return nil, err
	}

	records, err := a.health.LoadAll(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}

	totalSessions, err := a.sessions.CountByChain(ctx, chainID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}

	var activeURLs, healthyURLs int
	var sumResponseTime int64
	for _, u := range cfg.URLs {
		rec, ok := records[u]
		if !ok {
			continue
		}
		activeURLs++
		sumResponseTime += rec.ResponseTime
		if rec.Eligible(a.maxFailCount) {
			healthyURLs++
		}
	}

	avg := float64(0)
	if activeURLs > 0 {
		avg = float64(sumResponseTime) / float64(activeURLs)
	}

	return &ChainStats{
		TotalSessions:       totalSessions,
		ActiveUrls:          activeURLs,
		HealthyUrls:         healthyURLs,
		AverageResponseTime: avg,
	}, nil
}

// URLDetail is one entry of the §4.7 URL-details projection.
type URLDetail struct {
	URL          string    `json:"url"`
	Healthy      bool      `json:"healthy"`
	FailCount    int       `json:"failCount"`
	ResponseTime int64     `json:"responseTime"`
	LastCheck    time.Time `json:"lastCheck"`
}

func (a *API) URLDetails(ctx context.Context, chainID int64) (*model.ChainConfig, []URLDetail, error) {
	cfg, err := a.configs.GetChainConfig(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}

	records, err := a.health.LoadAll(ctx)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}

	details := make([]URLDetail, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		rec, ok := records[u]
		if !ok {
			details = append(details, URLDetail{URL: u, LastCheck: time.Now()})
			continue
		}
		details = append(details, URLDetail{
			URL:          u,
			Healthy:      rec.Healthy,
			FailCount:    rec.FailCount,
			ResponseTime: rec.ResponseTime,
			LastCheck:    rec.LastCheck,
		})
	}
	return cfg, details, nil
}

func (a *API) ListChains(ctx context.Context) ([]model.ChainConfig, error) {
	return a.configs.ListChainConfigs(ctx)
}
