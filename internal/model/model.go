// Package model holds the router's data model: the three record types the
// rest of the codebase reads and writes through the Shared KV Store.
package model

import "time"

// ChainConfig is the set of upstream URLs serving one logical chain. It is
// replaced atomically on every Config Loader reload; a stored ChainConfig
// is never mutated in place.
type ChainConfig struct {
	ChainID int64    `json:"chainId"`
	Name    string   `json:"name"`
	URLs    []string `json:"urls"`
}

// HealthRecord is the router's live view of one upstream's reachability.
// It is keyed globally by URL, not per chain, since the same upstream can
// in principle serve more than one chain's traffic.
type HealthRecord struct {
	URL          string    `json:"url"`
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"lastCheck"`
	ResponseTime int64     `json:"responseTime"`
	FailCount    int       `json:"failCount"`
}

// Eligible reports whether a record may receive traffic under the router's
// selection policy: healthy per the last probe and not past the
// consecutive-failure threshold.
func (h *HealthRecord) Eligible(maxFailCount int) bool {
	return h.Healthy && h.FailCount < maxFailCount
}

// Session binds a client-facing session id to one upstream and chain for
// the lifetime of a TTL.
type Session struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	ChainID      int64     `json:"chainId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsed     time.Time `json:"lastUsed"`
	RequestCount int64     `json:"requestCount"`
}
