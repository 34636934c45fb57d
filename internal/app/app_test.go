package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/config"
)

func TestNewApp_WiresAllComponents(t *testing.T) {
	s := miniredis.RunT(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "chains.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chains":[{"chainId":1,"name":"test-chain","urls":["http://127.0.0.1:1"]}]}`), 0o644))

	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "test-router", HTTPPort: 0, Env: "test"},
		Router: config.RouterConfig{
			ChainConfigPath:             path,
			ConfigTTLSeconds:            86400,
			HealthTTLSeconds:            3600,
			SessionTTLSeconds:           3600,
			HealthCheckIntervalMillis:   60000,
			ConfigRefreshIntervalMillis: 300000,
			MaxFailCount:                3,
		},
	}
	cfg.KVStore.Address = s.Addr()
	cfg.KVStore.PoolSize = 10

	a, err := NewApp(cfg)
	require.NoError(t, err)
	assert.NotNil(t, a.kv)
	assert.NotNil(t, a.healthChecker)
	assert.NotNil(t, a.loader)
	assert.NotNil(t, a.selector)
	assert.NotNil(t, a.sessions)
	assert.NotNil(t, a.executor)
	assert.NotNil(t, a.readAPI)
	assert.NotNil(t, a.httpServer)

	require.NoError(t, a.shutdown())
}
