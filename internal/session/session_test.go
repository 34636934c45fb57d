package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/kvstore"
)

type fakeSelector struct {
	url string
	err error
}

func (f *fakeSelector) GetHealthyRpcUrl(ctx context.Context, chainID int64) (string, error) {
	return f.url, f.err
}

func setupStore(t *testing.T, ttl time.Duration) (*kvstore.Client, *Store) {
	s := miniredis.RunT(t)
	kv, err := kvstore.NewClient(&kvstore.Config{Address: s.Addr(), PoolSize: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	store := New(kv, &fakeSelector{url: "https://a"}, ttl)
	return kv, store
}

func TestCreateSession_BindsUpstreamAndChain(t *testing.T) {
	_, store := setupStore(t, time.Hour)

	sess, err := store.CreateSession(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "https://a", sess.URL)
	assert.Equal(t, int64(1), sess.ChainID)
	assert.Equal(t, int64(0), sess.RequestCount)
}

func TestGetSession_AbsentReturnsNil(t *testing.T) {
	_, store := setupStore(t, time.Hour)

	sess, err := store.GetSession(context.Background(), "unknown-id")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestGetSession_RoundTrip(t *testing.T) {
	_, store := setupStore(t, time.Hour)

	created, err := store.CreateSession(context.Background(), 1)
	require.NoError(t, err)

	fetched, err := store.GetSession(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, created.URL, fetched.URL)
}

func TestUpdateSession_BumpsLastUsedAndCount(t *testing.T) {
	_, store := setupStore(t, time.Hour)

	sess, err := store.CreateSession(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, store.UpdateSession(context.Background(), sess))
	assert.Equal(t, int64(1), sess.RequestCount)

	fetched, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetched.RequestCount)
}

func TestDeleteSession_RemovesRecord(t *testing.T) {
	_, store := setupStore(t, time.Hour)

	sess, err := store.CreateSession(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(context.Background(), sess.ID))

	fetched, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestCountByChain_CountsOnlyMatchingChain(t *testing.T) {
	s := miniredis.RunT(t)
	kv, err := kvstore.NewClient(&kvstore.Config{Address: s.Addr(), PoolSize: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	store := New(kv, &fakeSelector{url: "https://a"}, time.Hour)
	_, err = store.CreateSession(context.Background(), 1)
	require.NoError(t, err)
	_, err = store.CreateSession(context.Background(), 1)
	require.NoError(t, err)
	_, err = store.CreateSession(context.Background(), 137)
	require.NoError(t, err)

	count, err := store.CountByChain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCleanupSessions_RemovesStaleRecords(t *testing.T) {
	_, store := setupStore(t, time.Hour)

	sess, err := store.CreateSession(context.Background(), 1)
	require.NoError(t, err)
	sess.LastUsed = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.write(context.Background(), sess))

	require.NoError(t, store.CleanupSessions(context.Background()))

	fetched, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched)
}
