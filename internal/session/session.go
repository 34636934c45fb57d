// Package session implements the Session Store (spec §4.5): creates,
// fetches, updates, and expires session records, binding a session to one
// upstream and chain for the lifetime of a TTL.
//
// Session ids use google/uuid (an existing teacher dependency, used there
// for nonce/tracking ids), matching spec §3's "opaque, unguessable string
// (UUID-class)". The create-if-absent write is a Redis SETNX on the session
// key itself (no separate lock key), so a freshly generated id never
// overwrites an existing session.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/kvstore"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

// Selector is the read-side capability the Session Store needs to pick an
// upstream when creating a new session.
type Selector interface {
	GetHealthyRpcUrl(ctx context.Context, chainID int64) (string, error)
}

type Store struct {
	kv       *kvstore.Client
	selector Selector
	ttl      time.Duration
}

func New(kv *kvstore.Client, selector Selector, ttl time.Duration) *Store {
	return &Store{kv: kv, selector: selector, ttl: ttl}
}

// CreateSession picks an upstream via the Selector and stores a new
// session record with TTL.
func (s *Store) CreateSession(ctx context.Context, chainID int64) (*model.Session, error) {
	url, err := s.selector.GetHealthyRpcUrl(ctx, chainID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &model.Session{
		ID:        uuid.NewString(),
		URL:       url,
		ChainID:   chainID,
		CreatedAt: now,
		LastUsed:  now,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	created, err := s.kv.SetNX(ctx, kvstore.SessionKey(sess.ID), data, s.ttl)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	if !created {
		// A fresh uuid already occupied the key: vanishingly unlikely, but
		// retrying with a new id is cheaper than returning a collided session.
		sess.ID = uuid.NewString()
		if err := s.write(ctx, sess); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, err)
		}
	}
	return sess, nil
}

// GetSession reads and deserializes a session record, returning nil if
// absent or expired.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	raw, err := s.kv.Get(ctx, kvstore.SessionKey(id))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	return &sess, nil
}

// UpdateSession bumps lastUsed/requestCount and resets the TTL.
func (s *Store) UpdateSession(ctx context.Context, sess *model.Session) error {
	sess.LastUsed = time.Now()
	sess.RequestCount++
	return s.write(ctx, sess)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.kv.Del(ctx, kvstore.SessionKey(id))
	return err
}

func (s *Store) write(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, kvstore.SessionKey(sess.ID), data, s.ttl)
}

// CleanupSessions is a belt-and-braces sweep: the KV's own TTL is the
// primary expiry mechanism, and this method must be safe to omit entirely.
func (s *Store) CleanupSessions(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, kvstore.SessionKeyPrefix)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		if now.Sub(sess.LastUsed) > s.ttl {
			_, _ = s.kv.Del(ctx, key)
		}
	}
	return nil
}

// CountByChain counts sessions bound to a given chain, for the Read API's
// totalSessions projection.
func (s *Store) CountByChain(ctx context.Context, chainID int64) (int, error) {
	keys, err := s.kv.Keys(ctx, kvstore.SessionKeyPrefix)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		if sess.ChainID == chainID {
			count++
		}
	}
	return count, nil
}
