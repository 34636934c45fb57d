package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/executor"
)

type fakeSelector struct {
	url string
	err error
}

func (f *fakeSelector) GetHealthyRpcUrl(ctx context.Context, chainID int64) (string, error) {
	return f.url, f.err
}

type fakeExecutor struct {
	result *executor.Result
	err    error
}

func (f *fakeExecutor) ExecuteRequest(ctx context.Context, chainID int64, payload []byte, sessionID string) (*executor.Result, error) {
	return f.result, f.err
}

type fakeKVPinger struct{}

func (fakeKVPinger) Ping(ctx context.Context) error { return nil }

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealth_ReturnsOK(t *testing.T) {
	h := NewHandler(&fakeSelector{}, &fakeExecutor{}, nil, fakeKVPinger{})
	router := gin.New()
	router.GET("/health", h.Health)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetEndpoint_HappyPath(t *testing.T) {
	h := NewHandler(&fakeSelector{url: "https://a"}, &fakeExecutor{}, nil, fakeKVPinger{})
	router := gin.New()
	router.GET("/api/rpc/endpoint/:chainId", h.GetEndpoint)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rpc/endpoint/1", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://a")
}

func TestGetEndpoint_ChainNotFoundMapsTo404(t *testing.T) {
	h := NewHandler(&fakeSelector{err: apperrors.ErrChainNotFound}, &fakeExecutor{}, nil, fakeKVPinger{})
	router := gin.New()
	router.GET("/api/rpc/endpoint/:chainId", h.GetEndpoint)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rpc/endpoint/1", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEndpoint_NoHealthyRpcMapsTo500(t *testing.T) {
	h := NewHandler(&fakeSelector{err: apperrors.ErrNoHealthyRPC}, &fakeExecutor{}, nil, fakeKVPinger{})
	router := gin.New()
	router.GET("/api/rpc/endpoint/:chainId", h.GetEndpoint)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rpc/endpoint/1", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExecute_ValidRequestReturnsFormattedBody(t *testing.T) {
	result := &executor.Result{SessionID: "s1", Body: map[string]interface{}{"jsonrpc": "2.0", "id": float64(1), "result": "10"}}
	h := NewHandler(&fakeSelector{}, &fakeExecutor{result: result}, nil, fakeKVPinger{})
	router := gin.New()
	router.POST("/api/rpc/execute/:chainId", h.Execute)

	body := `{"jsonrpc":"2.0","method":"eth_blockNumber","id":1}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rpc/execute/1", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result":"10"`)
}

func TestExecute_InvalidJSONRPCReturns400AndNeverCallsExecutor(t *testing.T) {
	called := false
	h := NewHandler(&fakeSelector{}, executorFunc(func() { called = true }), nil, fakeKVPinger{})
	router := gin.New()
	router.POST("/api/rpc/execute/:chainId", h.Execute)

	body := `{"jsonrpc":"1.0","method":"x","id":1}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rpc/execute/1", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestExecute_MissingParamsFieldIsValid(t *testing.T) {
	result := &executor.Result{SessionID: "s1", Body: map[string]interface{}{"jsonrpc": "2.0", "id": float64(1)}}
	h := NewHandler(&fakeSelector{}, &fakeExecutor{result: result}, nil, fakeKVPinger{})
	router := gin.New()
	router.POST("/api/rpc/execute/:chainId", h.Execute)

	body := `{"jsonrpc":"2.0","method":"x","id":1}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rpc/execute/1", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecute_NonArrayParamsIsInvalid(t *testing.T) {
	h := NewHandler(&fakeSelector{}, &fakeExecutor{}, nil, fakeKVPinger{})
	router := gin.New()
	router.POST("/api/rpc/execute/:chainId", h.Execute)

	body := `{"jsonrpc":"2.0","method":"x","id":1,"params":{"a":1}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rpc/execute/1", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// executorFunc lets a test observe whether Execute ever reached the
// executor, without needing a full fakeExecutor per assertion.
type executorFuncT struct {
	fn func()
}

func executorFunc(fn func()) Executor {
	return &executorFuncT{fn: fn}
}

func (e *executorFuncT) ExecuteRequest(ctx context.Context, chainID int64, payload []byte, sessionID string) (*executor.Result, error) {
	e.fn()
	return &executor.Result{Body: map[string]interface{}{}}, nil
}
