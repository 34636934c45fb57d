package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/apperrors"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/executor"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/model"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/readapi"
)

// Selector is the capability the endpoint handler needs.
type Selector interface {
	GetHealthyRpcUrl(ctx context.Context, chainID int64) (string, error)
}

// Executor is the capability the execute handler needs.
type Executor interface {
	ExecuteRequest(ctx context.Context, chainID int64, payload []byte, sessionID string) (*executor.Result, error)
}

// KVPinger is the narrow KV store handle the Handler holds, without
// importing the kvstore package's full surface. The /health handler does
// not consult it: it always replies {"status":"ok"}.
type KVPinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	selector Selector
	executor Executor
	readAPI  *readapi.API
	kv       KVPinger
}

func NewHandler(selector Selector, exec Executor, readAPI *readapi.API, kv KVPinger) *Handler {
	return &Handler{selector: selector, executor: exec, readAPI: readAPI, kv: kv}
}

func success(data interface{}) gin.H {
	return gin.H{"success": true, "data": data}
}

func writeError(c *gin.Context, err error) {
	bizErr := apperrors.FromError(err)
	c.JSON(bizErr.HTTPStatus, gin.H{"success": false, "error": bizErr.Message})
}

func parseChainID(c *gin.Context) (int64, bool) {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": apperrors.ErrInvalidRequest.Message})
		return 0, false
	}
	return chainID, true
}

// Health implements GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetEndpoint implements GET /api/rpc/endpoint/{chainId}.
func (h *Handler) GetEndpoint(c *gin.Context) {
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}

	url, err := h.selector.GetHealthyRpcUrl(c.Request.Context(), chainID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(gin.H{"url": url}))
}

// jsonRPCRequest is decoded only far enough to run the §6 validator; the
// original bytes are forwarded to the upstream unmodified.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	ID      json.RawMessage `json:"id"`
	Params  json.RawMessage `json:"params"`
}

func validateJSONRPC(body []byte) bool {
	var req jsonRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	if req.JSONRPC != "2.0" {
		return false
	}
	var method string
	if err := json.Unmarshal(req.Method, &method); err != nil {
		return false
	}
	if len(req.ID) == 0 {
		return false
	}
	if len(req.Params) > 0 {
		var arr []json.RawMessage
		if err := json.Unmarshal(req.Params, &arr); err != nil {
			return false
		}
	}
	return true
}

// Execute implements POST /api/rpc/execute/{chainId}.
func (h *Handler) Execute(c *gin.Context) {
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": apperrors.ErrInvalidRequest.Message})
		return
	}

	if !validateJSONRPC(body) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": apperrors.ErrInvalidRequest.Message})
		return
	}

	sessionID := c.GetHeader("x-session-id")

	result, err := h.executor.ExecuteRequest(c.Request.Context(), chainID, body, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Body)
}

// ListURLs implements GET /api/rpc/urls[?chainId=].
func (h *Handler) ListURLs(c *gin.Context) {
	if chainIDParam := c.Query("chainId"); chainIDParam != "" {
		chainID, err := strconv.ParseInt(chainIDParam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": apperrors.ErrInvalidRequest.Message})
			return
		}
		cfg, err := h.readAPI.ListChains(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		filtered := make([]model.ChainConfig, 0, 1)
		for _, c2 := range cfg {
			if c2.ChainID == chainID {
				filtered = append(filtered, c2)
			}
		}
		c.JSON(http.StatusOK, success(gin.H{"chains": filtered}))
		return
	}

	chains, err := h.readAPI.ListChains(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(gin.H{"chains": chains}))
}

// URLDetails implements GET /api/rpc/urls/{chainId}.
func (h *Handler) URLDetails(c *gin.Context) {
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}

	cfg, details, err := h.readAPI.URLDetails(c.Request.Context(), chainID)
	if err != nil {
		writeError(c, err)
		return
	}

	stats, err := h.readAPI.ChainStats(c.Request.Context(), chainID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, success(gin.H{
		"chainId": cfg.ChainID,
		"name":    cfg.Name,
		"stats":   stats,
		"urls":    details,
	}))
}
