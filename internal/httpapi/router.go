// Package httpapi is the thin HTTP transport shim described in
// SPEC_FULL.md: one gin.Engine, one handler per route group, each handler
// doing request decoding, a single call into the core components, and
// response encoding. Grounded on eidos-api/internal/router and
// eidos-api/internal/handler's shape, narrowed to the exact routes spec §6
// names and without the CORS/rate-limit/access-log middleware that
// spec.md §1 places outside the router's scope.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/httpmw"
)

func NewRouter(h *Handler) *gin.Engine {
	engine := gin.New()
	engine.Use(httpmw.Recovery())

	engine.GET("/health", h.Health)

	api := engine.Group("/api/rpc")
	api.GET("/endpoint/:chainId", h.GetEndpoint)
	api.POST("/execute/:chainId", h.Execute)
	api.GET("/urls", h.ListURLs)
	api.GET("/urls/:chainId", h.URLDetails)

	return engine
}
