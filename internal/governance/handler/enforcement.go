package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/secure-knaight/governance-core/internal/enforcement"
	"go.uber.org/zap"
)

// EnforcementHandler exposes request signature verification and call
// telemetry.
type EnforcementHandler struct {
	svc    *enforcement.Service
	logger *zap.Logger
}

// NewEnforcementHandler creates a new EnforcementHandler.
func NewEnforcementHandler(svc *enforcement.Service, logger *zap.Logger) *EnforcementHandler {
	return &EnforcementHandler{svc: svc, logger: logger}
}

// Register mounts the enforcement routes on the given router group.
func (h *EnforcementHandler) Register(rg *gin.RouterGroup) {
	enf := rg.Group("/enforcement")
	{
		enf.POST("/verify", h.Verify)
		enf.GET("/calls", h.ListCalls)
	}
}

// Verify handles POST /enforcement/verify. The gateway forwards the
// upstream request's raw body untouched, its X-SCK-* headers, and the
// original method and path as ?method= and ?path= query parameters. The
// body bytes must be exactly what the caller signed.
func (h *EnforcementHandler) Verify(c *gin.Context) {
	method := c.Query("method")
	path := c.Query("path")
	if method == "" || path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method and path query parameters are required"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	in := enforcement.FromHeaders(method, path, body, c.Request.Header)
	result, err := h.svc.Verify(c.Request.Context(), in)
	if err != nil {
		h.logger.Error("verify request signature", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	RecordEnforcementDecision(string(result.Decision))
	c.JSON(http.StatusOK, result)
}

// ListCalls handles GET /enforcement/calls?organization_id= — recent
// verification attempts, newest first.
func (h *EnforcementHandler) ListCalls(c *gin.Context) {
	org := c.Query("organization_id")
	if org == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	calls, err := h.svc.ListCalls(c.Request.Context(), org, limit)
	if err != nil {
		h.logger.Error("list enforcement calls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list enforcement calls"})
		return
	}
	if calls == nil {
		calls = []*enforcement.Call{}
	}

	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}
