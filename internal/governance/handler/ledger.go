package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only HTTP endpoints for an artifact's trust
// ledger chain.
type LedgerHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	art := rg.Group("/artifacts/:type/:id/ledger")
	{
		art.GET("", h.Events)
		art.GET("/chain", h.Chain)
		art.GET("/verify", h.Verify)
	}
}

// Events handles GET /artifacts/:type/:id/ledger — recent events, newest
// first. ?limit= caps the page size.
func (h *LedgerHandler) Events(c *gin.Context) {
	artifactType := ledger.ArtifactType(c.Param("type"))
	if !artifactType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact type"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	events, err := h.ledger.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("ledger events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	if events == nil {
		events = []*ledger.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// Chain handles GET /artifacts/:type/:id/ledger/chain — the full chain in
// creation order after an integrity walk. A broken chain is a 409.
func (h *LedgerHandler) Chain(c *gin.Context) {
	artifactType := ledger.ArtifactType(c.Param("type"))
	if !artifactType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact type"})
		return
	}

	events, err := h.ledger.Chain(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrChainViolation) {
			h.logger.Warn("ledger chain violation", zap.String("artifact_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("ledger chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	if events == nil {
		events = []*ledger.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// Verify handles GET /artifacts/:type/:id/ledger/verify — walks the chain
// and reports integrity without returning the events.
func (h *LedgerHandler) Verify(c *gin.Context) {
	artifactType := ledger.ArtifactType(c.Param("type"))
	if !artifactType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact type"})
		return
	}

	if err := h.ledger.Verify(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ledger.ErrChainViolation) {
			c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
			return
		}
		h.logger.Error("ledger verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}
