package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"github.com/secure-knaight/governance-core/internal/token"
	"go.uber.org/zap"
)

// TokenHandler exposes gateway token issuance, introspection and
// revocation.
type TokenHandler struct {
	svc    *token.Service
	logger *zap.Logger
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(svc *token.Service, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{svc: svc, logger: logger}
}

// Register mounts the token routes on the given router group.
func (h *TokenHandler) Register(rg *gin.RouterGroup) {
	tokens := rg.Group("/tokens")
	{
		tokens.POST("", h.Issue)
		tokens.POST("/introspect", h.Introspect)
		tokens.POST("/:id/revoke", h.Revoke)
	}
}

type issueTokenRequest struct {
	OrganizationID string   `json:"organization_id" binding:"required"`
	ArtifactID     string   `json:"artifact_id" binding:"required"`
	ArtifactType   string   `json:"artifact_type" binding:"required"`
	LoaLevel       int      `json:"loa_level" binding:"required"`
	Scope          []string `json:"scope"`
	IssuedFor      string   `json:"issued_for"`
	IssuerID       string   `json:"issuer_id" binding:"required"`
	TTLSeconds     int      `json:"ttl_seconds"`
}

// Issue handles POST /tokens — mints a gateway token for an approved
// artifact.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issued, err := h.svc.Issue(c.Request.Context(), token.IssueInput{
		OrganizationID: req.OrganizationID,
		ArtifactID:     req.ArtifactID,
		ArtifactType:   ledger.ArtifactType(req.ArtifactType),
		LoaLevel:       req.LoaLevel,
		Scope:          req.Scope,
		IssuedFor:      req.IssuedFor,
		IssuerID:       req.IssuerID,
		TTLSeconds:     req.TTLSeconds,
	})
	if err != nil {
		switch {
		case errors.Is(err, token.ErrInvalidLoaLevel), errors.Is(err, token.ErrMissingIssuer):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, token.ErrArtifactNotApproved), errors.Is(err, token.ErrNoActiveBundle):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("issue token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		}
		return
	}

	RecordTokenIssued()
	c.JSON(http.StatusCreated, issued)
}

type introspectRequest struct {
	Token string `json:"token" binding:"required"`
}

// Introspect handles POST /tokens/introspect — RFC 7662 shape: always 200,
// valid=false for anything unusable.
func (h *TokenHandler) Introspect(c *gin.Context) {
	var req introspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intro, err := h.svc.Introspect(c.Request.Context(), req.Token)
	if err != nil {
		h.logger.Error("introspect token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to introspect token"})
		return
	}

	c.JSON(http.StatusOK, intro)
}

type revokeTokenRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
}

// Revoke handles POST /tokens/:id/revoke — permanently invalidates a token.
func (h *TokenHandler) Revoke(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token ID"})
		return
	}

	var req revokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.Revoke(c.Request.Context(), id, req.OrganizationID); err != nil {
		switch {
		case errors.Is(err, token.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		case errors.Is(err, token.ErrWrongOrganization):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.logger.Error("revoke token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
