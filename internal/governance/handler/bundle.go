package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/bundle"
	"go.uber.org/zap"
)

// BundleHandler exposes the policy bundle lifecycle over HTTP.
type BundleHandler struct {
	svc    *bundle.Service
	logger *zap.Logger
}

// NewBundleHandler creates a new BundleHandler.
func NewBundleHandler(svc *bundle.Service, logger *zap.Logger) *BundleHandler {
	return &BundleHandler{svc: svc, logger: logger}
}

// Register mounts the bundle routes on the given router group.
func (h *BundleHandler) Register(rg *gin.RouterGroup) {
	bundles := rg.Group("/bundles")
	{
		bundles.POST("/compile", h.Compile)
		bundles.POST("/:id/publish", h.Publish)
		bundles.POST("/:id/activate", h.Activate)
		bundles.POST("/:id/retire", h.Retire)
		bundles.GET("/active", h.ListActive)
		bundles.GET("/:id", h.Get)
	}
}

type compileRequest struct {
	OrganizationID string   `json:"organization_id" binding:"required"`
	Artifacts      []string `json:"artifacts"`
	Policies       []string `json:"policies"`
	Controls       []string `json:"controls"`
}

// Compile handles POST /bundles/compile — compiles a DRAFT bundle from the
// org's approved artifacts.
func (h *BundleHandler) Compile(c *gin.Context) {
	var req compileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.svc.Compile(c.Request.Context(), req.OrganizationID, req.Artifacts, req.Policies, req.Controls)
	if err != nil {
		if errors.Is(err, bundle.ErrArtifactNotApproved) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, bundle.ErrMissingOrganization) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("compile bundle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compile bundle"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bundle": b})
}

type publishRequest struct {
	SignerID string `json:"signer_id" binding:"required"`
}

// Publish handles POST /bundles/:id/publish — signs and publishes a draft.
func (h *BundleHandler) Publish(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bundle ID"})
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.svc.Publish(c.Request.Context(), id, req.SignerID)
	if err != nil {
		h.writeBundleError(c, err, "publish bundle")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bundle": b})
}

// Activate handles POST /bundles/:id/activate — promotes a published bundle,
// retiring the org's previous active one.
func (h *BundleHandler) Activate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bundle ID"})
		return
	}

	b, err := h.svc.Activate(c.Request.Context(), id)
	if err != nil {
		h.writeBundleError(c, err, "activate bundle")
		return
	}

	SetActiveBundleVersion(b.OrganizationID, b.Version)
	c.JSON(http.StatusOK, gin.H{"bundle": b})
}

// Retire handles POST /bundles/:id/retire.
func (h *BundleHandler) Retire(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bundle ID"})
		return
	}

	b, err := h.svc.Retire(c.Request.Context(), id)
	if err != nil {
		h.writeBundleError(c, err, "retire bundle")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bundle": b})
}

// Get handles GET /bundles/:id.
func (h *BundleHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bundle ID"})
		return
	}

	b, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeBundleError(c, err, "get bundle")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bundle": b})
}

// ListActive handles GET /bundles/active?organization_id= — the gateway
// distribution endpoint. Without the filter it lists every organization's
// active bundle.
func (h *BundleHandler) ListActive(c *gin.Context) {
	active, err := h.svc.ListActive(c.Request.Context(), c.Query("organization_id"))
	if err != nil {
		h.logger.Error("list active bundles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list active bundles"})
		return
	}
	if active == nil {
		active = []*bundle.ActiveBundle{}
	}

	c.JSON(http.StatusOK, gin.H{"bundles": active, "count": len(active)})
}

func (h *BundleHandler) writeBundleError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, bundle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "bundle not found"})
	case errors.Is(err, bundle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, bundle.ErrMissingSigner):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}
