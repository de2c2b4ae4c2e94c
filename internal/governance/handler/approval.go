package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/approval"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"go.uber.org/zap"
)

// ApprovalHandler exposes the approval quorum engine over HTTP.
type ApprovalHandler struct {
	svc    *approval.Service
	logger *zap.Logger
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(svc *approval.Service, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{svc: svc, logger: logger}
}

// Register mounts the approval routes on the given router group.
func (h *ApprovalHandler) Register(rg *gin.RouterGroup) {
	approvals := rg.Group("/approvals")
	{
		approvals.POST("", h.CreateRequest)
		approvals.GET("/:id", h.GetRequest)
		approvals.POST("/:id/votes", h.SubmitVote)
	}

	rg.GET("/artifacts/:type/:id/approvals", h.ListByArtifact)
	rg.GET("/orgs/:org/approval-stats", h.OrgStats)
}

type createApprovalRequest struct {
	OrganizationID string     `json:"organization_id" binding:"required"`
	ArtifactID     string     `json:"artifact_id" binding:"required"`
	ArtifactType   string     `json:"artifact_type" binding:"required"`
	LoaLevel       int        `json:"loa_level" binding:"required"`
	RequiredFacets []string   `json:"required_facets"`
	Priority       string     `json:"priority"`
	RequestorID    string     `json:"requestor_id" binding:"required"`
	RequestReason  string     `json:"request_reason"`
	DueDate        *time.Time `json:"due_date"`
	Reviewers      []string   `json:"reviewers"`
}

// CreateRequest handles POST /approvals — opens a new approval request.
func (h *ApprovalHandler) CreateRequest(c *gin.Context) {
	var req createApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	facets := make([]approval.Facet, len(req.RequiredFacets))
	for i, f := range req.RequiredFacets {
		facets[i] = approval.Facet(f)
	}

	created, err := h.svc.CreateRequest(c.Request.Context(), approval.CreateInput{
		OrganizationID: req.OrganizationID,
		ArtifactID:     req.ArtifactID,
		ArtifactType:   ledger.ArtifactType(req.ArtifactType),
		LoaLevel:       req.LoaLevel,
		RequiredFacets: facets,
		Priority:       approval.Priority(req.Priority),
		RequestorID:    req.RequestorID,
		RequestReason:  req.RequestReason,
		DueDate:        req.DueDate,
		Reviewers:      req.Reviewers,
	})
	if err != nil {
		if isApprovalValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("create approval request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create approval request"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": created})
}

// GetRequest handles GET /approvals/:id — returns a request with its votes.
func (h *ApprovalHandler) GetRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request ID"})
		return
	}

	req, votes, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, approval.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "approval request not found"})
			return
		}
		h.logger.Error("get approval request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get approval request"})
		return
	}
	if votes == nil {
		votes = []*approval.Vote{}
	}

	c.JSON(http.StatusOK, gin.H{"request": req, "votes": votes})
}

type submitVoteRequest struct {
	Facet      string `json:"facet" binding:"required"`
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Vote       string `json:"vote" binding:"required"`
	Comment    string `json:"comment"`
}

// SubmitVote handles POST /approvals/:id/votes — records a facet vote and
// returns the recomputed request status with per-facet tallies.
func (h *ApprovalHandler) SubmitVote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request ID"})
		return
	}

	var req submitVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.SubmitVote(c.Request.Context(), approval.VoteInput{
		RequestID:  id,
		Facet:      approval.Facet(req.Facet),
		ReviewerID: req.ReviewerID,
		Vote:       approval.VoteValue(req.Vote),
		Comment:    req.Comment,
	})
	if err != nil {
		if errors.Is(err, approval.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "approval request not found"})
			return
		}
		if isApprovalValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("submit vote", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit vote"})
		return
	}

	if result.Decided {
		RecordApprovalDecision(string(result.Request.Status))
	}

	c.JSON(http.StatusOK, result)
}

// ListByArtifact handles GET /artifacts/:type/:id/approvals.
func (h *ApprovalHandler) ListByArtifact(c *gin.Context) {
	artifactType := ledger.ArtifactType(c.Param("type"))
	if !artifactType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact type"})
		return
	}

	requests, err := h.svc.ListByArtifact(c.Request.Context(), artifactType, c.Param("id"))
	if err != nil {
		h.logger.Error("list approvals by artifact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list approval requests"})
		return
	}
	if requests == nil {
		requests = []*approval.Request{}
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// OrgStats handles GET /orgs/:org/approval-stats.
func (h *ApprovalHandler) OrgStats(c *gin.Context) {
	stats, err := h.svc.OrgStats(c.Request.Context(), c.Param("org"))
	if err != nil {
		h.logger.Error("org approval stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute approval stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// isApprovalValidationError reports whether err is a caller mistake rather
// than an infrastructure failure.
func isApprovalValidationError(err error) bool {
	for _, sentinel := range []error{
		approval.ErrInvalidLoaLevel,
		approval.ErrInvalidArtifactType,
		approval.ErrInvalidFacet,
		approval.ErrFacetNotRequired,
		approval.ErrInvalidVote,
		approval.ErrInvalidPriority,
		approval.ErrMissingOrganization,
		approval.ErrMissingReviewer,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
