package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/jmerrifield20/caseledger/internal/identity"
	"go.uber.org/zap"
)

// CaseHandler serves case lifecycle and grant endpoints.
type CaseHandler struct {
	svc    *service.Coordinator
	logger *zap.Logger
}

// NewCaseHandler creates a new CaseHandler.
func NewCaseHandler(svc *service.Coordinator, logger *zap.Logger) *CaseHandler {
	return &CaseHandler{svc: svc, logger: logger}
}

// Register mounts the case routes. rg must already enforce a session.
func (h *CaseHandler) Register(rg *gin.RouterGroup) {
	cases := rg.Group("/cases")
	{
		cases.POST("", identity.RequireRole(identity.RoleLawyer), h.CreateCase)
		cases.GET("", h.ListCases)
		cases.GET("/:case_id", h.GetCase)
		cases.GET("/:case_id/summary", h.Summary)
		cases.POST("/:case_id/status", identity.RequireRole(identity.RoleLawyer, identity.RoleClient), h.Transition)
		cases.GET("/:case_id/status-history", h.StatusHistory)
		cases.POST("/:case_id/grants", identity.RequireRole(identity.RoleLawyer, identity.RoleClient), h.GrantAccess)
		cases.GET("/:case_id/grants", h.ListGrants)
		cases.POST("/:case_id/reconcile", identity.RequireRole(identity.RoleLawyer), h.Reconcile)
	}
}

// CreateCase handles POST /cases. The caller becomes the case lawyer.
func (h *CaseHandler) CreateCase(c *gin.Context) {
	var req model.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := principal(c)
	created, err := h.svc.CreateCase(c.Request.Context(), p.ID, req.ClientID, sanitize(req.Title))
	if err != nil {
		respondErr(c, h.logger, "create case", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListCases handles GET /cases and returns the cases the caller is a party to.
func (h *CaseHandler) ListCases(c *gin.Context) {
	list, err := h.svc.ListCasesFor(c.Request.Context(), principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "list cases", err)
		return
	}
	if list == nil {
		list = []*model.Case{}
	}
	c.JSON(http.StatusOK, gin.H{"cases": list, "count": len(list)})
}

// GetCase handles GET /cases/:case_id.
func (h *CaseHandler) GetCase(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	got, err := h.svc.GetCase(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "get case", err)
		return
	}
	c.JSON(http.StatusOK, got)
}

// Summary handles GET /cases/:case_id/summary.
func (h *CaseHandler) Summary(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	sum, err := h.svc.Summary(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "case summary", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Transition handles POST /cases/:case_id/status.
func (h *CaseHandler) Transition(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	var req model.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.Label = sanitize(req.Label)
	req.Reason = sanitize(req.Reason)

	change, err := h.svc.Transition(c.Request.Context(), u.CaseID, principal(c).ID, req)
	if err != nil {
		respondErr(c, h.logger, "change case status", err)
		return
	}
	c.JSON(http.StatusOK, change)
}

// Reconcile handles POST /cases/:case_id/reconcile. It adopts a single ledger
// entry the store lost and reports whether anything was adopted.
func (h *CaseHandler) Reconcile(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.Reconcile(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "reconcile case", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StatusHistory handles GET /cases/:case_id/status-history.
func (h *CaseHandler) StatusHistory(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	history, err := h.svc.StatusHistory(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "status history", err)
		return
	}
	if history == nil {
		history = []*model.StatusChange{}
	}
	c.JSON(http.StatusOK, gin.H{"changes": history, "count": len(history)})
}

// GrantAccess handles POST /cases/:case_id/grants.
func (h *CaseHandler) GrantAccess(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	var req model.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, err := h.svc.GrantAccess(c.Request.Context(), u.CaseID, req.AuditorID, principal(c).ID, req.TTLHours)
	if err != nil {
		respondErr(c, h.logger, "grant access", err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

// ListGrants handles GET /cases/:case_id/grants.
func (h *CaseHandler) ListGrants(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	grants, err := h.svc.ListGrants(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "list grants", err)
		return
	}
	if grants == nil {
		grants = []*model.AuditGrant{}
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants, "count": len(grants)})
}
