package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"go.uber.org/zap"
)

// AuditHandler serves the verification endpoints used by auditors and
// case parties.
type AuditHandler struct {
	svc    *service.Coordinator
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *service.Coordinator, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register mounts the audit routes. rg must already enforce a session.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	audit := rg.Group("/audit/cases/:case_id")
	{
		audit.GET("/logs/:log_id/verify", h.VerifyLog)
		audit.GET("/verify", h.VerifyCase)
		audit.POST("/reports", h.ArchiveReport)
	}
}

// VerifyLog handles GET /audit/cases/:case_id/logs/:log_id/verify.
func (h *AuditHandler) VerifyLog(c *gin.Context) {
	u, err := bindLogURI(c)
	if err != nil {
		logURIError(c, err)
		return
	}
	res, err := h.svc.VerifyLog(c.Request.Context(), u.CaseID, u.LogID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "verify log", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyCase handles GET /audit/cases/:case_id/verify.
func (h *AuditHandler) VerifyCase(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.VerifyCase(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "verify case", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ArchiveReport handles POST /audit/cases/:case_id/reports.
func (h *AuditHandler) ArchiveReport(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	loc, err := h.svc.ArchiveReport(c.Request.Context(), u.CaseID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "archive report", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"location": loc})
}
