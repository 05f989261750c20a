package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/jmerrifield20/caseledger/internal/identity"
	"go.uber.org/zap"
)

// LogHandler serves progress log endpoints.
type LogHandler struct {
	svc    *service.Coordinator
	logger *zap.Logger
}

// NewLogHandler creates a new LogHandler.
func NewLogHandler(svc *service.Coordinator, logger *zap.Logger) *LogHandler {
	return &LogHandler{svc: svc, logger: logger}
}

// Register mounts the log routes. rg must already enforce a session.
func (h *LogHandler) Register(rg *gin.RouterGroup) {
	logs := rg.Group("/cases/:case_id/logs")
	{
		logs.POST("", identity.RequireRole(identity.RoleLawyer), h.RecordLog)
		logs.GET("", h.ListLogs)
		logs.PUT("/:log_id", identity.RequireRole(identity.RoleLawyer), h.EditLog)
		logs.GET("/:log_id/history", h.History)
	}
}

// logURIError reports a bad log path: 404 when the log belongs to another
// case, 400 otherwise.
func logURIError(c *gin.Context, err error) {
	if errors.Is(err, errLogNotInCase) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	badRequest(c, err)
}

// RecordLog handles POST /cases/:case_id/logs.
func (h *LogHandler) RecordLog(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	var req model.LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.svc.RecordNewLog(c.Request.Context(), u.CaseID, principal(c).ID, sanitize(req.Description), *req.TimeSpent)
	if err != nil {
		respondErr(c, h.logger, "record log", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// ListLogs handles GET /cases/:case_id/logs. ?all=true includes superseded
// versions.
func (h *LogHandler) ListLogs(c *gin.Context) {
	var u caseURI
	if err := c.ShouldBindUri(&u); err != nil {
		badRequest(c, err)
		return
	}
	all := c.Query("all") == "true"
	logs, err := h.svc.ListLogs(c.Request.Context(), u.CaseID, principal(c).ID, all)
	if err != nil {
		respondErr(c, h.logger, "list logs", err)
		return
	}
	if logs == nil {
		logs = []*model.ProgressLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// EditLog handles PUT /cases/:case_id/logs/:log_id. The response is the new
// version of the log.
func (h *LogHandler) EditLog(c *gin.Context) {
	u, err := bindLogURI(c)
	if err != nil {
		logURIError(c, err)
		return
	}
	var req model.LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.svc.RecordEdit(c.Request.Context(), u.LogID, principal(c).ID, sanitize(req.Description), *req.TimeSpent)
	if err != nil {
		respondErr(c, h.logger, "edit log", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// History handles GET /cases/:case_id/logs/:log_id/history.
func (h *LogHandler) History(c *gin.Context) {
	u, err := bindLogURI(c)
	if err != nil {
		logURIError(c, err)
		return
	}
	hist, err := h.svc.LogHistory(c.Request.Context(), u.LogID, principal(c).ID)
	if err != nil {
		respondErr(c, h.logger, "log history", err)
		return
	}
	c.JSON(http.StatusOK, hist)
}
