// Package ledgerapi serves a ledger.Ledger over HTTP for cmd/ledgerd.
package ledgerapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes HTTP endpoints for a set of case ledgers.
type LedgerHandler struct {
	ledger ledger.Ledger
	token  string // empty = no bearer token required
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// SetAPIToken requires every request to carry the given bearer token.
func (h *LedgerHandler) SetAPIToken(token string) {
	h.token = token
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledgers", h.requireToken())
	{
		l.POST("", h.Open)
		l.GET("/:ledger_id", h.Overview)
		l.POST("/:ledger_id/entries", h.Append)
		l.GET("/:ledger_id/entries/:idx", h.GetEntry)
		l.POST("/:ledger_id/status", h.PostStatus)
		l.POST("/:ledger_id/finalize", h.Finalize)
		l.GET("/:ledger_id/verify", h.Verify)
	}
}

func (h *LedgerHandler) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ledger.ErrorResponse{Error: "invalid ledger API token"})
			return
		}
		c.Next()
	}
}

// Open handles POST /ledgers. It establishes the ledger of a case.
func (h *LedgerHandler) Open(c *gin.Context) {
	var req ledger.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: err.Error()})
		return
	}
	if req.LawyerDigest.IsZero() || req.ClientDigest.IsZero() {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: "lawyer_digest and client_digest are required"})
		return
	}

	id, err := h.ledger.Open(c.Request.Context(), req.CaseID, req.LawyerDigest, req.ClientDigest)
	if err != nil {
		h.fail(c, "open ledger", err)
		return
	}
	c.JSON(http.StatusCreated, ledger.OpenResponse{LedgerID: id})
}

// Overview handles GET /ledgers/:ledger_id. It returns the entry count, root
// chain hash and finalization state.
func (h *LedgerHandler) Overview(c *gin.Context) {
	info, err := h.ledger.Info(c.Request.Context(), c.Param("ledger_id"))
	if err != nil {
		h.fail(c, "ledger info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Append handles POST /ledgers/:ledger_id/entries. A body with parent_index
// appends a new version of that entry.
func (h *LedgerHandler) Append(c *gin.Context) {
	var req ledger.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Hash.IsZero() {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: "hash is required"})
		return
	}

	ctx := c.Request.Context()
	ledgerID := c.Param("ledger_id")

	var (
		idx int
		err error
	)
	if req.ParentIndex != nil {
		idx, err = h.ledger.AppendVersion(ctx, ledgerID, *req.ParentIndex, req.Hash)
	} else {
		idx, err = h.ledger.Append(ctx, ledgerID, req.Hash)
	}
	if err != nil {
		h.fail(c, "append entry", err)
		return
	}
	c.JSON(http.StatusCreated, ledger.AppendResponse{Index: idx})
}

// GetEntry handles GET /ledgers/:ledger_id/entries/:idx and returns a single entry.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Entry(c.Request.Context(), c.Param("ledger_id"), idx)
	if err != nil {
		h.fail(c, "get entry", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// PostStatus handles POST /ledgers/:ledger_id/status.
func (h *LedgerHandler) PostStatus(c *gin.Context) {
	var req ledger.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.ledger.PostStatus(c.Request.Context(), c.Param("ledger_id"), req.Status, req.Digest); err != nil {
		h.fail(c, "post status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// Finalize handles POST /ledgers/:ledger_id/finalize.
func (h *LedgerHandler) Finalize(c *gin.Context) {
	var req ledger.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Hash.IsZero() {
		c.JSON(http.StatusBadRequest, ledger.ErrorResponse{Error: "hash is required"})
		return
	}
	if err := h.ledger.Finalize(c.Request.Context(), c.Param("ledger_id"), req.Hash); err != nil {
		h.fail(c, "finalize", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": true})
}

// Verify handles GET /ledgers/:ledger_id/verify and walks the chain and reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	ledgerID := c.Param("ledger_id")
	if err := h.ledger.Verify(c.Request.Context(), ledgerID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.fail(c, "verify", err)
			return
		}
		h.logger.Warn("ledger integrity check failed", zap.String("ledger_id", ledgerID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// fail maps ledger errors to HTTP responses.
func (h *LedgerHandler) fail(c *gin.Context, op string, err error) {
	code := ledger.ErrorCode(err)
	switch code {
	case ledger.CodeNotFound:
		c.JSON(http.StatusNotFound, ledger.ErrorResponse{Error: err.Error(), Code: code})
	case ledger.CodeFinalized, ledger.CodeInvalidParent, ledger.CodeExists:
		c.JSON(http.StatusConflict, ledger.ErrorResponse{Error: err.Error(), Code: code})
	default:
		h.logger.Error(op, zap.String("ledger_id", c.Param("ledger_id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ledger.ErrorResponse{Error: op + " failed"})
	}
}
