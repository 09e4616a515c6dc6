// Package handler exposes transaction endpoints for operators.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldserve_backend/internal/transaction/service"
	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
)

// HTTPHandler serves transaction lifecycle endpoints.
type HTTPHandler struct {
	svc *service.Service
}

// New creates a new transaction HTTP handler.
func New(svc *service.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// RegisterRoutes registers transaction endpoints on the given group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id", h.get)
	rg.GET("/:id/history", h.history)
	rg.POST("/:id/retry", h.retry)
	rg.POST("/:id/archive", h.archive)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid transaction id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	txn, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, txn)
}

func (h *HTTPHandler) history(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	history, err := h.svc.History(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"history": history})
}

func (h *HTTPHandler) retry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	txn, err := h.svc.Retry(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.Accepted(c, txn)
}

func (h *HTTPHandler) archive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.svc.Archive(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"status": "archived"})
}
