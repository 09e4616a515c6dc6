package retryqueue

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
)

// HTTPHandler serves the operator view of the retry queue.
type HTTPHandler struct {
	svc *Service
}

// NewHTTPHandler creates a new retry queue HTTP handler.
func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// RegisterRoutes registers retry queue endpoints on the given group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/dead-letters", h.listDeadLetters)
}

func (h *HTTPHandler) listDeadLetters(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			httpkit.HandleError(c, apperr.BadRequest("invalid limit"))
			return
		}
		limit = parsed
	}

	entries, err := h.svc.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"deadLetters": entries})
}
