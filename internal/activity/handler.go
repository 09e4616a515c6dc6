package activity

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
)

// HTTPHandler serves the activity log listing.
type HTTPHandler struct {
	svc *Service
}

// NewHTTPHandler creates a new activity HTTP handler.
func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// RegisterRoutes registers activity endpoints on the given group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)
}

func (h *HTTPHandler) list(c *gin.Context) {
	var params ListParams

	if raw := c.Query("transactionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.HandleError(c, apperr.BadRequest("invalid transactionId"))
			return
		}
		params.TransactionID = &id
	}
	params.Type = c.Query("type")
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httpkit.HandleError(c, apperr.BadRequest("invalid limit"))
			return
		}
		params.Limit = limit
	}

	records, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"activity": records})
}
