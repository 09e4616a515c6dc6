package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
	"fieldserve_backend/platform/validator"
)

// HTTPHandler serves the dispatch endpoints. Job request management is
// admin-only; the response endpoint is public because subcontractors reply
// from the link in their SMS, outside any operator session.
type HTTPHandler struct {
	svc *Service
	val *validator.Validator
}

// NewHTTPHandler creates a new dispatch HTTP handler.
func NewHTTPHandler(svc *Service, val *validator.Validator) *HTTPHandler {
	return &HTTPHandler{svc: svc, val: val}
}

// RegisterAdminRoutes registers the operator-facing endpoints.
func (h *HTTPHandler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.create)
	rg.GET("", h.list)
	rg.GET("/:id", h.get)
}

// RegisterPublicRoutes registers the subcontractor response endpoint.
func (h *HTTPHandler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/responses", h.respond)
}

type jobRequestRequest struct {
	TransactionID         *uuid.UUID `json:"transactionId"`
	CustomerName          string     `json:"customerName" validate:"required,min=2,max=200"`
	CustomerPhone         string     `json:"customerPhone" validate:"required,min=7,max=20"`
	Address               string     `json:"address" validate:"max=500"`
	AreaCode              string     `json:"areaCode" validate:"omitempty,min=3,max=10"`
	ServiceType           string     `json:"serviceType" validate:"required,min=2,max=100"`
	VehicleInfo           string     `json:"vehicleInfo" validate:"max=200"`
	PreferredDate         string     `json:"preferredDate" validate:"omitempty,datetime=2006-01-02"`
	PreferredTimeSlot     string     `json:"preferredTimeSlot" validate:"max=20"`
	EstimatedDurationMins int        `json:"estimatedDurationMins" validate:"gte=0,lte=1440"`
}

func (h *HTTPHandler) create(c *gin.Context) {
	var req jobRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	result, err := h.svc.CreateJobRequest(c.Request.Context(), CreateParams{
		TransactionID:         req.TransactionID,
		CustomerName:          req.CustomerName,
		CustomerPhone:         req.CustomerPhone,
		Address:               req.Address,
		AreaCode:              req.AreaCode,
		ServiceType:           req.ServiceType,
		VehicleInfo:           req.VehicleInfo,
		PreferredDate:         req.PreferredDate,
		PreferredTimeSlot:     req.PreferredTimeSlot,
		EstimatedDurationMins: req.EstimatedDurationMins,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

func (h *HTTPHandler) list(c *gin.Context) {
	status := Status(c.Query("status"))
	requests, err := h.svc.List(c.Request.Context(), status, 0)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"jobRequests": requests})
}

func (h *HTTPHandler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	jr, responses, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"jobRequest": jr, "responses": responses})
}

type responseRequest struct {
	SubcontractorID    uuid.UUID `json:"subcontractorId" validate:"required"`
	Response           string    `json:"response" validate:"required,oneof=available declined counter_offer"`
	AvailableTimeSlots []string  `json:"availableTimeSlots" validate:"dive,min=4,max=20"`
	ProposedDate       *string   `json:"proposedDate" validate:"omitempty,datetime=2006-01-02"`
	Reason             string    `json:"reason" validate:"max=500"`
}

func (h *HTTPHandler) respond(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req responseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	resp, err := h.svc.RecordResponse(c.Request.Context(), ResponseParams{
		JobRequestID:       id,
		SubcontractorID:    req.SubcontractorID,
		Response:           ResponseKind(req.Response),
		AvailableTimeSlots: req.AvailableTimeSlots,
		ProposedDate:       req.ProposedDate,
		Reason:             req.Reason,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid job request id"))
		return uuid.Nil, false
	}
	return id, true
}
