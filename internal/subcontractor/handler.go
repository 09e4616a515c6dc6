package subcontractor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
	"fieldserve_backend/platform/phone"
	"fieldserve_backend/platform/validator"
)

// HTTPHandler serves the admin directory endpoints.
type HTTPHandler struct {
	repo *Repository
	val  *validator.Validator
}

// NewHTTPHandler creates a new directory HTTP handler.
func NewHTTPHandler(repo *Repository, val *validator.Validator) *HTTPHandler {
	return &HTTPHandler{repo: repo, val: val}
}

// RegisterRoutes registers the directory endpoints on the given group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.create)
	rg.GET("", h.list)
	rg.GET("/:id", h.get)
	rg.PUT("/:id", h.update)
	rg.POST("/:id/deactivate", h.deactivate)
	rg.PUT("/:id/availability", h.setAvailability)
}

type subcontractorRequest struct {
	Name          string   `json:"name" validate:"required,min=2,max=200"`
	Phone         string   `json:"phone" validate:"required,min=7,max=20"`
	Email         string   `json:"email" validate:"omitempty,email"`
	ServiceAreas  []string `json:"serviceAreas" validate:"required,min=1,dive,min=2,max=10"`
	Specialties   []string `json:"specialties" validate:"dive,min=2,max=50"`
	Rating        float64  `json:"rating" validate:"gte=0,lte=5"`
	MaxJobsPerDay int      `json:"maxJobsPerDay" validate:"required,gte=1,lte=50"`
}

type availabilityRequest struct {
	Day         string   `json:"day" validate:"required"`
	TimeSlots   []string `json:"timeSlots" validate:"dive,min=4,max=10"`
	MaxJobs     int      `json:"maxJobs" validate:"required,gte=1,lte=50"`
	IsAvailable bool     `json:"isAvailable"`
}

func (h *HTTPHandler) bindSubcontractor(c *gin.Context) (subcontractorRequest, bool) {
	var req subcontractorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return req, false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return req, false
	}
	req.Phone = phone.NormalizeE164(req.Phone)
	return req, true
}

func (h *HTTPHandler) create(c *gin.Context) {
	req, ok := h.bindSubcontractor(c)
	if !ok {
		return
	}

	sub, err := h.repo.Create(c.Request.Context(), CreateParams{
		Name:          req.Name,
		Phone:         req.Phone,
		Email:         req.Email,
		ServiceAreas:  req.ServiceAreas,
		Specialties:   req.Specialties,
		Rating:        req.Rating,
		MaxJobsPerDay: req.MaxJobsPerDay,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, sub)
}

func (h *HTTPHandler) list(c *gin.Context) {
	subs, err := h.repo.List(c.Request.Context())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"subcontractors": subs})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid subcontractor id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	sub, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, sub)
}

func (h *HTTPHandler) update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, ok := h.bindSubcontractor(c)
	if !ok {
		return
	}

	sub, err := h.repo.Update(c.Request.Context(), id, UpdateParams{
		Name:          req.Name,
		Phone:         req.Phone,
		Email:         req.Email,
		ServiceAreas:  req.ServiceAreas,
		Specialties:   req.Specialties,
		Rating:        req.Rating,
		MaxJobsPerDay: req.MaxJobsPerDay,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, sub)
}

func (h *HTTPHandler) deactivate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.repo.Deactivate(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "deactivated"})
}

func (h *HTTPHandler) setAvailability(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	if _, err := time.Parse("2006-01-02", req.Day); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("day must be YYYY-MM-DD"))
		return
	}

	avail, err := h.repo.SetAvailability(c.Request.Context(), Availability{
		SubcontractorID: id,
		Day:             req.Day,
		TimeSlots:       req.TimeSlots,
		MaxJobs:         req.MaxJobs,
		IsAvailable:     req.IsAvailable,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, avail)
}
