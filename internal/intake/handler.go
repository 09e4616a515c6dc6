package intake

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/httpkit"
	"fieldserve_backend/platform/validator"
)

// maxPhotoMemory bounds the multipart parse buffer for photo uploads.
const maxPhotoMemory = 8 << 20

// HTTPHandler serves the public intake endpoints.
type HTTPHandler struct {
	svc *Service
	val *validator.Validator
}

// NewHTTPHandler creates a new intake HTTP handler.
func NewHTTPHandler(svc *Service, val *validator.Validator) *HTTPHandler {
	return &HTTPHandler{svc: svc, val: val}
}

// RegisterRoutes registers the submission endpoints on the given group. The
// caller is expected to have applied rate limiting and API-key auth.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/requests", h.submit)
	rg.POST("/requests/:id/photos", h.uploadPhoto)
	rg.GET("/photos/:fileKey/url", h.photoURL)
}

type submitRequest struct {
	CustomerName  string            `json:"customerName" validate:"required,min=2,max=200"`
	CustomerPhone string            `json:"customerPhone" validate:"required,min=7,max=20"`
	CustomerEmail string            `json:"customerEmail" validate:"omitempty,email"`
	VehicleInfo   string            `json:"vehicleInfo" validate:"max=200"`
	Payload       map[string]string `json:"payload" validate:"required,min=1"`
}

func (h *HTTPHandler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	result, err := h.svc.Submit(c.Request.Context(), Request{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		VehicleInfo:   req.VehicleInfo,
		Source:        SourceFrom(c),
		Payload:       req.Payload,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	// Processing continues asynchronously; the caller only gets the id to
	// poll with.
	httpkit.Accepted(c, gin.H{
		"success":       true,
		"transactionId": result.TransactionID,
		"duplicate":     result.Duplicate,
	})
}

func (h *HTTPHandler) uploadPhoto(c *gin.Context) {
	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid transaction id"))
		return
	}

	if err := c.Request.ParseMultipartForm(maxPhotoMemory); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid multipart form"))
		return
	}
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("photo file is required"))
		return
	}
	defer file.Close()

	fileKey, err := h.svc.AttachPhoto(c.Request.Context(), transactionID,
		header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, gin.H{"fileKey": fileKey})
}

func (h *HTTPHandler) photoURL(c *gin.Context) {
	fileKey := c.Param("fileKey")
	if fileKey == "" {
		httpkit.HandleError(c, apperr.BadRequest("file key is required"))
		return
	}
	url, err := h.svc.PhotoURL(c.Request.Context(), fileKey)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, url)
}
