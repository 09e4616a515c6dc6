package retryqueue

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/internal/events"
	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/platform/logger"
)

// Module bundles the retry queue repository, service and HTTP handler.
type Module struct {
	service *Service
	handler *HTTPHandler
}

// NewModule creates the retry queue module.
func NewModule(pool *pgxpool.Pool, baseDelay, maxDelay time.Duration, act ActivityRecorder, bus events.Bus, log *logger.Logger) *Module {
	repo := New(pool)
	svc := NewService(repo, baseDelay, maxDelay, act, bus, log)

	return &Module{
		service: svc,
		handler: NewHTTPHandler(svc),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "retryqueue" }

// RegisterRoutes mounts the operator retry queue endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/retry-queue"))
}

// Service exposes the retry queue service for handler registration and the
// dispatcher loop.
func (m *Module) Service() *Service { return m.service }
