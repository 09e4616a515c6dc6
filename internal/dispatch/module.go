package dispatch

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/internal/events"
	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/validator"
)

// Module bundles the dispatch scheduler, its repository and endpoints.
type Module struct {
	service *Service
	handler *HTTPHandler
}

// NewModule creates the dispatch module. The directory and SMS sender come
// from outside because they belong to other modules.
func NewModule(pool *pgxpool.Pool, directory Directory, sms SMSSender, bus events.Bus, val *validator.Validator, log *logger.Logger, cfg config.DispatchConfig) *Module {
	svc := NewService(NewRepository(pool), directory, sms, bus, log, cfg)
	return &Module{
		service: svc,
		handler: NewHTTPHandler(svc, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "dispatch" }

// RegisterRoutes mounts the admin endpoints and the rate-limited public
// response endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/job-requests"))

	public := ctx.V1.Group("/job-requests")
	public.Use(ctx.IntakeLimiter.RateLimit())
	m.handler.RegisterPublicRoutes(public)
}

// Service exposes the scheduler for the transaction pipeline and the
// background expiry sweep.
func (m *Module) Service() *Service { return m.service }
