package subcontractor

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/platform/validator"
)

// Module bundles the directory repository and its admin endpoints.
type Module struct {
	repo    *Repository
	handler *HTTPHandler
}

// NewModule creates the subcontractor directory module.
func NewModule(pool *pgxpool.Pool, val *validator.Validator) *Module {
	repo := New(pool)
	return &Module{
		repo:    repo,
		handler: NewHTTPHandler(repo, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "subcontractor" }

// RegisterRoutes mounts the admin directory endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/subcontractors"))
}

// Repository exposes the directory for the dispatch scheduler.
func (m *Module) Repository() *Repository { return m.repo }
