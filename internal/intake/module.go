package intake

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/internal/storage"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/validator"
)

// Module bundles the public intake surface.
type Module struct {
	repo    *Repository
	service *Service
	handler *HTTPHandler
	log     *logger.Logger
}

// NewModule creates the intake module. photos may be nil when object
// storage is disabled.
func NewModule(pool *pgxpool.Pool, submitter Submitter, deduper Deduper, photos storage.PhotoStore, bucket string, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	svc := NewService(submitter, deduper, photos, bucket, log)
	return &Module{
		repo:    repo,
		service: svc,
		handler: NewHTTPHandler(svc, val),
		log:     log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "intake" }

// RegisterRoutes mounts the intake endpoints behind rate limiting and
// API-key authentication.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/intake")
	group.Use(ctx.IntakeLimiter.RateLimit(), RequireAPIKey(m.repo, m.log))
	m.handler.RegisterRoutes(group)
}
