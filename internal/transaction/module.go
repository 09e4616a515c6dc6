// Package transaction wires the transaction lifecycle bounded context.
package transaction

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/internal/events"
	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/internal/transaction/handler"
	"fieldserve_backend/internal/transaction/repository"
	"fieldserve_backend/internal/transaction/service"
	"fieldserve_backend/platform/logger"
)

// Module bundles the transaction repository, service and HTTP handler.
type Module struct {
	repo    *repository.Repository
	service *service.Service
	handler *handler.HTTPHandler
}

// NewModule creates the transaction module.
func NewModule(pool *pgxpool.Pool, rules service.RuleLoader, erp service.JobCreator, retry service.RetryEnqueuer, tasks service.ProcessEnqueuer, bus events.Bus, log *logger.Logger, cfg service.Config) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, rules, erp, retry, tasks, bus, log, cfg)

	return &Module{
		repo:    repo,
		service: svc,
		handler: handler.New(svc),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "transaction" }

// RegisterRoutes mounts operator-facing transaction endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/transactions"))
}

// Service exposes the lifecycle service for the scheduler worker and intake.
func (m *Module) Service() *service.Service { return m.service }

// Repository exposes the store for intake duplicate checks.
func (m *Module) Repository() *repository.Repository { return m.repo }
