package activity

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldserve_backend/internal/events"
	apphttp "fieldserve_backend/internal/http"
	"fieldserve_backend/platform/logger"
)

// LiveStream is the observer fan-out the module mounts at /activity/stream.
// Implemented by the stream package; injected by the composition root so
// this package stays import-cycle free.
type LiveStream interface {
	Broadcaster
	Handler() gin.HandlerFunc
	Close()
}

// Module wires the activity log: repository, service, live stream and routes.
type Module struct {
	service *Service
	handler *HTTPHandler
	live    LiveStream
}

// NewModule creates the activity module. live may be nil when no observer
// stream is served.
func NewModule(pool *pgxpool.Pool, live LiveStream, log *logger.Logger) *Module {
	repo := New(pool)
	svc := NewService(repo, log)
	if live != nil {
		svc.SetBroadcaster(live)
	}

	return &Module{
		service: svc,
		handler: NewHTTPHandler(svc),
		live:    live,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "activity" }

// RegisterRoutes mounts the activity log and live stream endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/activity")
	m.handler.RegisterRoutes(group)
	if m.live != nil {
		group.GET("/stream", m.live.Handler())
	}
}

// RegisterHandlers subscribes the activity service to domain events.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	m.service.RegisterHandlers(bus)
}

// Service exposes the activity recorder for modules that write entries
// directly instead of through events.
func (m *Module) Service() *Service { return m.service }

// Close ends all live observer streams.
func (m *Module) Close() {
	if m.live != nil {
		m.live.Close()
	}
}
