package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xparking/internal/bus"
	"xparking/internal/orchestrator"
	"xparking/internal/token"
	"xparking/internal/vehicle"
)

// Controller is the slice of the orchestrator the control API drives.
type Controller interface {
	TriggerEntry(ctx context.Context, credential, operator string) error
	TriggerExit(ctx context.Context, credential, operator string) error
	CancelPayment(ctx context.Context) bool
	ManualCashPayment(ctx context.Context, confirmedBy string) error
	ManualBarrier(ctx context.Context, lane bus.Lane, open bool, operator string)
	Status(ctx context.Context) orchestrator.Snapshot
}

// Health reports component liveness for the health endpoint.
type Health struct {
	BusConnected func() bool
	FeedHealthy  func() bool
	StoreCheck   func(ctx context.Context) error
}

// Handler is the thin HTTP layer over the orchestrator and the vehicle
// store. Business logic stays out of it.
type Handler struct {
	controller Controller
	store      vehicle.Store
	tokens     *token.Service
	health     Health
	logger     *slog.Logger
}

func NewHandler(controller Controller, store vehicle.Store, tokens *token.Service, health Health, logger *slog.Logger) *Handler {
	return &Handler{
		controller: controller,
		store:      store,
		tokens:     tokens,
		health:     health,
		logger:     logger,
	}
}

// NewRouter wires the control and monitoring endpoints. Everything
// under /ops and the reporting queries require an operator token;
// status, health and metrics stay open for probes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens, h.logger))

		r.Post("/ops/entry", h.handleTriggerEntry)
		r.Post("/ops/exit", h.handleTriggerExit)
		r.Post("/ops/payment/cancel", h.handleCancelPayment)
		r.Post("/ops/payment/cash", h.handleCashPayment)
		r.Post("/ops/barrier/{lane}/{action}", h.handleManualBarrier)

		r.Get("/history", h.handleHistory)
		r.Get("/revenue", h.handleRevenue)
	})

	return r
}
