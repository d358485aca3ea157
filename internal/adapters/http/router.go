package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

// Queries is the read side served over HTTP: the read model itself or a
// broker client of it.
type Queries interface {
	ports.EntityQueries
	UnbilledOrders(ctx context.Context) ([]domain.Entity, error)
	UnshippedOrders(ctx context.Context) ([]domain.Entity, error)
	DeliveredOrders(ctx context.Context) ([]domain.Entity, error)
}

type Handler struct {
	queries Queries
	ready   func(ctx context.Context) error
}

// NewHandler builds the HTTP handler. ready backs /readyz and may be nil.
func NewHandler(queries Queries, ready func(ctx context.Context) error) *Handler {
	return &Handler{queries: queries, ready: ready}
}

func NewRouter(handler *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })
	r.Get("/readyz", handler.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.Get("/unbilled-orders", handler.unbilledOrders)
			r.Get("/unshipped-orders", handler.unshippedOrders)
			r.Get("/delivered-orders", handler.deliveredOrders)
		})
		r.Get("/entities/{topic}", handler.listEntities)
		r.Get("/entities/{topic}/{entity_id}", handler.getEntity)
	})
	return r
}
