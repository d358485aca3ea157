package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/martinez099/ordershop/internal/domain"
)

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code, message := mapDomainError(err)
	writeError(w, status, code, message)
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "not ready")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.queries.GetOneEntity(r.Context(), chi.URLParam(r, "topic"), chi.URLParam(r, "entity_id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, entity)
}

// listEntities answers ?ids=a,b with one slot per id, any other query
// parameters as an AND filter on entity fields, and no parameters with
// every entity of the topic.
func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	query := r.URL.Query()
	var (
		entities []domain.Entity
		err      error
	)
	switch {
	case query.Has("ids"):
		ids := []string{}
		for _, id := range strings.Split(query.Get("ids"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		entities, err = h.queries.GetMultEntities(r.Context(), topic, ids)
	case len(query) > 0:
		entities, err = h.queries.GetSpecEntities(r.Context(), topic, propsFromQuery(query))
	default:
		entities, err = h.queries.GetAllEntities(r.Context(), topic)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeList(w, entities)
}

// propsFromQuery decodes each value as JSON when it parses, so ?amount=3
// matches a numeric field, and falls back to the raw string.
func propsFromQuery(query map[string][]string) map[string]any {
	props := make(map[string]any, len(query))
	for key, values := range query {
		decoded := make([]any, 0, len(values))
		for _, raw := range values {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				v = raw
			}
			decoded = append(decoded, v)
		}
		if len(decoded) == 1 {
			props[key] = decoded[0]
		} else {
			props[key] = decoded
		}
	}
	return props
}

func (h *Handler) unbilledOrders(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, h.queries.UnbilledOrders)
}

func (h *Handler) unshippedOrders(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, h.queries.UnshippedOrders)
}

func (h *Handler) deliveredOrders(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, h.queries.DeliveredOrders)
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, query func(ctx context.Context) ([]domain.Entity, error)) {
	orders, err := query(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeList(w, orders)
}
