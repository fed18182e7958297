// Package handler exposes the order lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// OrderService is the lifecycle surface the handlers drive.
type OrderService interface {
	Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	ListFiltered(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
	ListByCustomer(ctx context.Context, name string) ([]domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, next domain.OrderStatus) (*domain.Order, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, text string) []domain.SearchDocument
	SearchByStatus(ctx context.Context, status domain.OrderStatus) []domain.SearchDocument
	SearchByDateRange(ctx context.Context, start, end time.Time) ([]domain.SearchDocument, error)
	Analytics(ctx context.Context) (domain.Analytics, error)
	RebuildSearchIndex(ctx context.Context) (int, error)
}

// Subscriber streams live broadcast payloads.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

type Handler struct {
	orders OrderService
	live   Subscriber
	topic  string
	log    *slog.Logger
}

func NewHandler(orders OrderService, live Subscriber, topic string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{orders: orders, live: live, topic: topic, log: log.With("component", "http")}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	order, err := h.orders.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrders returns every order, or a filtered listing when any of status,
// customer, startDate or endDate is given.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("status") == "" && q.Get("customer") == "" && q.Get("startDate") == "" && q.Get("endDate") == "" {
		orders, err := h.orders.List(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
		return
	}

	var f domain.OrderFilter
	fields := make(map[string]string)
	if s := q.Get("status"); s != "" {
		st, ok := domain.ParseStatus(s)
		if !ok {
			fields["status"] = invalidStatus(s)
		}
		f.Status = st
	}
	f.CustomerName = q.Get("customer")
	var err error
	if f.CreatedFrom, err = parseTime(q.Get("startDate")); err != nil {
		fields["startDate"] = err.Error()
	}
	if f.CreatedTo, err = parseTime(q.Get("endDate")); err != nil {
		fields["endDate"] = err.Error()
	}
	if len(fields) > 0 {
		h.fail(w, r, &domain.ValidationError{Fields: fields})
		return
	}

	orders, err := h.orders.ListFiltered(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) ListByCustomer(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := pathStatus(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListByStatus(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	status, ok := domain.ParseStatus(req.Status)
	if !ok {
		h.fail(w, r, &domain.ValidationError{Fields: map[string]string{"status": invalidStatus(req.Status)}})
		return
	}
	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("query"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "query_required", "query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, searchResponse(h.orders.Search(r.Context(), text)))
}

func (h *Handler) SearchByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := pathStatus(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, searchResponse(h.orders.SearchByStatus(r.Context(), status)))
}

func (h *Handler) SearchByDateRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := make(map[string]string)
	start, err := parseTime(q.Get("startDate"))
	if err != nil {
		fields["startDate"] = err.Error()
	} else if start.IsZero() {
		fields["startDate"] = "startDate is required"
	}
	end, err := parseTime(q.Get("endDate"))
	if err != nil {
		fields["endDate"] = err.Error()
	} else if end.IsZero() {
		fields["endDate"] = "endDate is required"
	}
	if len(fields) > 0 {
		h.fail(w, r, &domain.ValidationError{Fields: fields})
		return
	}

	docs, err := h.orders.SearchByDateRange(r.Context(), start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse(docs))
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.orders.Analytics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) RebuildSearch(w http.ResponseWriter, r *http.Request) {
	n, err := h.orders.RebuildSearchIndex(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{Indexed: n})
}

// Stream relays the live order topic as Server-Sent Events until the client
// goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}
	updates, err := h.live.Subscribe(r.Context(), h.topic)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for payload := range updates {
		if _, err := fmt.Fprintf(w, "event: order\ndata: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// fail maps domain errors onto status codes. Unexpected errors are logged
// and reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:       "validation_failed",
			Message:     "Validation failed",
			FieldErrors: verr.Fields,
		})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", "The order was modified by another request. Please retry.")
	case errors.Is(err, domain.ErrInventoryUnavailable):
		writeError(w, http.StatusConflict, "inventory_unavailable", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func pathStatus(w http.ResponseWriter, r *http.Request) (domain.OrderStatus, bool) {
	raw := chi.URLParam(r, "status")
	status, ok := domain.ParseStatus(raw)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:       "validation_failed",
			Message:     "Validation failed",
			FieldErrors: map[string]string{"status": invalidStatus(raw)},
		})
	}
	return status, ok
}

func invalidStatus(s string) string {
	names := make([]string, len(domain.Statuses))
	for i, st := range domain.Statuses {
		names[i] = st.String()
	}
	return fmt.Sprintf("unknown status %q, expected one of %s", s, strings.Join(names, ", "))
}

// parseTime accepts RFC 3339 or a zone-less ISO date-time read as UTC. An
// empty string yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q, expected RFC 3339", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
