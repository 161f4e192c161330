package alerts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hornero-erp/hornero-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the alert engine.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the alerts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/summary", h.handleSummary)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/{alertID}/resolve", h.handleResolve)
	r.Post("/{alertID}/ignore", h.handleIgnore)
	r.Post("/products/{productID}/resolve", h.handleResolveForProduct)
	r.Post("/invoices/{invoiceID}/resolve", h.handleResolveForInvoice)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Kind:     Kind(q.Get("kind")),
		Status:   Status(q.Get("status")),
		Severity: Severity(q.Get("severity")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetSummary(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type refreshRequest struct {
	AsOf string `json:"as_of"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	today := time.Now().UTC()
	if r.ContentLength > 0 {
		var req refreshRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}
		if req.AsOf != "" {
			d, err := time.Parse("2006-01-02", req.AsOf)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid request", "as_of must be YYYY-MM-DD")
				return
			}
			today = d
		}
	}
	stats, err := h.service.Refresh(r.Context(), today)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.service.Resolve)
}

func (h *Handler) handleIgnore(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.service.Ignore)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "alert id must be numeric")
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResolveForProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	n, err := h.service.ResolveForProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resolved": n})
}

func (h *Handler) handleResolveForInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invoice id must be numeric")
		return
	}
	n, err := h.service.ResolveForInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resolved": n})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrNotActive):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("alerts request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}
