package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the product catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{productID}", h.handleGet)
	r.Put("/{productID}", h.handleUpdate)
	r.Delete("/{productID}", h.handleDelete)
}

type productRequest struct {
	Name        string           `json:"name"`
	Brand       string           `json:"brand"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	StockUnit   string           `json:"stock_unit"`
	SaleUnit    string           `json:"sale_unit"`
	SalePrice   decimal.Decimal  `json:"sale_price"`
	Qty         decimal.Decimal  `json:"quantity"`
	MinStock    *decimal.Decimal `json:"min_stock"`
	MaxStock    *decimal.Decimal `json:"max_stock"`
	ExpiresOn   string           `json:"expires_on"`
	MadeOn      string           `json:"made_on"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	expiresOn, madeOn, err := parseDates(req.ExpiresOn, req.MadeOn)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		Name:        req.Name,
		Brand:       req.Brand,
		Description: req.Description,
		Category:    req.Category,
		StockUnit:   Unit(req.StockUnit),
		SaleUnit:    Unit(req.SaleUnit),
		SalePrice:   req.SalePrice,
		Qty:         req.Qty,
		MinStock:    req.MinStock,
		MaxStock:    req.MaxStock,
		ExpiresOn:   expiresOn,
		MadeOn:      madeOn,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{
		Name:        req.Name,
		Brand:       req.Brand,
		Description: req.Description,
		Category:    req.Category,
		StockUnit:   Unit(req.StockUnit),
		SaleUnit:    Unit(req.SaleUnit),
		SalePrice:   req.SalePrice,
		MinStock:    req.MinStock,
		MaxStock:    req.MaxStock,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Query:      q.Get("q"),
		Category:   q.Get("category"),
		SpoilState: SpoilState(q.Get("spoil_state")),
		LowStock:   q.Get("low_stock") == "true",
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func parseDates(expiresOn, madeOn string) (*time.Time, *time.Time, error) {
	var exp, made *time.Time
	if expiresOn != "" {
		d, err := time.Parse("2006-01-02", expiresOn)
		if err != nil {
			return nil, nil, errors.New("expires_on must be YYYY-MM-DD")
		}
		exp = &d
	}
	if madeOn != "" {
		d, err := time.Parse("2006-01-02", madeOn)
		if err != nil {
			return nil, nil, errors.New("made_on must be YYYY-MM-DD")
		}
		made = &d
	}
	return exp, made, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var vErrs validator.ValidationErrors
	switch {
	case errors.As(err, &vErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", vErrs.Error())
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrStockBounds):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate product", err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}
