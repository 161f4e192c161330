package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/lots"
	"github.com/hornero-erp/hornero-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for checkout.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handlePost)
	r.Get("/{saleID}", h.handleGet)
}

type cartLineRequest struct {
	ProductID   int64           `json:"product_id"`
	Qty         decimal.Decimal `json:"quantity"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

type postSaleRequest struct {
	Lines     []cartLineRequest `json:"lines"`
	Paid      decimal.Decimal   `json:"paid"`
	Discount  decimal.Decimal   `json:"discount"`
	Note      string            `json:"note"`
	ClientRef string            `json:"client_ref"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := PostSaleInput{
		Paid:      req.Paid,
		Discount:  req.Discount,
		Note:      req.Note,
		ClientRef: req.ClientRef,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, CartLine{
			ProductID:   line.ProductID,
			Qty:         line.Qty,
			DiscountPct: line.DiscountPct,
		})
	}
	sale, err := h.service.PostSale(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "sale id must be numeric")
		return
	}
	sale, lines, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SaleFilter{}
	if from := q.Get("from"); from != "" {
		d, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "from must be YYYY-MM-DD")
			return
		}
		filter.From = &d
	}
	if to := q.Get("to"); to != "" {
		d, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "to must be YYYY-MM-DD")
			return
		}
		end := d.AddDate(0, 0, 1)
		filter.To = &end
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	items, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var vErrs validator.ValidationErrors
	switch {
	case errors.As(err, &vErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", vErrs.Error())
	case errors.Is(err, ErrInvalidDiscount),
		errors.Is(err, ErrInsufficientPayment),
		errors.Is(err, ErrProductUnavailable),
		errors.Is(err, lots.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, lots.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, lots.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient stock", err.Error())
	case errors.Is(err, ErrDuplicateSale):
		httpx.Problem(w, http.StatusConflict, "Duplicate sale", err.Error())
	default:
		h.logger.Error("sales request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}
