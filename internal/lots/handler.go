package lots

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

// Handler wires HTTP endpoints for the lot ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the lots handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers lot routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{lotID}", h.handleGet)
	r.Post("/{lotID}/reduce", h.handleReduce)
	r.Get("/product/{productID}", h.handleListByProduct)
	r.Post("/product/{productID}/consume", h.handleConsume)
	r.Post("/product/{productID}/recompute", h.handleRecompute)
}

type createLotRequest struct {
	ProductID int64           `json:"product_id"`
	Number    string          `json:"lot_number"`
	Qty       decimal.Decimal `json:"quantity"`
	ExpiresOn string          `json:"expires_on"`
	MadeOn    string          `json:"made_on"`
	Origin    string          `json:"origin"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createLotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	expiresOn, err := time.Parse("2006-01-02", req.ExpiresOn)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "expires_on must be YYYY-MM-DD")
		return
	}
	var madeOn *time.Time
	if req.MadeOn != "" {
		d, err := time.Parse("2006-01-02", req.MadeOn)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "made_on must be YYYY-MM-DD")
			return
		}
		madeOn = &d
	}

	lot, err := h.service.Create(r.Context(), CreateInput{
		ProductID: req.ProductID,
		Number:    req.Number,
		Qty:       req.Qty,
		ExpiresOn: expiresOn,
		MadeOn:    madeOn,
		Origin:    Origin(req.Origin),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "lot id must be numeric")
		return
	}
	lot, err := h.service.Get(r.Context(), lotID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

type reduceRequest struct {
	Qty decimal.Decimal `json:"quantity"`
}

func (h *Handler) handleReduce(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "lot id must be numeric")
		return
	}
	var req reduceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	out, err := h.service.ReduceSpecific(r.Context(), lotID, req.Qty)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	filter := ListFilter{
		Origin: Origin(r.URL.Query().Get("origin")),
		Status: Status(r.URL.Query().Get("status")),
	}
	items, err := h.service.ListByProduct(r.Context(), productID, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type consumeRequest struct {
	Qty decimal.Decimal `json:"quantity"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	takes, err := h.service.Consume(r.Context(), productID, req.Qty)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"takes": takes})
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	proj, err := h.service.Recompute(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, proj)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var vErrs validator.ValidationErrors
	switch {
	case errors.As(err, &vErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", vErrs.Error())
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrExpiryRequired),
		errors.Is(err, ErrInvalidOrigin):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, ErrLotNotFound), errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrLotNotActive):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient stock", err.Error())
	default:
		h.logger.Error("lots request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}
