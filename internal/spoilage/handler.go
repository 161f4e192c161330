package spoilage

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
	"github.com/hornero-erp/hornero-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the spoilage tracker.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the spoilage handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers spoilage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/summary", h.handleSummary)
	r.Post("/move", h.handleMove)
	r.Post("/restock", h.handleRestock)
	r.Post("/toggle", h.handleToggle)
	r.Delete("/history", h.handleClearHistory)
	r.Post("/products/{productID}/reactivate", h.handleReactivate)
	r.Delete("/products/{productID}/record", h.handleClearRecord)
}

type lotQtyRequest struct {
	LotID int64           `json:"lot_id"`
	Qty   decimal.Decimal `json:"quantity"`
}

type spoilItemRequest struct {
	ProductID int64           `json:"product_id"`
	Lots      []lotQtyRequest `json:"lots"`
}

type moveRequest struct {
	Items  []spoilItemRequest `json:"items"`
	Reason string             `json:"reason"`
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := MoveInput{Reason: req.Reason}
	for _, item := range req.Items {
		si := SpoilItem{ProductID: item.ProductID}
		for _, lq := range item.Lots {
			si.Lots = append(si.Lots, LotQty{LotID: lq.LotID, Qty: lq.Qty})
		}
		in.Items = append(in.Items, si)
	}
	result, err := h.service.MoveToSpoilage(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type restockRequest struct {
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"quantity"`
	Number    string          `json:"lot_number"`
	ExpiresOn string          `json:"expires_on"`
	MadeOn    string          `json:"made_on"`
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
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
	lot, err := h.service.Restock(r.Context(), RestockInput{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Number:    req.Number,
		ExpiresOn: expiresOn,
		MadeOn:    madeOn,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

type toggleRequest struct {
	ProductIDs []int64 `json:"product_ids"`
	Active     bool    `json:"active"`
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	n, err := h.service.Toggle(r.Context(), req.ProductIDs, req.Active)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ClearHistory(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *Handler) handleClearRecord(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	if err := h.service.ClearSpoilageRecord(r.Context(), productID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "product id must be numeric")
		return
	}
	reactivated, err := h.service.ReactivateIfStocked(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reactivated": reactivated})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActive(r.Context())
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

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var vErrs validator.ValidationErrors
	switch {
	case errors.As(err, &vErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", vErrs.Error())
	case errors.Is(err, lots.ErrInvalidQuantity),
		errors.Is(err, lots.ErrExpiryRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, lots.ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrNotInSpoilage), errors.Is(err, lots.ErrLotNotActive):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("spoilage request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}
