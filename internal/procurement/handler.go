package procurement

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

// Handler wires HTTP endpoints for procurement.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/suppliers", func(r chi.Router) {
		r.Get("/", h.handleListSuppliers)
		r.Post("/", h.handleCreateSupplier)
		r.Get("/{supplierID}", h.handleGetSupplier)
		r.Put("/{supplierID}", h.handleUpdateSupplier)
		r.Delete("/{supplierID}", h.handleDeleteSupplier)
	})
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.handleListInvoices)
		r.Post("/", h.handleReceiveInvoice)
		r.Get("/{invoiceID}", h.handleGetInvoice)
		r.Post("/{invoiceID}/payments", h.handleRegisterPayment)
	})
}

type supplierRequest struct {
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *Handler) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), SupplierInput(req))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplier)
}

func (h *Handler) handleUpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "supplier id must be numeric")
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	supplier, err := h.service.UpdateSupplier(r.Context(), id, SupplierInput(req))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) handleDeleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "supplier id must be numeric")
		return
	}
	if err := h.service.DeleteSupplier(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "supplier id must be numeric")
		return
	}
	supplier, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListSuppliers(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type receiveLineRequest struct {
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LotNumber string          `json:"lot_number"`
	ExpiresOn string          `json:"expires_on"`
	MadeOn    string          `json:"made_on"`
}

type receiveInvoiceRequest struct {
	SupplierID int64                `json:"supplier_id"`
	Number     string               `json:"number"`
	IssuedOn   string               `json:"issued_on"`
	DueOn      string               `json:"due_on"`
	Note       string               `json:"note"`
	Lines      []receiveLineRequest `json:"lines"`
}

func (h *Handler) handleReceiveInvoice(w http.ResponseWriter, r *http.Request) {
	var req receiveInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	issuedOn, err := time.Parse("2006-01-02", req.IssuedOn)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "issued_on must be YYYY-MM-DD")
		return
	}
	var dueOn *time.Time
	if req.DueOn != "" {
		d, err := time.Parse("2006-01-02", req.DueOn)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "due_on must be YYYY-MM-DD")
			return
		}
		dueOn = &d
	}

	in := ReceiveInvoiceInput{
		SupplierID: req.SupplierID,
		Number:     req.Number,
		IssuedOn:   issuedOn,
		DueOn:      dueOn,
		Note:       req.Note,
	}
	for _, line := range req.Lines {
		expiresOn, err := time.Parse("2006-01-02", line.ExpiresOn)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "line expires_on must be YYYY-MM-DD")
			return
		}
		var madeOn *time.Time
		if line.MadeOn != "" {
			d, err := time.Parse("2006-01-02", line.MadeOn)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid request", "line made_on must be YYYY-MM-DD")
				return
			}
			madeOn = &d
		}
		in.Lines = append(in.Lines, ReceiveLine{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitCost:  line.UnitCost,
			LotNumber: line.LotNumber,
			ExpiresOn: expiresOn,
			MadeOn:    madeOn,
		})
	}

	invoice, err := h.service.ReceiveInvoice(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	PaidAt string          `json:"paid_at"`
}

func (h *Handler) handleRegisterPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invoice id must be numeric")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	var paidAt *time.Time
	if req.PaidAt != "" {
		d, err := time.Parse("2006-01-02", req.PaidAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "paid_at must be YYYY-MM-DD")
			return
		}
		paidAt = &d
	}
	invoice, err := h.service.RegisterPayment(r.Context(), PaymentInput{
		InvoiceID: id,
		Amount:    req.Amount,
		Method:    req.Method,
		PaidAt:    paidAt,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invoice id must be numeric")
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	lines, err := h.service.GetInvoiceLines(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice": invoice, "lines": lines})
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := InvoiceFilter{PayStatus: PayStatus(q.Get("pay_status"))}
	if supplierID, err := strconv.ParseInt(q.Get("supplier_id"), 10, 64); err == nil {
		filter.SupplierID = supplierID
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	items, err := h.service.ListInvoices(r.Context(), filter)
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
	case errors.Is(err, ErrDueBeforeIssue),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, lots.ErrInvalidQuantity),
		errors.Is(err, lots.ErrExpiryRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, ErrSupplierNotFound),
		errors.Is(err, ErrInvoiceNotFound),
		errors.Is(err, lots.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrDuplicateInvoice), errors.Is(err, ErrAlreadyPaid):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}
