package procurement

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/lots"
)

var nowFunc = time.Now

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	CreateSupplier(ctx context.Context, in SupplierInput) (int64, error)
	UpdateSupplier(ctx context.Context, id int64, in SupplierInput) error
	SoftDeleteSupplier(ctx context.Context, id int64) error
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	GetInvoice(ctx context.Context, id int64) (SupplierInvoice, error)
	GetInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]SupplierInvoice, error)
}

// Reactivator flips a product out of its spoiled state once stock returns.
type Reactivator interface {
	ReactivateIfStocked(ctx context.Context, productID int64) (bool, error)
}

// AuditPort records procurement mutations, best-effort.
type AuditPort interface {
	RecordAction(ctx context.Context, action, entity string, entityID int64, meta map[string]any) error
}

// Service exposes procurement operations.
type Service struct {
	repo        RepositoryPort
	reactivator Reactivator
	audit       AuditPort
	logger      *slog.Logger
	validate    *validator.Validate
}

// NewService constructs the procurement service. reactivator and audit may
// be nil.
func NewService(repo RepositoryPort, reactivator Reactivator, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		reactivator: reactivator,
		audit:       audit,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, in SupplierInput) (Supplier, error) {
	if err := s.validate.Struct(in); err != nil {
		return Supplier{}, err
	}
	id, err := s.repo.CreateSupplier(ctx, in)
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier.create", "supplier", id, map[string]any{"name": in.Name})
	return s.repo.GetSupplier(ctx, id)
}

// UpdateSupplier edits a supplier.
func (s *Service) UpdateSupplier(ctx context.Context, id int64, in SupplierInput) (Supplier, error) {
	if err := s.validate.Struct(in); err != nil {
		return Supplier{}, err
	}
	if err := s.repo.UpdateSupplier(ctx, id, in); err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier.update", "supplier", id, nil)
	return s.repo.GetSupplier(ctx, id)
}

// DeleteSupplier soft-deletes a supplier.
func (s *Service) DeleteSupplier(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "supplier.delete", "supplier", id, nil)
	return nil
}

// GetSupplier fetches one supplier.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// ListSuppliers returns live suppliers.
func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// ReceiveInvoice records a supplier invoice and creates one purchase lot per
// line, all in a single transaction. The invoice total is the sum of its
// lines; it starts pending.
func (s *Service) ReceiveInvoice(ctx context.Context, in ReceiveInvoiceInput) (SupplierInvoice, error) {
	if err := s.validate.Struct(in); err != nil {
		return SupplierInvoice{}, err
	}
	if in.DueOn != nil && in.DueOn.Before(in.IssuedOn) {
		return SupplierInvoice{}, ErrDueBeforeIssue
	}
	if _, err := s.repo.GetSupplier(ctx, in.SupplierID); err != nil {
		return SupplierInvoice{}, err
	}

	total := decimal.Zero
	for _, line := range in.Lines {
		if line.Qty.LessThan(lots.MinQty) {
			return SupplierInvoice{}, lots.ErrInvalidQuantity
		}
		total = total.Add(line.Qty.Mul(line.UnitCost))
	}
	total = total.Round(2)

	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		invoiceID, err = tx.InsertInvoice(ctx, SupplierInvoice{
			Number:     in.Number,
			SupplierID: in.SupplierID,
			IssuedOn:   in.IssuedOn,
			DueOn:      in.DueOn,
			Total:      total,
			PayStatus:  PayPending,
			Note:       in.Note,
		})
		if err != nil {
			return err
		}
		for _, line := range in.Lines {
			lot, err := lots.CreateInTx(ctx, tx.Lots(), lots.CreateInput{
				ProductID: line.ProductID,
				Number:    line.LotNumber,
				Qty:       line.Qty,
				ExpiresOn: line.ExpiresOn,
				MadeOn:    line.MadeOn,
				Origin:    lots.OriginPurchase,
			})
			if err != nil {
				return err
			}
			if _, err := tx.InsertLine(ctx, InvoiceLine{
				InvoiceID: invoiceID,
				ProductID: line.ProductID,
				Qty:       line.Qty,
				UnitCost:  line.UnitCost,
				ExpiresOn: line.ExpiresOn,
				MadeOn:    line.MadeOn,
				LotID:     &lot.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SupplierInvoice{}, err
	}

	for _, line := range in.Lines {
		s.reactivate(ctx, line.ProductID)
	}
	s.recordAudit(ctx, "invoice.receive", "invoice", invoiceID, map[string]any{
		"number": in.Number,
		"lines":  len(in.Lines),
		"total":  total.String(),
	})
	return s.repo.GetInvoice(ctx, invoiceID)
}

// RegisterPayment settles part of an invoice and re-derives its pay status.
// A fully paid invoice has its due-date alerts resolved in the same
// transaction.
func (s *Service) RegisterPayment(ctx context.Context, in PaymentInput) (SupplierInvoice, error) {
	if err := s.validate.Struct(in); err != nil {
		return SupplierInvoice{}, err
	}
	if !in.Amount.IsPositive() {
		return SupplierInvoice{}, ErrInvalidAmount
	}
	paidAt := nowFunc()
	if in.PaidAt != nil {
		paidAt = *in.PaidAt
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.PayStatus == PayPaid {
			return ErrAlreadyPaid
		}
		if _, err := tx.InsertPayment(ctx, Payment{
			InvoiceID: in.InvoiceID,
			Amount:    in.Amount,
			Method:    in.Method,
			PaidAt:    paidAt,
		}); err != nil {
			return err
		}
		paid, err := tx.SumPayments(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		status := DerivePayStatus(paid, inv.Total)
		if err := tx.SetPayStatus(ctx, in.InvoiceID, status); err != nil {
			return err
		}
		if status == PayPaid {
			if _, err := tx.ResolveInvoiceAlerts(ctx, in.InvoiceID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SupplierInvoice{}, err
	}
	s.recordAudit(ctx, "invoice.payment", "invoice", in.InvoiceID, map[string]any{"amount": in.Amount.String()})
	return s.repo.GetInvoice(ctx, in.InvoiceID)
}

// GetInvoice fetches one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (SupplierInvoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetInvoiceLines returns an invoice's lines.
func (s *Service) GetInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	return s.repo.GetInvoiceLines(ctx, invoiceID)
}

// ListInvoices returns invoices matching the filter.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]SupplierInvoice, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListInvoices(ctx, filter)
}

func (s *Service) reactivate(ctx context.Context, productID int64) {
	if s.reactivator == nil {
		return
	}
	if _, err := s.reactivator.ReactivateIfStocked(ctx, productID); err != nil {
		s.logger.Warn("product reactivation failed",
			slog.Int64("product_id", productID),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAction(ctx, action, entity, id, meta); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
