package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
	"github.com/hornero-erp/hornero-erp/internal/shared"
)

var nowFunc = time.Now

var hundred = decimal.NewFromInt(100)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	GetSaleLines(ctx context.Context, saleID int64) ([]SaleLine, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
}

// AvailabilityPort answers the pre-transaction stock check. Wired to the lot
// ledger service.
type AvailabilityPort interface {
	Available(ctx context.Context, productID int64) (decimal.Decimal, lots.StockMode, error)
}

// IdempotencyPort deduplicates retried checkout submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records sales, best-effort.
type AuditPort interface {
	RecordAction(ctx context.Context, action, entity string, entityID int64, meta map[string]any) error
}

// Service exposes checkout.
type Service struct {
	repo         RepositoryPort
	availability AvailabilityPort
	idempotency  IdempotencyPort
	audit        AuditPort
	logger       *slog.Logger
	validate     *validator.Validate
}

// NewService constructs the sales service. idempotency and audit may be nil.
func NewService(repo RepositoryPort, availability AvailabilityPort, idempotency IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		availability: availability,
		idempotency:  idempotency,
		audit:        audit,
		logger:       logger,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// PostSale posts a ticket: prices the cart from the catalog, checks payment,
// then writes the sale and consumes stock FIFO in one transaction. Stock is
// validated twice, once up front for a fast rejection and again under row
// locks inside the transaction.
func (s *Service) PostSale(ctx context.Context, in PostSaleInput) (Sale, error) {
	if err := s.validate.Struct(in); err != nil {
		return Sale{}, err
	}
	if in.Discount.IsNegative() {
		return Sale{}, ErrInvalidDiscount
	}
	for _, line := range in.Lines {
		if line.Qty.LessThan(lots.MinQty) {
			return Sale{}, lots.ErrInvalidQuantity
		}
		if line.DiscountPct.IsNegative() || line.DiscountPct.GreaterThan(hundred) {
			return Sale{}, ErrInvalidDiscount
		}
		available, _, err := s.availability.Available(ctx, line.ProductID)
		if err != nil {
			return Sale{}, err
		}
		if available.LessThan(line.Qty) {
			return Sale{}, lots.ErrInsufficientStock
		}
	}

	if s.idempotency != nil && in.ClientRef != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.ClientRef, "sales"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Sale{}, ErrDuplicateSale
			}
			return Sale{}, err
		}
	}

	sale, err := s.postSaleTx(ctx, in)
	if err != nil {
		if s.idempotency != nil && in.ClientRef != "" {
			// Free the key so the client can retry after fixing the cart.
			if delErr := s.idempotency.Delete(ctx, in.ClientRef); delErr != nil {
				s.logger.Warn("idempotency key cleanup failed",
					slog.String("key", in.ClientRef), slog.Any("error", delErr))
			}
		}
		return Sale{}, err
	}

	s.recordAudit(ctx, "sale.post", sale.ID, map[string]any{
		"folio": sale.Folio,
		"gross": sale.Gross.String(),
		"lines": len(in.Lines),
	})
	return sale, nil
}

func (s *Service) postSaleTx(ctx context.Context, in PostSaleInput) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := nowFunc()

		type pricedLine struct {
			cart    CartLine
			product SaleProduct
			total   decimal.Decimal
		}
		priced := make([]pricedLine, 0, len(in.Lines))
		gross := decimal.Zero
		for _, line := range in.Lines {
			p, err := tx.GetProductForSale(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if p.SpoilState != string(catalog.SpoilActive) {
				return fmt.Errorf("%w: %s", ErrProductUnavailable, p.Name)
			}
			total := LineTotal(line.Qty, p.SalePrice, line.DiscountPct)
			priced = append(priced, pricedLine{cart: line, product: p, total: total})
			gross = gross.Add(total)
		}
		gross = gross.Sub(in.Discount)
		if gross.IsNegative() {
			return ErrInvalidDiscount
		}
		if in.Paid.LessThan(gross) {
			return ErrInsufficientPayment
		}

		totals := ComputeTotals(gross)
		sale = Sale{
			Folio:    newFolio(now),
			SoldAt:   now,
			Gross:    totals.Gross,
			Net:      totals.Net,
			Tax:      totals.Tax,
			Discount: in.Discount,
			Paid:     in.Paid,
			Change:   in.Paid.Sub(gross),
			Note:     in.Note,
		}
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID

		for _, pl := range priced {
			if _, err := tx.InsertLine(ctx, SaleLine{
				SaleID:      saleID,
				ProductID:   pl.cart.ProductID,
				Qty:         pl.cart.Qty,
				UnitPrice:   pl.product.SalePrice,
				DiscountPct: pl.cart.DiscountPct,
				LineTotal:   pl.total,
			}); err != nil {
				return err
			}
			if _, err := lots.ConsumeInTx(ctx, tx.Lots(), pl.cart.ProductID, pl.cart.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// GetSale fetches one sale with its lines.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return Sale{}, nil, err
	}
	lines, err := s.repo.GetSaleLines(ctx, id)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

// ListSales returns sales matching the filter.
func (s *Service) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListSales(ctx, filter)
}

// newFolio builds a ticket number: date plus a short random suffix keeps it
// human-readable and collision-free across registers.
func newFolio(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("BOL-%s-%s", now.Format("20060102"), suffix)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAction(ctx, action, "sale", id, meta); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
