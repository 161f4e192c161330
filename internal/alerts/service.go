package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/platform/cache"
)

const summaryCacheKey = "alerts:summary"

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Alert, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	ResolveForProduct(ctx context.Context, productID int64) (int64, error)
	ResolveForInvoice(ctx context.Context, invoiceID int64) (int64, error)
	Summary(ctx context.Context) (Summary, error)
}

// Service drives alert generation and lifecycle.
type Service struct {
	repo    RepositoryPort
	summary *cache.SummaryStore
	logger  *slog.Logger
}

// NewService constructs the alert service. summary may be nil to disable the
// dashboard cache.
func NewService(repo RepositoryPort, summary *cache.SummaryStore, logger *slog.Logger) *Service {
	return &Service{repo: repo, summary: summary, logger: logger}
}

// Refresh re-derives every alert from current stock and invoice state as of
// the given day. Running it twice in a row changes nothing: alerts are keyed
// by (subject, kind) and only rewritten when their band or message moves.
func (s *Service) Refresh(ctx context.Context, today time.Time) (RefreshStats, error) {
	var stats RefreshStats
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		products, err := tx.ListAlertProducts(ctx)
		if err != nil {
			return err
		}
		for _, p := range products {
			if err := s.refreshExpiry(ctx, tx, p, today, &stats); err != nil {
				return err
			}
			if err := s.refreshLowStock(ctx, tx, p, today, &stats); err != nil {
				return err
			}
		}

		invoices, err := tx.ListOpenInvoices(ctx)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			if err := s.refreshInvoice(ctx, tx, inv, today, &stats); err != nil {
				return err
			}
		}

		n, err := tx.ResolvePaidInvoiceAlerts(ctx)
		if err != nil {
			return err
		}
		stats.Resolved += int(n)
		return nil
	})
	if err != nil {
		return RefreshStats{}, err
	}
	s.logger.Info("alert refresh complete",
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("resolved", stats.Resolved))
	return stats, nil
}

func (s *Service) refreshExpiry(ctx context.Context, tx TxRepository, p ProductInfo, today time.Time, stats *RefreshStats) error {
	// Expiry alerts track sellable stock only. A product at zero is left
	// alone here; depletion and spoilage resolve its alerts through their
	// own flows.
	if !p.Qty.IsPositive() {
		return nil
	}
	if p.ExpiresOn == nil {
		n, err := tx.ResolveByProductKind(ctx, p.ID, KindExpiry)
		if err != nil {
			return err
		}
		stats.Resolved += int(n)
		return nil
	}

	// Green is still an alert: the band moves in place as the date nears
	// instead of resolving and re-creating.
	days := DaysBetween(today, *p.ExpiresOn)
	severity := ClassifyExpiry(days)

	var message string
	switch {
	case days < 0:
		message = fmt.Sprintf("%s expired %d days ago", productLabel(p), -days)
	case days == 0:
		message = fmt.Sprintf("%s expires today", productLabel(p))
	default:
		message = fmt.Sprintf("%s expires in %d days", productLabel(p), days)
	}
	return s.upsert(ctx, tx, Alert{
		Kind:      KindExpiry,
		Severity:  severity,
		Message:   message,
		ProductID: &p.ID,
	}, today, stats)
}

func (s *Service) refreshLowStock(ctx context.Context, tx TxRepository, p ProductInfo, today time.Time, stats *RefreshStats) error {
	threshold := catalog.DefaultLowStockThreshold
	if p.MinStock != nil {
		threshold = *p.MinStock
	}
	if p.Qty.GreaterThan(threshold) {
		n, err := tx.ResolveByProductKind(ctx, p.ID, KindLowStock)
		if err != nil {
			return err
		}
		stats.Resolved += int(n)
		return nil
	}

	message := fmt.Sprintf("%s is low on stock: %s left (threshold %s)",
		productLabel(p), p.Qty, threshold)
	return s.upsert(ctx, tx, Alert{
		Kind:      KindLowStock,
		Severity:  SeverityRed,
		Message:   message,
		ProductID: &p.ID,
	}, today, stats)
}

func (s *Service) refreshInvoice(ctx context.Context, tx TxRepository, inv InvoiceInfo, today time.Time, stats *RefreshStats) error {
	if inv.DueOn == nil {
		return nil
	}
	days := DaysBetween(today, *inv.DueOn)
	severity := ClassifyInvoiceDue(days)

	var message string
	switch {
	case days < 0:
		message = fmt.Sprintf("Invoice %s from %s is overdue by %d days", inv.Number, inv.SupplierName, -days)
	case days == 0:
		message = fmt.Sprintf("Invoice %s from %s is due today", inv.Number, inv.SupplierName)
	default:
		message = fmt.Sprintf("Invoice %s from %s is due in %d days", inv.Number, inv.SupplierName, days)
	}
	return s.upsert(ctx, tx, Alert{
		Kind:      KindInvoiceDue,
		Severity:  severity,
		Message:   message,
		InvoiceID: &inv.ID,
	}, today, stats)
}

func (s *Service) upsert(ctx context.Context, tx TxRepository, a Alert, today time.Time, stats *RefreshStats) error {
	var existing Alert
	var found bool
	var err error
	if a.ProductID != nil {
		existing, found, err = tx.GetActiveByProduct(ctx, *a.ProductID, a.Kind)
	} else {
		existing, found, err = tx.GetActiveByInvoice(ctx, *a.InvoiceID)
	}
	if err != nil {
		return err
	}
	if !found {
		a.GeneratedAt = today
		if _, err := tx.Insert(ctx, a); err != nil {
			return err
		}
		stats.Created++
		return nil
	}
	if existing.Severity == a.Severity && existing.Message == a.Message {
		return nil
	}
	if err := tx.Refresh(ctx, existing.ID, a.Severity, a.Message, today); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

// List returns alerts matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Alert, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

// Resolve closes one active alert.
func (s *Service) Resolve(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, StatusResolved)
}

// Ignore dismisses one active alert without marking the condition fixed.
func (s *Service) Ignore(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, StatusIgnored)
}

// ResolveForProduct closes every active alert for a product.
func (s *Service) ResolveForProduct(ctx context.Context, productID int64) (int64, error) {
	return s.repo.ResolveForProduct(ctx, productID)
}

// ResolveForInvoice closes every active alert for an invoice.
func (s *Service) ResolveForInvoice(ctx context.Context, invoiceID int64) (int64, error) {
	return s.repo.ResolveForInvoice(ctx, invoiceID)
}

// GetSummary returns the active-alert aggregate, served from the short-lived
// cache when warm.
func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	if s.summary != nil {
		var cached Summary
		hit, err := s.summary.Get(ctx, summaryCacheKey, &cached)
		if err != nil {
			s.logger.Warn("summary cache read failed", slog.Any("error", err))
		} else if hit {
			return cached, nil
		}
	}

	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary.AsOf = time.Now().UTC()

	if s.summary != nil {
		if err := s.summary.Set(ctx, summaryCacheKey, summary); err != nil {
			s.logger.Warn("summary cache write failed", slog.Any("error", err))
		}
	}
	return summary, nil
}

func productLabel(p ProductInfo) string {
	if p.Brand != "" {
		return p.Name + " (" + p.Brand + ")"
	}
	return p.Name
}
