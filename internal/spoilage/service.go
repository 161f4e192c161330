package spoilage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
)

var nowFunc = time.Now

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	ListActiveHistory(ctx context.Context) ([]HistoryView, error)
	DeleteInactiveHistory(ctx context.Context) (int64, error)
	Summary(ctx context.Context) (Summary, error)
	ToggleProducts(ctx context.Context, productIDs []int64, state catalog.SpoilState) (int64, error)
}

// AuditPort records spoilage mutations, best-effort.
type AuditPort interface {
	RecordAction(ctx context.Context, action, entity string, entityID int64, meta map[string]any) error
}

// Service exposes the spoilage tracker.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs the spoilage service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		audit:    audit,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MoveToSpoilage moves products (whole or per lot) into the spoiled state.
// Stock mutation, history record, product flags and alert resolution commit
// as one transaction; only the history record inside it is best-effort.
func (s *Service) MoveToSpoilage(ctx context.Context, in MoveInput) (MoveResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return MoveResult{}, err
	}

	result := MoveResult{TotalQty: decimal.Zero, EstimatedLoss: decimal.Zero}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := nowFunc()
		productIDs := make([]int64, 0, len(in.Items))

		for _, item := range in.Items {
			p, err := tx.GetProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}

			spoiled, remaining, warnings, err := s.spoilItem(ctx, tx, p, item)
			if err != nil {
				return err
			}
			result.Warnings = append(result.Warnings, warnings...)

			histQty := decimal.Max(spoiled, MinHistoryQty)
			loss := histQty.Mul(p.SalePrice).Round(2)
			if _, err := tx.InsertHistory(ctx, HistoryRecord{
				ProductID:     p.ID,
				Qty:           histQty,
				Reason:        in.Reason,
				UnitPrice:     p.SalePrice,
				EstimatedLoss: loss,
				SpoiledAt:     now,
			}); err != nil {
				s.logger.Warn("spoilage history record failed",
					slog.Int64("product_id", p.ID), slog.Any("error", err))
			}

			state := catalog.SpoilInSpoilage
			if remaining.IsPositive() {
				// Partial spoilage leaves the product available for sale.
				state = p.SpoilState
			}
			// spoiled_quantity is a snapshot of this event, not a running sum.
			eventQty := spoiled
			if !eventQty.IsPositive() {
				eventQty = p.Qty
			}
			if err := tx.SetProductSpoilage(ctx, p.ID, state, in.Reason, now, eventQty); err != nil {
				return err
			}

			productIDs = append(productIDs, p.ID)
			result.Processed++
			result.TotalQty = result.TotalQty.Add(spoiled)
			result.EstimatedLoss = result.EstimatedLoss.Add(loss)
		}

		resolved, err := tx.ResolveProductAlerts(ctx, productIDs)
		if err != nil {
			return err
		}
		result.ResolvedAlerts = resolved
		return nil
	})
	if err != nil {
		return MoveResult{}, err
	}
	s.recordAudit(ctx, "spoilage.move", 0, map[string]any{
		"products": result.Processed,
		"quantity": result.TotalQty.String(),
		"reason":   in.Reason,
	})
	return result, nil
}

// spoilItem drains the requested stock and returns (spoiled, remaining).
// A whole-product request always goes through, even at zero stock: the
// history floor in MoveToSpoilage keeps the event visible.
func (s *Service) spoilItem(ctx context.Context, tx TxRepository, p SpoilProduct, item SpoilItem) (decimal.Decimal, decimal.Decimal, []string, error) {
	if len(item.Lots) == 0 {
		total, err := tx.Lots().CountLots(ctx, p.ID)
		if err != nil {
			return decimal.Zero, decimal.Zero, nil, err
		}
		if total == 0 {
			// Product without lot rows: zero the direct quantity.
			if err := tx.ClearProductStock(ctx, p.ID); err != nil {
				return decimal.Zero, decimal.Zero, nil, err
			}
			return p.Qty, decimal.Zero, nil, nil
		}
		_, spoiled, err := tx.SpoilActiveLots(ctx, p.ID)
		if err != nil {
			return decimal.Zero, decimal.Zero, nil, err
		}
		proj, err := lots.RecomputeInTx(ctx, tx.Lots(), p.ID)
		if err != nil {
			return decimal.Zero, decimal.Zero, nil, err
		}
		return spoiled, proj.Qty, nil, nil
	}

	// Bad lot pairs are skipped with a warning, not fatal: the rest of the
	// request still commits.
	spoiled := decimal.Zero
	var warnings []string
	for _, lq := range item.Lots {
		lot, err := tx.Lots().GetLotForUpdate(ctx, lq.LotID)
		if errors.Is(err, lots.ErrLotNotFound) {
			warnings = append(warnings, fmt.Sprintf("lot %d: not found, skipped", lq.LotID))
			continue
		}
		if err != nil {
			return decimal.Zero, decimal.Zero, nil, err
		}
		if lot.ProductID != p.ID {
			warnings = append(warnings, fmt.Sprintf(
				"lot %d: belongs to another product, skipped", lq.LotID))
			continue
		}
		out, err := lots.ReduceSpecificInTx(ctx, tx.Lots(), lq.LotID, lq.Qty)
		if errors.Is(err, lots.ErrInvalidQuantity) || errors.Is(err, lots.ErrLotNotActive) {
			warnings = append(warnings, fmt.Sprintf("lot %d: %s, skipped", lq.LotID, err))
			continue
		}
		if err != nil {
			return decimal.Zero, decimal.Zero, nil, err
		}
		if out.Clamped {
			warnings = append(warnings, fmt.Sprintf(
				"lot %d: requested %s but only %s available, reduced what was left",
				lq.LotID, out.Requested, out.Applied))
		}
		spoiled = spoiled.Add(out.Applied)
	}
	proj, err := lots.RecomputeInTx(ctx, tx.Lots(), p.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, nil, err
	}
	return spoiled, proj.Qty, warnings, nil
}

// Restock brings a spoiled product back with a fresh manual-adjustment lot.
// History rows flip to inactive and keep their figures; the product's spoil
// reason and dates stay as a trace of the last incident.
func (s *Service) Restock(ctx context.Context, in RestockInput) (lots.Lot, error) {
	if err := s.validate.Struct(in); err != nil {
		return lots.Lot{}, err
	}
	var lot lots.Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if p.SpoilState != catalog.SpoilInSpoilage {
			return ErrNotInSpoilage
		}
		lot, err = lots.CreateInTx(ctx, tx.Lots(), lots.CreateInput{
			ProductID: in.ProductID,
			Number:    in.Number,
			Qty:       in.Qty,
			ExpiresOn: in.ExpiresOn,
			MadeOn:    in.MadeOn,
			Origin:    lots.OriginAdjustment,
		})
		if err != nil {
			return err
		}
		if _, err := tx.DeactivateHistory(ctx, in.ProductID, nowFunc()); err != nil {
			return err
		}
		return tx.SetProductState(ctx, in.ProductID, catalog.SpoilActive)
	})
	if err != nil {
		return lots.Lot{}, err
	}
	s.recordAudit(ctx, "spoilage.restock", in.ProductID, map[string]any{"quantity": in.Qty.String()})
	return lot, nil
}

// ReactivateIfStocked flips a spoiled product back to active once it has
// stock again and no active history record holds it in the spoiled view.
func (s *Service) ReactivateIfStocked(ctx context.Context, productID int64) (bool, error) {
	reactivated := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if p.SpoilState != catalog.SpoilInSpoilage || !p.Qty.IsPositive() {
			return nil
		}
		held, err := tx.HasActiveHistory(ctx, productID)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
		if err := tx.SetProductState(ctx, productID, catalog.SpoilActive); err != nil {
			return err
		}
		reactivated = true
		return nil
	})
	return reactivated, err
}

// Toggle flips products between active and inactive in bulk. Spoiled
// products are left alone.
func (s *Service) Toggle(ctx context.Context, productIDs []int64, active bool) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	state := catalog.SpoilInactive
	if active {
		state = catalog.SpoilActive
	}
	n, err := s.repo.ToggleProducts(ctx, productIDs, state)
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, "spoilage.toggle", 0, map[string]any{"count": n, "active": active})
	return n, nil
}

// ClearSpoilageRecord wipes a product's spoilage trace: history rows flip to
// inactive and the spoil fields reset. A spoiled product returns to active
// with its quantity left at zero; restocking is a separate, explicit step.
func (s *Service) ClearSpoilageRecord(ctx context.Context, productID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProductForUpdate(ctx, productID); err != nil {
			return err
		}
		if _, err := tx.DeactivateHistory(ctx, productID, nowFunc()); err != nil {
			return err
		}
		return tx.ClearProductSpoilFields(ctx, productID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "spoilage.clear_record", productID, nil)
	return nil
}

// ClearHistory prunes inactive (restocked) history records.
func (s *Service) ClearHistory(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteInactiveHistory(ctx)
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, "spoilage.clear_history", 0, map[string]any{"deleted": n})
	return n, nil
}

// ListActive returns the current spoilage view.
func (s *Service) ListActive(ctx context.Context) ([]HistoryView, error) {
	return s.repo.ListActiveHistory(ctx)
}

// GetSummary aggregates active spoilage for dashboards.
func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	return s.repo.Summary(ctx)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAction(ctx, action, "spoilage", id, meta); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
