package spoilage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
)

// TxRepository is the transactional surface of the spoilage tracker. The
// embedded lot ledger runs in the same transaction, so a spoilage move and
// its stock effects commit or roll back together.
type TxRepository interface {
	Lots() lots.TxRepository
	GetProductForUpdate(ctx context.Context, productID int64) (SpoilProduct, error)
	SetProductSpoilage(ctx context.Context, productID int64, state catalog.SpoilState, reason string, at time.Time, spoiledQty decimal.Decimal) error
	SetProductState(ctx context.Context, productID int64, state catalog.SpoilState) error
	ClearProductStock(ctx context.Context, productID int64) error
	SpoilActiveLots(ctx context.Context, productID int64) (int, decimal.Decimal, error)
	InsertHistory(ctx context.Context, rec HistoryRecord) (int64, error)
	HasActiveHistory(ctx context.Context, productID int64) (bool, error)
	DeactivateHistory(ctx context.Context, productID int64, restockedAt time.Time) (int64, error)
	ClearProductSpoilFields(ctx context.Context, productID int64) error
	ResolveProductAlerts(ctx context.Context, productIDs []int64) (int64, error)
}

// Repository implements spoilage persistence over PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("spoilage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepository{tx: tx, lots: lots.NewTxRepository(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("spoilage: commit tx: %w", err)
	}
	return nil
}

// ListActiveHistory returns the active spoilage records with product info.
func (r *Repository) ListActiveHistory(ctx context.Context) ([]HistoryView, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.id, h.product_id, h.quantity, h.reason, h.unit_price,
		       h.estimated_loss, h.active, h.spoiled_at, h.restocked_at, h.created_at,
		       p.name, p.brand
		FROM spoilage_history h
		JOIN products p ON p.id = h.product_id
		WHERE h.active
		ORDER BY h.spoiled_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("spoilage: list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryView
	for rows.Next() {
		var v HistoryView
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Qty, &v.Reason, &v.UnitPrice,
			&v.EstimatedLoss, &v.Active, &v.SpoiledAt, &v.RestockedAt, &v.CreatedAt,
			&v.ProductName, &v.ProductBrand); err != nil {
			return nil, fmt.Errorf("spoilage: scan history: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spoilage: iterate history: %w", err)
	}
	return out, nil
}

// DeleteInactiveHistory prunes restocked records.
func (r *Repository) DeleteInactiveHistory(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM spoilage_history WHERE NOT active`)
	if err != nil {
		return 0, fmt.Errorf("spoilage: clear history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Summary aggregates active spoilage records.
func (r *Repository) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT product_id),
		       COALESCE(SUM(quantity), 0),
		       COALESCE(SUM(estimated_loss), 0)
		FROM spoilage_history WHERE active`).
		Scan(&s.Products, &s.TotalQty, &s.EstimatedLoss)
	if err != nil {
		return Summary{}, fmt.Errorf("spoilage: summary: %w", err)
	}
	return s, nil
}

// ToggleProducts flips products between active and inactive. Spoiled products
// are skipped; only the spoilage flow moves them.
func (r *Repository) ToggleProducts(ctx context.Context, productIDs []int64, state catalog.SpoilState) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET spoil_state = $2, updated_at = NOW()
		WHERE id = ANY($1) AND spoil_state <> $3 AND deleted_at IS NULL`,
		productIDs, state, catalog.SpoilInSpoilage)
	if err != nil {
		return 0, fmt.Errorf("spoilage: toggle products: %w", err)
	}
	return tag.RowsAffected(), nil
}

type txRepository struct {
	tx   pgx.Tx
	lots lots.TxRepository
}

func (r *txRepository) Lots() lots.TxRepository { return r.lots }

func (r *txRepository) GetProductForUpdate(ctx context.Context, productID int64) (SpoilProduct, error) {
	var p SpoilProduct
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, quantity, sale_price, spoil_state, spoiled_quantity
		FROM products WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, productID).
		Scan(&p.ID, &p.Name, &p.Qty, &p.SalePrice, &p.SpoilState, &p.SpoiledQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return SpoilProduct{}, catalog.ErrNotFound
	}
	if err != nil {
		return SpoilProduct{}, fmt.Errorf("spoilage: product for update: %w", err)
	}
	return p, nil
}

func (r *txRepository) SetProductSpoilage(ctx context.Context, productID int64, state catalog.SpoilState, reason string, at time.Time, spoiledQty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE products
		SET spoil_state = $2, spoil_reason = $3, spoiled_at = $4,
		    spoiled_quantity = $5, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		productID, state, reason, at, spoiledQty)
	if err != nil {
		return fmt.Errorf("spoilage: set spoilage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetProductState(ctx context.Context, productID int64, state catalog.SpoilState) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE products SET spoil_state = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, productID, state)
	if err != nil {
		return fmt.Errorf("spoilage: set state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *txRepository) ClearProductStock(ctx context.Context, productID int64) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE products SET quantity = 0, expires_on = NULL, made_on = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, productID)
	if err != nil {
		return fmt.Errorf("spoilage: clear stock: %w", err)
	}
	return nil
}

func (r *txRepository) SpoilActiveLots(ctx context.Context, productID int64) (int, decimal.Decimal, error) {
	// Sum first, then zero: RETURNING sees post-update values only.
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM lots
		WHERE product_id = $1 AND status = $2 AND quantity > 0`,
		productID, lots.StatusActive).Scan(&total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("spoilage: sum active lots: %w", err)
	}
	tag, err := r.tx.Exec(ctx, `
		UPDATE lots SET status = $2, quantity = 0, updated_at = NOW()
		WHERE product_id = $1 AND status = $3 AND quantity > 0`,
		productID, lots.StatusSpoiled, lots.StatusActive)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("spoilage: spoil lots: %w", err)
	}
	return int(tag.RowsAffected()), total, nil
}

func (r *txRepository) InsertHistory(ctx context.Context, rec HistoryRecord) (int64, error) {
	// Nested transaction (savepoint) so a failed insert cannot poison the
	// surrounding stock mutation; history is best-effort.
	nested, err := r.tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("spoilage: begin savepoint: %w", err)
	}
	var id int64
	err = nested.QueryRow(ctx, `
		INSERT INTO spoilage_history (product_id, quantity, reason, unit_price,
		                              estimated_loss, active, spoiled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW())
		RETURNING id`,
		rec.ProductID, rec.Qty, rec.Reason, rec.UnitPrice,
		rec.EstimatedLoss, rec.SpoiledAt).Scan(&id)
	if err != nil {
		_ = nested.Rollback(ctx)
		return 0, fmt.Errorf("spoilage: insert history: %w", err)
	}
	if err := nested.Commit(ctx); err != nil {
		return 0, fmt.Errorf("spoilage: commit savepoint: %w", err)
	}
	return id, nil
}

func (r *txRepository) HasActiveHistory(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM spoilage_history WHERE product_id = $1 AND active)`,
		productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("spoilage: active history: %w", err)
	}
	return exists, nil
}

func (r *txRepository) DeactivateHistory(ctx context.Context, productID int64, restockedAt time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE spoilage_history SET active = FALSE, restocked_at = $2
		WHERE product_id = $1 AND active`, productID, restockedAt)
	if err != nil {
		return 0, fmt.Errorf("spoilage: deactivate history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) ClearProductSpoilFields(ctx context.Context, productID int64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE products
		SET spoil_reason = '', spoiled_at = NULL, spoiled_quantity = 0,
		    spoil_state = CASE WHEN spoil_state = $2 THEN $3 ELSE spoil_state END,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		productID, catalog.SpoilInSpoilage, catalog.SpoilActive)
	if err != nil {
		return fmt.Errorf("spoilage: clear spoil fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *txRepository) ResolveProductAlerts(ctx context.Context, productIDs []int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		WHERE product_id = ANY($1) AND status = 'active'`, productIDs)
	if err != nil {
		return 0, fmt.Errorf("spoilage: resolve alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}
