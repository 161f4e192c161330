package lots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository is the transactional surface of the lot ledger. Every method
// runs inside the caller's transaction; row locks taken here hold until the
// transaction ends.
type TxRepository interface {
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	GetLotForUpdate(ctx context.Context, lotID int64) (Lot, error)
	// ListActiveForUpdate returns active lots with stock in FIFO order,
	// locked against concurrent consumption.
	ListActiveForUpdate(ctx context.Context, productID int64) ([]Lot, error)
	UpdateLotQty(ctx context.Context, lotID int64, qty decimal.Decimal, status Status) error
	CountLots(ctx context.Context, productID int64) (int, error)
	GetProductStockForUpdate(ctx context.Context, productID int64) (ProductStock, error)
	UpdateProductQty(ctx context.Context, productID int64, qty decimal.Decimal) error
	UpdateProductProjection(ctx context.Context, productID int64, qty decimal.Decimal, expiresOn, madeOn *time.Time) error
}

// Repository implements lot persistence over PostgreSQL.
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
		return fmt.Errorf("lots: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, NewTxRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("lots: commit tx: %w", err)
	}
	return nil
}

// GetLot fetches a single lot outside any transaction.
func (r *Repository) GetLot(ctx context.Context, lotID int64) (Lot, error) {
	row := r.pool.QueryRow(ctx, lotSelect+` WHERE id = $1`, lotID)
	return scanLot(row)
}

// ListFilter narrows ListByProduct.
type ListFilter struct {
	Origin Origin
	Status Status
}

// ListByProduct returns a product's lots newest expiry last, optionally
// filtered by origin or status.
func (r *Repository) ListByProduct(ctx context.Context, productID int64, filter ListFilter) ([]Lot, error) {
	query := lotSelect + ` WHERE product_id = $1`
	args := []any{productID}
	if filter.Origin != "" {
		args = append(args, filter.Origin)
		query += fmt.Sprintf(` AND origin = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY expires_on ASC, received_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lots: list by product: %w", err)
	}
	defer rows.Close()
	return scanLots(rows)
}

// Available returns the quantity a consume call could take right now. For
// lot-tracked products that is the sum of active lots; products without lot
// rows report their direct quantity.
func (r *Repository) Available(ctx context.Context, productID int64) (decimal.Decimal, StockMode, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lots WHERE product_id = $1`, productID).Scan(&total)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("lots: count lots: %w", err)
	}
	if total == 0 {
		var qty decimal.Decimal
		err := r.pool.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1 AND deleted_at IS NULL`, productID).Scan(&qty)
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, "", ErrProductNotFound
		}
		if err != nil {
			return decimal.Zero, "", fmt.Errorf("lots: product quantity: %w", err)
		}
		return qty, StockModeDirect, nil
	}

	var sum decimal.Decimal
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM lots
		WHERE product_id = $1 AND status = $2 AND quantity > 0`,
		productID, StatusActive).Scan(&sum)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("lots: sum active: %w", err)
	}
	return sum, StockModeLots, nil
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can share the
// ledger inside their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const lotSelect = `
	SELECT id, product_id, lot_number, quantity, initial_quantity,
	       made_on, expires_on, received_at, origin, status,
	       created_at, updated_at
	FROM lots`

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO lots (product_id, lot_number, quantity, initial_quantity,
		                  made_on, expires_on, received_at, origin, status,
		                  created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		lot.ProductID, lot.Number, lot.Qty, lot.InitialQty,
		lot.MadeOn, lot.ExpiresOn, lot.ReceivedAt, lot.Origin, lot.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lots: insert lot: %w", err)
	}
	return id, nil
}

func (r *txRepository) GetLotForUpdate(ctx context.Context, lotID int64) (Lot, error) {
	row := r.tx.QueryRow(ctx, lotSelect+` WHERE id = $1 FOR UPDATE`, lotID)
	return scanLot(row)
}

func (r *txRepository) ListActiveForUpdate(ctx context.Context, productID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, lotSelect+`
		WHERE product_id = $1 AND status = $2 AND quantity > 0
		ORDER BY expires_on ASC, received_at ASC, id ASC
		FOR UPDATE`,
		productID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("lots: list active: %w", err)
	}
	defer rows.Close()
	return scanLots(rows)
}

func (r *txRepository) UpdateLotQty(ctx context.Context, lotID int64, qty decimal.Decimal, status Status) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE lots SET quantity = $2, status = $3, updated_at = NOW()
		WHERE id = $1`,
		lotID, qty, status)
	if err != nil {
		return fmt.Errorf("lots: update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func (r *txRepository) CountLots(ctx context.Context, productID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM lots WHERE product_id = $1`, productID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("lots: count lots: %w", err)
	}
	return n, nil
}

func (r *txRepository) GetProductStockForUpdate(ctx context.Context, productID int64) (ProductStock, error) {
	var ps ProductStock
	err := r.tx.QueryRow(ctx, `
		SELECT id, quantity, spoil_state FROM products
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`,
		productID).Scan(&ps.ProductID, &ps.Qty, &ps.SpoilState)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductStock{}, ErrProductNotFound
	}
	if err != nil {
		return ProductStock{}, fmt.Errorf("lots: product stock: %w", err)
	}
	return ps, nil
}

func (r *txRepository) UpdateProductQty(ctx context.Context, productID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE products SET quantity = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("lots: update product quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) UpdateProductProjection(ctx context.Context, productID int64, qty decimal.Decimal, expiresOn, madeOn *time.Time) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE products SET quantity = $2, expires_on = $3, made_on = $4, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		productID, qty, expiresOn, madeOn)
	if err != nil {
		return fmt.Errorf("lots: update projection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.ProductID, &l.Number, &l.Qty, &l.InitialQty,
		&l.MadeOn, &l.ExpiresOn, &l.ReceivedAt, &l.Origin, &l.Status,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	if err != nil {
		return Lot{}, fmt.Errorf("lots: scan lot: %w", err)
	}
	return l, nil
}

func scanLots(rows pgx.Rows) ([]Lot, error) {
	var out []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Number, &l.Qty, &l.InitialQty,
			&l.MadeOn, &l.ExpiresOn, &l.ReceivedAt, &l.Origin, &l.Status,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("lots: scan lot: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lots: iterate lots: %w", err)
	}
	return out, nil
}
