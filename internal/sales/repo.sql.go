package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hornero-erp/hornero-erp/internal/lots"
)

// TxRepository is the transactional surface of checkout. The sale, its lines
// and the FIFO stock consumption commit as one unit of work.
type TxRepository interface {
	Lots() lots.TxRepository
	GetProductForSale(ctx context.Context, productID int64) (SaleProduct, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertLine(ctx context.Context, line SaleLine) (int64, error)
}

// Repository implements sale persistence over PostgreSQL.
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
		return fmt.Errorf("sales: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepository{tx: tx, lots: lots.NewTxRepository(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sales: commit tx: %w", err)
	}
	return nil
}

const saleSelect = `
	SELECT id, folio, sold_at, gross, net, tax, discount, paid, change, note, created_at
	FROM sales`

// GetSale fetches one sale.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, saleSelect+` WHERE id = $1`, id)
	return scanSale(row)
}

// GetSaleLines returns a sale's lines.
func (r *Repository) GetSaleLines(ctx context.Context, saleID int64) ([]SaleLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price, discount_pct, line_total
		FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("sales: list lines: %w", err)
	}
	defer rows.Close()

	var out []SaleLine
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Qty, &l.UnitPrice, &l.DiscountPct, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("sales: scan line: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sales: iterate lines: %w", err)
	}
	return out, nil
}

// ListSales returns sales in the window, newest first.
func (r *Repository) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	query := saleSelect + ` WHERE TRUE`
	args := []any{}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND sold_at >= $%d`, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND sold_at < $%d`, len(args))
	}
	query += ` ORDER BY sold_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sales: list sales: %w", err)
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.Folio, &s.SoldAt, &s.Gross, &s.Net, &s.Tax,
			&s.Discount, &s.Paid, &s.Change, &s.Note, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("sales: scan sale: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sales: iterate sales: %w", err)
	}
	return out, nil
}

type txRepository struct {
	tx   pgx.Tx
	lots lots.TxRepository
}

func (r *txRepository) Lots() lots.TxRepository { return r.lots }

func (r *txRepository) GetProductForSale(ctx context.Context, productID int64) (SaleProduct, error) {
	var p SaleProduct
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, sale_price, spoil_state FROM products
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, productID).
		Scan(&p.ID, &p.Name, &p.SalePrice, &p.SpoilState)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaleProduct{}, lots.ErrProductNotFound
	}
	if err != nil {
		return SaleProduct{}, fmt.Errorf("sales: product for sale: %w", err)
	}
	return p, nil
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales (folio, sold_at, gross, net, tax, discount, paid, change, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id`,
		sale.Folio, sale.SoldAt, sale.Gross, sale.Net, sale.Tax,
		sale.Discount, sale.Paid, sale.Change, sale.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sales: insert sale: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, discount_pct, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		line.SaleID, line.ProductID, line.Qty, line.UnitPrice, line.DiscountPct, line.LineTotal).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sales: insert line: %w", err)
	}
	return id, nil
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Folio, &s.SoldAt, &s.Gross, &s.Net, &s.Tax,
		&s.Discount, &s.Paid, &s.Change, &s.Note, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("sales: scan sale: %w", err)
	}
	return s, nil
}
