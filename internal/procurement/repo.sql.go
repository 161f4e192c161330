package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/lots"
)

// TxRepository is the transactional surface of procurement. Goods receipt
// writes the invoice and its lots in one unit of work.
type TxRepository interface {
	Lots() lots.TxRepository
	InsertInvoice(ctx context.Context, inv SupplierInvoice) (int64, error)
	InsertLine(ctx context.Context, line InvoiceLine) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (SupplierInvoice, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	SetPayStatus(ctx context.Context, invoiceID int64, status PayStatus) error
	ResolveInvoiceAlerts(ctx context.Context, invoiceID int64) (int64, error)
}

// Repository implements procurement persistence over PostgreSQL.
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
		return fmt.Errorf("procurement: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepository{tx: tx, lots: lots.NewTxRepository(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("procurement: commit tx: %w", err)
	}
	return nil
}

// CreateSupplier inserts a supplier.
func (r *Repository) CreateSupplier(ctx context.Context, in SupplierInput) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO suppliers (name, tax_id, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id`,
		in.Name, in.TaxID, in.Email, in.Phone).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert supplier: %w", err)
	}
	return id, nil
}

// UpdateSupplier edits a supplier.
func (r *Repository) UpdateSupplier(ctx context.Context, id int64, in SupplierInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE suppliers SET name = $2, tax_id = $3, email = $4, phone = $5, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, in.Name, in.TaxID, in.Email, in.Phone)
	if err != nil {
		return fmt.Errorf("procurement: update supplier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSupplierNotFound
	}
	return nil
}

// SoftDeleteSupplier hides a supplier, keeping its invoice history.
func (r *Repository) SoftDeleteSupplier(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE suppliers SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("procurement: delete supplier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSupplierNotFound
	}
	return nil
}

// GetSupplier fetches one live supplier.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, tax_id, email, phone, created_at, updated_at, deleted_at
		FROM suppliers WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&s.ID, &s.Name, &s.TaxID, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	if err != nil {
		return Supplier{}, fmt.Errorf("procurement: get supplier: %w", err)
	}
	return s, nil
}

// ListSuppliers returns live suppliers in name order.
func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, tax_id, email, phone, created_at, updated_at, deleted_at
		FROM suppliers WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("procurement: list suppliers: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.TaxID, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt); err != nil {
			return nil, fmt.Errorf("procurement: scan supplier: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("procurement: iterate suppliers: %w", err)
	}
	return out, nil
}

const invoiceSelect = `
	SELECT id, number, supplier_id, issued_on, due_on, total, pay_status, note,
	       created_at, updated_at, deleted_at
	FROM supplier_invoices`

// GetInvoice fetches one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (SupplierInvoice, error) {
	row := r.pool.QueryRow(ctx, invoiceSelect+` WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanInvoice(row)
}

// GetInvoiceLines returns an invoice's lines.
func (r *Repository) GetInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, product_id, quantity, unit_cost, expires_on, made_on, lot_id
		FROM supplier_invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("procurement: list lines: %w", err)
	}
	defer rows.Close()

	var out []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Qty, &l.UnitCost, &l.ExpiresOn, &l.MadeOn, &l.LotID); err != nil {
			return nil, fmt.Errorf("procurement: scan line: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("procurement: iterate lines: %w", err)
	}
	return out, nil
}

// ListInvoices returns invoices matching the filter, newest issue date first.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]SupplierInvoice, error) {
	query := invoiceSelect + ` WHERE deleted_at IS NULL`
	args := []any{}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		query += fmt.Sprintf(` AND supplier_id = $%d`, len(args))
	}
	if filter.PayStatus != "" {
		args = append(args, filter.PayStatus)
		query += fmt.Sprintf(` AND pay_status = $%d`, len(args))
	}
	query += ` ORDER BY issued_on DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("procurement: list invoices: %w", err)
	}
	defer rows.Close()

	var out []SupplierInvoice
	for rows.Next() {
		var inv SupplierInvoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.SupplierID, &inv.IssuedOn, &inv.DueOn,
			&inv.Total, &inv.PayStatus, &inv.Note, &inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt); err != nil {
			return nil, fmt.Errorf("procurement: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("procurement: iterate invoices: %w", err)
	}
	return out, nil
}

type txRepository struct {
	tx   pgx.Tx
	lots lots.TxRepository
}

func (r *txRepository) Lots() lots.TxRepository { return r.lots }

func (r *txRepository) InsertInvoice(ctx context.Context, inv SupplierInvoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO supplier_invoices (number, supplier_id, issued_on, due_on, total,
		                               pay_status, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id`,
		inv.Number, inv.SupplierID, inv.IssuedOn, inv.DueOn, inv.Total,
		inv.PayStatus, inv.Note).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateInvoice
		}
		return 0, fmt.Errorf("procurement: insert invoice: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertLine(ctx context.Context, line InvoiceLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO supplier_invoice_lines (invoice_id, product_id, quantity, unit_cost,
		                                    expires_on, made_on, lot_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		line.InvoiceID, line.ProductID, line.Qty, line.UnitCost,
		line.ExpiresOn, line.MadeOn, line.LotID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert line: %w", err)
	}
	return id, nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (SupplierInvoice, error) {
	row := r.tx.QueryRow(ctx, invoiceSelect+` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, invoiceID)
	return scanInvoice(row)
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO supplier_payments (invoice_id, amount, method, paid_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id`,
		p.InvoiceID, p.Amount, p.Method, p.PaidAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert payment: %w", err)
	}
	return id, nil
}

func (r *txRepository) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM supplier_payments WHERE invoice_id = $1`,
		invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("procurement: sum payments: %w", err)
	}
	return sum, nil
}

func (r *txRepository) SetPayStatus(ctx context.Context, invoiceID int64, status PayStatus) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE supplier_invoices SET pay_status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, invoiceID, status)
	if err != nil {
		return fmt.Errorf("procurement: set pay status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) ResolveInvoiceAlerts(ctx context.Context, invoiceID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		WHERE invoice_id = $1 AND status = 'active'`, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("procurement: resolve alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanInvoice(row pgx.Row) (SupplierInvoice, error) {
	var inv SupplierInvoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.SupplierID, &inv.IssuedOn, &inv.DueOn,
		&inv.Total, &inv.PayStatus, &inv.Note, &inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierInvoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return SupplierInvoice{}, fmt.Errorf("procurement: scan invoice: %w", err)
	}
	return inv, nil
}
