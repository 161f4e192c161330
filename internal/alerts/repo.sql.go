package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepository is the transactional surface of the alert engine. The refresh
// pass runs whole inside one transaction so a crash cannot leave half the
// catalog re-banded.
type TxRepository interface {
	ListAlertProducts(ctx context.Context) ([]ProductInfo, error)
	ListOpenInvoices(ctx context.Context) ([]InvoiceInfo, error)
	GetActiveByProduct(ctx context.Context, productID int64, kind Kind) (Alert, bool, error)
	GetActiveByInvoice(ctx context.Context, invoiceID int64) (Alert, bool, error)
	Insert(ctx context.Context, a Alert) (int64, error)
	Refresh(ctx context.Context, id int64, severity Severity, message string, generatedAt time.Time) error
	ResolveByProductKind(ctx context.Context, productID int64, kind Kind) (int64, error)
	ResolvePaidInvoiceAlerts(ctx context.Context) (int64, error)
}

// Repository implements alert persistence over PostgreSQL.
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
		return fmt.Errorf("alerts: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("alerts: commit tx: %w", err)
	}
	return nil
}

const alertSelect = `
	SELECT id, kind, severity, status, message, product_id, invoice_id,
	       generated_at, resolved_at, created_at
	FROM alerts`

// List returns alerts matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Alert, error) {
	query := alertSelect + ` WHERE TRUE`
	args := []any{}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += fmt.Sprintf(` AND severity = $%d`, len(args))
	}
	query += ` ORDER BY generated_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("alerts: list: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Kind, &a.Severity, &a.Status, &a.Message,
			&a.ProductID, &a.InvoiceID, &a.GeneratedAt, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("alerts: scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alerts: iterate alerts: %w", err)
	}
	return out, nil
}

// SetStatus closes one active alert.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alerts SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = 'active'`, id, status)
	if err != nil {
		return fmt.Errorf("alerts: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already closed for the caller.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("alerts: set status: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotActive
	}
	return nil
}

// ResolveForProduct closes every active alert pointing at the product.
func (r *Repository) ResolveForProduct(ctx context.Context, productID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		WHERE product_id = $1 AND status = 'active'`, productID)
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve for product: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResolveForInvoice closes every active alert pointing at the invoice.
func (r *Repository) ResolveForInvoice(ctx context.Context, invoiceID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		WHERE invoice_id = $1 AND status = 'active'`, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve for invoice: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Summary aggregates active alerts.
func (r *Repository) Summary(ctx context.Context) (Summary, error) {
	s := Summary{ByKind: map[string]int{}}
	rows, err := r.pool.Query(ctx, `
		SELECT kind, severity, COUNT(*) FROM alerts
		WHERE status = 'active'
		GROUP BY kind, severity`)
	if err != nil {
		return Summary{}, fmt.Errorf("alerts: summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, severity string
		var n int
		if err := rows.Scan(&kind, &severity, &n); err != nil {
			return Summary{}, fmt.Errorf("alerts: scan summary: %w", err)
		}
		s.Active += n
		s.ByKind[kind] += n
		switch Severity(severity) {
		case SeverityRed:
			s.Red += n
		case SeverityYellow:
			s.Yellow += n
		case SeverityGreen:
			s.Green += n
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("alerts: iterate summary: %w", err)
	}
	return s, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) ListAlertProducts(ctx context.Context) ([]ProductInfo, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, name, brand, quantity, min_stock, expires_on
		FROM products
		WHERE deleted_at IS NULL AND spoil_state = 'active'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("alerts: list products: %w", err)
	}
	defer rows.Close()

	var out []ProductInfo
	for rows.Next() {
		var p ProductInfo
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Qty, &p.MinStock, &p.ExpiresOn); err != nil {
			return nil, fmt.Errorf("alerts: scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alerts: iterate products: %w", err)
	}
	return out, nil
}

func (r *txRepository) ListOpenInvoices(ctx context.Context) ([]InvoiceInfo, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT i.id, i.number, s.name, i.total, i.due_on
		FROM supplier_invoices i
		JOIN suppliers s ON s.id = i.supplier_id
		WHERE i.deleted_at IS NULL AND i.pay_status <> 'paid'
		ORDER BY i.id`)
	if err != nil {
		return nil, fmt.Errorf("alerts: list invoices: %w", err)
	}
	defer rows.Close()

	var out []InvoiceInfo
	for rows.Next() {
		var v InvoiceInfo
		if err := rows.Scan(&v.ID, &v.Number, &v.SupplierName, &v.Total, &v.DueOn); err != nil {
			return nil, fmt.Errorf("alerts: scan invoice: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alerts: iterate invoices: %w", err)
	}
	return out, nil
}

func (r *txRepository) GetActiveByProduct(ctx context.Context, productID int64, kind Kind) (Alert, bool, error) {
	row := r.tx.QueryRow(ctx, alertSelect+`
		WHERE product_id = $1 AND kind = $2 AND status = 'active'`,
		productID, kind)
	return scanMaybe(row)
}

func (r *txRepository) GetActiveByInvoice(ctx context.Context, invoiceID int64) (Alert, bool, error) {
	row := r.tx.QueryRow(ctx, alertSelect+`
		WHERE invoice_id = $1 AND kind = $2 AND status = 'active'`,
		invoiceID, KindInvoiceDue)
	return scanMaybe(row)
}

func (r *txRepository) Insert(ctx context.Context, a Alert) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO alerts (kind, severity, status, message, product_id, invoice_id,
		                    generated_at, created_at)
		VALUES ($1, $2, 'active', $3, $4, $5, $6, NOW())
		RETURNING id`,
		a.Kind, a.Severity, a.Message, a.ProductID, a.InvoiceID, a.GeneratedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("alerts: insert: %w", err)
	}
	return id, nil
}

func (r *txRepository) Refresh(ctx context.Context, id int64, severity Severity, message string, generatedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE alerts SET severity = $2, message = $3, generated_at = $4
		WHERE id = $1`, id, severity, message, generatedAt)
	if err != nil {
		return fmt.Errorf("alerts: refresh: %w", err)
	}
	return nil
}

func (r *txRepository) ResolveByProductKind(ctx context.Context, productID int64, kind Kind) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		WHERE product_id = $1 AND kind = $2 AND status = 'active'`, productID, kind)
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve by kind: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) ResolvePaidInvoiceAlerts(ctx context.Context) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE alerts a SET status = 'resolved', resolved_at = NOW()
		FROM supplier_invoices i
		WHERE a.invoice_id = i.id AND a.status = 'active' AND i.pay_status = 'paid'`)
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve paid invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMaybe(row pgx.Row) (Alert, bool, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.Kind, &a.Severity, &a.Status, &a.Message,
		&a.ProductID, &a.InvoiceID, &a.GeneratedAt, &a.ResolvedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, false, nil
	}
	if err != nil {
		return Alert{}, false, fmt.Errorf("alerts: scan alert: %w", err)
	}
	return a, true, nil
}
