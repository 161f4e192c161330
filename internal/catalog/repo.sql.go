package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements product persistence over PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productSelect = `
	SELECT id, name, brand, description, category,
	       stock_unit, sale_unit, sale_price, quantity,
	       min_stock, max_stock, expires_on, made_on,
	       spoil_state, spoil_reason, spoiled_at, spoiled_quantity,
	       created_at, updated_at, deleted_at
	FROM products`

// Create inserts a product. The unique index on the folded name/brand pair
// surfaces duplicates as ErrDuplicate.
func (r *Repository) Create(ctx context.Context, p Product) (int64, error) {
	nameKey, brandKey := IdentityKey(p.Name, p.Brand)
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (name, brand, name_key, brand_key, description, category,
		                      stock_unit, sale_unit, sale_price, quantity,
		                      min_stock, max_stock, expires_on, made_on,
		                      spoil_state, spoil_reason, spoiled_quantity,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, '', 0, NOW(), NOW())
		RETURNING id`,
		p.Name, p.Brand, nameKey, brandKey, p.Description, p.Category,
		p.StockUnit, p.SaleUnit, p.SalePrice, p.Qty,
		p.MinStock, p.MaxStock, p.ExpiresOn, p.MadeOn,
		SpoilActive,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("catalog: insert product: %w", err)
	}
	return id, nil
}

// Update edits descriptive fields. Quantity and the projection dates are
// owned by the lot ledger and not touched here.
func (r *Repository) Update(ctx context.Context, id int64, in UpdateInput) error {
	nameKey, brandKey := IdentityKey(in.Name, in.Brand)
	tag, err := r.pool.Exec(ctx, `
		UPDATE products
		SET name = $2, brand = $3, name_key = $4, brand_key = $5,
		    description = $6, category = $7, stock_unit = $8, sale_unit = $9,
		    sale_price = $10, min_stock = $11, max_stock = $12, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, in.Name, in.Brand, nameKey, brandKey,
		in.Description, in.Category, in.StockUnit, in.SaleUnit,
		in.SalePrice, in.MinStock, in.MaxStock)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("catalog: update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete hides a product without breaking lot and sale history.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("catalog: delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSpoilState toggles a product's spoilage flag directly.
func (r *Repository) SetSpoilState(ctx context.Context, id int64, state SpoilState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET spoil_state = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, state)
	if err != nil {
		return fmt.Errorf("catalog: set spoil state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID fetches one live product.
func (r *Repository) GetByID(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, productSelect+` WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanProduct(row)
}

// FindByIdentity looks up a live product by its folded name/brand pair.
func (r *Repository) FindByIdentity(ctx context.Context, name, brand string) (Product, error) {
	nameKey, brandKey := IdentityKey(name, brand)
	row := r.pool.QueryRow(ctx, productSelect+`
		WHERE name_key = $1 AND brand_key = $2 AND deleted_at IS NULL`,
		nameKey, brandKey)
	return scanProduct(row)
}

// List returns live products matching the filter, name order.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	query := productSelect + ` WHERE deleted_at IS NULL`
	args := []any{}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR brand ILIKE $%d)`, len(args), len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if filter.SpoilState != "" {
		args = append(args, filter.SpoilState)
		query += fmt.Sprintf(` AND spoil_state = $%d`, len(args))
	}
	if filter.LowStock {
		query += ` AND quantity <= COALESCE(min_stock, 5)`
	}
	query += ` ORDER BY name ASC, brand ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProductRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return out, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Brand, &p.Description, &p.Category,
		&p.StockUnit, &p.SaleUnit, &p.SalePrice, &p.Qty,
		&p.MinStock, &p.MaxStock, &p.ExpiresOn, &p.MadeOn,
		&p.SpoilState, &p.SpoilReason, &p.SpoiledAt, &p.SpoiledQty,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("catalog: scan product: %w", err)
	}
	return p, nil
}

func scanProductRow(rows pgx.Rows) (Product, error) {
	var p Product
	err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Description, &p.Category,
		&p.StockUnit, &p.SaleUnit, &p.SalePrice, &p.Qty,
		&p.MinStock, &p.MaxStock, &p.ExpiresOn, &p.MadeOn,
		&p.SpoilState, &p.SpoilReason, &p.SpoiledAt, &p.SpoiledQty,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: scan product: %w", err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
