package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Unit enumerates stock and sale units.
type Unit string

const (
	UnitPiece Unit = "unit"
	UnitKg    Unit = "kg"
	UnitGram  Unit = "g"
	UnitLiter Unit = "l"
	UnitMl    Unit = "ml"
)

// SpoilState is the product-level spoilage flag. The per-lot states live in
// the lots module; this one drives visibility in the catalog and alerting.
type SpoilState string

const (
	SpoilActive     SpoilState = "active"
	SpoilInactive   SpoilState = "inactive"
	SpoilInSpoilage SpoilState = "in_spoilage"
)

// Product is a catalog item. Quantity and the two dates are a denormalized
// projection maintained by the lot ledger for lot-tracked products.
type Product struct {
	ID          int64
	Name        string
	Brand       string
	Description string
	Category    string
	StockUnit   Unit
	SaleUnit    Unit
	SalePrice   decimal.Decimal
	Qty         decimal.Decimal
	MinStock    *decimal.Decimal
	MaxStock    *decimal.Decimal
	ExpiresOn   *time.Time
	MadeOn      *time.Time
	SpoilState  SpoilState
	SpoilReason string
	SpoiledAt   *time.Time
	SpoiledQty  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

var folder = cases.Fold()

// IdentityKey normalizes a name/brand pair for duplicate detection. Two
// products with the same folded name and brand are the same product.
func IdentityKey(name, brand string) (string, string) {
	return folder.String(name), folder.String(brand)
}

// CreateInput describes a new product.
type CreateInput struct {
	Name        string          `validate:"required,max=120"`
	Brand       string          `validate:"max=120"`
	Description string          `validate:"max=500"`
	Category    string          `validate:"max=80"`
	StockUnit   Unit            `validate:"required,oneof=unit kg g l ml"`
	SaleUnit    Unit            `validate:"required,oneof=unit kg g l ml"`
	SalePrice   decimal.Decimal `validate:"required"`
	Qty         decimal.Decimal
	MinStock    *decimal.Decimal
	MaxStock    *decimal.Decimal
	ExpiresOn   *time.Time
	MadeOn      *time.Time
}

// UpdateInput describes an edit. Quantity is deliberately absent: stock for
// lot-tracked products changes only through the lot ledger.
type UpdateInput struct {
	Name        string `validate:"required,max=120"`
	Brand       string `validate:"max=120"`
	Description string `validate:"max=500"`
	Category    string `validate:"max=80"`
	StockUnit   Unit   `validate:"required,oneof=unit kg g l ml"`
	SaleUnit    Unit   `validate:"required,oneof=unit kg g l ml"`
	SalePrice   decimal.Decimal
	MinStock    *decimal.Decimal
	MaxStock    *decimal.Decimal
}

// ListFilter narrows product listings.
type ListFilter struct {
	Query      string
	Category   string
	SpoilState SpoilState
	LowStock   bool
	Limit      int
	Offset     int
}

var (
	// ErrNotFound indicates the product does not exist or was deleted.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrDuplicate indicates another product already uses the name/brand pair.
	ErrDuplicate = errors.New("catalog: product with this name and brand already exists")
	// ErrInvalidPrice indicates a non-positive sale price.
	ErrInvalidPrice = errors.New("catalog: sale price must be positive")
	// ErrStockBounds indicates min stock above max stock.
	ErrStockBounds = errors.New("catalog: minimum stock cannot exceed maximum stock")
)

// DefaultLowStockThreshold applies when a product has no MinStock set.
var DefaultLowStockThreshold = decimal.NewFromInt(5)

// LowStockThreshold returns the product's threshold or the default.
func (p Product) LowStockThreshold() decimal.Decimal {
	if p.MinStock != nil {
		return *p.MinStock
	}
	return DefaultLowStockThreshold
}

// IsLowStock reports whether quantity sits at or below the threshold.
func (p Product) IsLowStock() bool {
	return p.Qty.LessThanOrEqual(p.LowStockThreshold())
}
