package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// VATRate is the Chilean IVA applied to sale prices. Prices are
// tax-inclusive: the net is backed out of the charged total.
var VATRate = decimal.NewFromFloat(0.19)

// Sale is a posted point-of-sale ticket.
type Sale struct {
	ID        int64
	Folio     string
	SoldAt    time.Time
	Gross     decimal.Decimal
	Net       decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
	Paid      decimal.Decimal
	Change    decimal.Decimal
	Note      string
	CreatedAt time.Time
}

// SaleLine is one ticket position.
type SaleLine struct {
	ID          int64
	SaleID      int64
	ProductID   int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	LineTotal   decimal.Decimal
}

// CartLine is one requested position. Unit price comes from the catalog at
// posting time, never from the client.
type CartLine struct {
	ProductID   int64           `validate:"required,gt=0"`
	Qty         decimal.Decimal `validate:"required"`
	DiscountPct decimal.Decimal
}

// PostSaleInput is a checkout request. ClientRef, when set, deduplicates
// retried submissions.
type PostSaleInput struct {
	Lines     []CartLine      `validate:"required,min=1,dive"`
	Paid      decimal.Decimal `validate:"required"`
	Discount  decimal.Decimal
	Note      string `validate:"max=300"`
	ClientRef string `validate:"max=80"`
}

// SaleProduct is the product slice checkout reads under lock.
type SaleProduct struct {
	ID         int64
	Name       string
	SalePrice  decimal.Decimal
	SpoilState string
}

// Totals carries the derived money amounts of a ticket.
type Totals struct {
	Gross decimal.Decimal
	Net   decimal.Decimal
	Tax   decimal.Decimal
}

// ComputeTotals backs VAT out of a tax-inclusive gross, rounding half up to
// two places.
func ComputeTotals(gross decimal.Decimal) Totals {
	net := gross.Div(decimal.NewFromInt(1).Add(VATRate)).Round(2)
	return Totals{Gross: gross, Net: net, Tax: gross.Sub(net)}
}

// LineTotal prices one position: qty x unit price less the line discount.
func LineTotal(qty, unitPrice, discountPct decimal.Decimal) decimal.Decimal {
	total := qty.Mul(unitPrice)
	if discountPct.IsPositive() {
		factor := decimal.NewFromInt(1).Sub(discountPct.Div(decimal.NewFromInt(100)))
		total = total.Mul(factor)
	}
	return total.Round(2)
}

// SaleFilter narrows sale listings.
type SaleFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

var (
	// ErrInsufficientPayment indicates the tendered amount is below the total.
	ErrInsufficientPayment = errors.New("sales: paid amount does not cover the total")
	// ErrProductUnavailable indicates a line pointing at an inactive or
	// spoiled product.
	ErrProductUnavailable = errors.New("sales: product is not available for sale")
	// ErrDuplicateSale indicates a retried client reference.
	ErrDuplicateSale = errors.New("sales: sale already posted for this reference")
	// ErrSaleNotFound indicates the sale does not exist.
	ErrSaleNotFound = errors.New("sales: sale not found")
	// ErrInvalidDiscount indicates a discount outside [0, 100] percent or a
	// negative ticket discount.
	ErrInvalidDiscount = errors.New("sales: invalid discount")
)
