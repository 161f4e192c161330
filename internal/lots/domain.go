package lots

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Origin enumerates how a lot entered the system.
type Origin string

const (
	// OriginPurchase marks lots received from a supplier invoice.
	OriginPurchase Origin = "purchase"
	// OriginProduction marks lots baked in house.
	OriginProduction Origin = "own_production"
	// OriginAdjustment marks lots created by a manual stock adjustment.
	OriginAdjustment Origin = "manual_adjustment"
)

// Status enumerates lot lifecycle states. Lots are never deleted, only
// transitioned; the lots table is its own audit trail.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDepleted Status = "depleted"
	StatusExpired  Status = "expired"
	StatusSpoiled  Status = "in_spoilage"
)

// StockMode reports how a product's displayed quantity is derived.
type StockMode string

const (
	// StockModeLots means the quantity is the sum of active lots.
	StockModeLots StockMode = "lot_tracked"
	// StockModeDirect means the product predates lot tracking and keeps its
	// quantity directly on the product row.
	StockModeDirect StockMode = "direct"
)

// MinQty is the smallest quantity the ledger accepts (3 decimal places).
var MinQty = decimal.NewFromFloat(0.001)

// Lot is a batch of one product sharing a manufacture and expiry date.
type Lot struct {
	ID         int64
	ProductID  int64
	Number     string
	Qty        decimal.Decimal
	InitialQty decimal.Decimal
	MadeOn     *time.Time
	ExpiresOn  time.Time
	ReceivedAt time.Time
	Origin     Origin
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DaysToExpiry returns whole days between today and the expiry date,
// negative when already expired.
func (l Lot) DaysToExpiry(today time.Time) int {
	return daysBetween(today, l.ExpiresOn)
}

// LotTake records how much a consume operation took from one lot.
type LotTake struct {
	LotID    int64
	Qty      decimal.Decimal
	Depleted bool
}

// ReduceOutcome reports the result of a targeted lot reduction. Requests above
// the available quantity are clamped, not rejected; Clamped flags that for the
// caller to surface.
type ReduceOutcome struct {
	LotID     int64
	ProductID int64
	Requested decimal.Decimal
	Applied   decimal.Decimal
	Remaining decimal.Decimal
	Clamped   bool
	Spoiled   bool
}

// Projection is the denormalized product view derived from its lots.
type Projection struct {
	ProductID int64
	Mode      StockMode
	Qty       decimal.Decimal
	ExpiresOn *time.Time
	MadeOn    *time.Time
}

// CreateInput describes a new lot.
type CreateInput struct {
	ProductID int64           `validate:"required,gt=0"`
	Number    string          `validate:"max=50"`
	Qty       decimal.Decimal `validate:"required"`
	ExpiresOn time.Time       `validate:"required"`
	MadeOn    *time.Time
	Origin    Origin `validate:"required,oneof=purchase own_production manual_adjustment"`
}

// ProductStock is the slice of the product row the ledger reads and writes.
type ProductStock struct {
	ProductID  int64
	Qty        decimal.Decimal
	SpoilState string
}

var (
	// ErrInvalidQuantity indicates a non-positive or sub-minimum quantity.
	ErrInvalidQuantity = errors.New("lots: quantity must be at least 0.001")
	// ErrExpiryRequired indicates a missing expiry date on an active lot.
	ErrExpiryRequired = errors.New("lots: expiry date required")
	// ErrInvalidOrigin indicates an unknown lot origin.
	ErrInvalidOrigin = errors.New("lots: invalid origin")
	// ErrLotNotFound indicates the lot does not exist.
	ErrLotNotFound = errors.New("lots: lot not found")
	// ErrLotNotActive indicates a mutation attempt on a non-active lot.
	ErrLotNotActive = errors.New("lots: lot is not active")
	// ErrProductNotFound indicates the owning product does not exist.
	ErrProductNotFound = errors.New("lots: product not found")
	// ErrInsufficientStock indicates the request exceeds available quantity.
	ErrInsufficientStock = errors.New("lots: insufficient stock")
	// ErrStockInconsistent indicates the FIFO walk ran out of lots after the
	// availability check passed. It signals a bug or a stale precondition and
	// always rolls back the transaction.
	ErrStockInconsistent = errors.New("lots: lot quantities inconsistent with availability check")
)

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
