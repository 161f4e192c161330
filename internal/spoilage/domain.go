package spoilage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
)

// MinHistoryQty is the floor applied to history rows so that a spoilage event
// observed at zero remaining stock still leaves a visible record.
var MinHistoryQty = decimal.NewFromFloat(0.001)

// HistoryRecord is one spoilage event for a product. Records are deactivated
// on restock, never deleted by it; ClearHistory prunes inactive rows only.
type HistoryRecord struct {
	ID            int64
	ProductID     int64
	Qty           decimal.Decimal
	Reason        string
	UnitPrice     decimal.Decimal
	EstimatedLoss decimal.Decimal
	Active        bool
	SpoiledAt     time.Time
	RestockedAt   *time.Time
	CreatedAt     time.Time
}

// HistoryView joins a record with its product for listings.
type HistoryView struct {
	HistoryRecord
	ProductName  string
	ProductBrand string
}

// SpoilProduct is the slice of the product row the tracker works with.
type SpoilProduct struct {
	ID         int64
	Name       string
	Qty        decimal.Decimal
	SalePrice  decimal.Decimal
	SpoilState catalog.SpoilState
	SpoiledQty decimal.Decimal
}

// LotQty names a specific lot and how much of it spoiled.
type LotQty struct {
	LotID int64
	Qty   decimal.Decimal
}

// SpoilItem is one product in a spoilage request. Empty Lots means the whole
// product: every active lot is drained.
type SpoilItem struct {
	ProductID int64
	Lots      []LotQty
}

// MoveInput is a bulk spoilage request.
type MoveInput struct {
	Items  []SpoilItem `validate:"required,min=1,dive"`
	Reason string      `validate:"required,max=300"`
}

// MoveResult summarizes what a spoilage request did.
type MoveResult struct {
	Processed      int
	TotalQty       decimal.Decimal
	EstimatedLoss  decimal.Decimal
	ResolvedAlerts int64
	Warnings       []string
}

// RestockInput brings a spoiled product back with fresh stock.
type RestockInput struct {
	ProductID int64           `validate:"required,gt=0"`
	Qty       decimal.Decimal `validate:"required"`
	Number    string          `validate:"max=50"`
	ExpiresOn time.Time       `validate:"required"`
	MadeOn    *time.Time
}

// Summary aggregates the current spoilage view for dashboards.
type Summary struct {
	Products      int             `json:"products"`
	TotalQty      decimal.Decimal `json:"total_quantity"`
	EstimatedLoss decimal.Decimal `json:"estimated_loss"`
}

// ErrNotInSpoilage indicates a restock attempt on a product that is not
// currently spoiled.
var ErrNotInSpoilage = errors.New("spoilage: product is not in spoilage")
