package lots

import (
	"context"

	"github.com/shopspring/decimal"
)

// This file holds the ledger mutations themselves, written against
// TxRepository so that other modules (sales, spoilage, procurement) can run
// them inside their own transactions alongside their own writes.

// CreateInTx inserts a lot and refreshes the product projection.
func CreateInTx(ctx context.Context, tx TxRepository, in CreateInput) (Lot, error) {
	if in.Qty.LessThan(MinQty) {
		return Lot{}, ErrInvalidQuantity
	}
	if in.ExpiresOn.IsZero() {
		return Lot{}, ErrExpiryRequired
	}
	switch in.Origin {
	case OriginPurchase, OriginProduction, OriginAdjustment:
	default:
		return Lot{}, ErrInvalidOrigin
	}
	if _, err := tx.GetProductStockForUpdate(ctx, in.ProductID); err != nil {
		return Lot{}, err
	}

	lot := Lot{
		ProductID:  in.ProductID,
		Number:     in.Number,
		Qty:        in.Qty,
		InitialQty: in.Qty,
		MadeOn:     in.MadeOn,
		ExpiresOn:  in.ExpiresOn,
		ReceivedAt: nowFunc(),
		Origin:     in.Origin,
		Status:     StatusActive,
	}
	id, err := tx.InsertLot(ctx, lot)
	if err != nil {
		return Lot{}, err
	}
	lot.ID = id

	if _, err := RecomputeInTx(ctx, tx, in.ProductID); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// ConsumeInTx takes qty from the product's lots in FIFO order. Availability
// was already checked by the caller outside the transaction; it is checked
// again here under row locks, so a concurrent consumer cannot push the total
// negative. Products without lot rows fall back to decrementing the product
// quantity directly.
func ConsumeInTx(ctx context.Context, tx TxRepository, productID int64, qty decimal.Decimal) ([]LotTake, error) {
	if qty.LessThan(MinQty) {
		return nil, ErrInvalidQuantity
	}

	total, err := tx.CountLots(ctx, productID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		ps, err := tx.GetProductStockForUpdate(ctx, productID)
		if err != nil {
			return nil, err
		}
		if ps.Qty.LessThan(qty) {
			return nil, ErrInsufficientStock
		}
		if err := tx.UpdateProductQty(ctx, productID, ps.Qty.Sub(qty)); err != nil {
			return nil, err
		}
		return nil, nil
	}

	active, err := tx.ListActiveForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	available := decimal.Zero
	for _, l := range active {
		available = available.Add(l.Qty)
	}
	if available.LessThan(qty) {
		return nil, ErrInsufficientStock
	}

	remaining := qty
	takes := make([]LotTake, 0, len(active))
	for _, l := range active {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, l.Qty)
		newQty := l.Qty.Sub(take)
		status := StatusActive
		if newQty.IsZero() {
			status = StatusDepleted
		}
		if err := tx.UpdateLotQty(ctx, l.ID, newQty, status); err != nil {
			return nil, err
		}
		takes = append(takes, LotTake{LotID: l.ID, Qty: take, Depleted: status == StatusDepleted})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, ErrStockInconsistent
	}

	if _, err := RecomputeInTx(ctx, tx, productID); err != nil {
		return nil, err
	}
	return takes, nil
}

// ReduceSpecificInTx removes qty from one named lot, clamping requests above
// the lot's balance. A lot drained to zero here moves to in_spoilage rather
// than depleted: targeted reductions record loss, not consumption.
func ReduceSpecificInTx(ctx context.Context, tx TxRepository, lotID int64, qty decimal.Decimal) (ReduceOutcome, error) {
	if qty.LessThan(MinQty) {
		return ReduceOutcome{}, ErrInvalidQuantity
	}
	lot, err := tx.GetLotForUpdate(ctx, lotID)
	if err != nil {
		return ReduceOutcome{}, err
	}
	if lot.Status != StatusActive {
		return ReduceOutcome{}, ErrLotNotActive
	}

	out := ReduceOutcome{LotID: lotID, ProductID: lot.ProductID, Requested: qty}
	applied := qty
	if applied.GreaterThan(lot.Qty) {
		applied = lot.Qty
		out.Clamped = true
	}

	newQty := lot.Qty.Sub(applied)
	status := StatusActive
	if newQty.IsZero() {
		status = StatusSpoiled
		out.Spoiled = true
	}
	if err := tx.UpdateLotQty(ctx, lotID, newQty, status); err != nil {
		return ReduceOutcome{}, err
	}
	out.Applied = applied
	out.Remaining = newQty

	if _, err := RecomputeInTx(ctx, tx, lot.ProductID); err != nil {
		return ReduceOutcome{}, err
	}
	return out, nil
}

// RecomputeInTx rebuilds the product's denormalized quantity and dates from
// its active lots. Products with no lot rows at all are left untouched; their
// quantity lives on the product row itself.
func RecomputeInTx(ctx context.Context, tx TxRepository, productID int64) (Projection, error) {
	total, err := tx.CountLots(ctx, productID)
	if err != nil {
		return Projection{}, err
	}
	if total == 0 {
		ps, err := tx.GetProductStockForUpdate(ctx, productID)
		if err != nil {
			return Projection{}, err
		}
		return Projection{ProductID: productID, Mode: StockModeDirect, Qty: ps.Qty}, nil
	}

	active, err := tx.ListActiveForUpdate(ctx, productID)
	if err != nil {
		return Projection{}, err
	}
	proj := Projection{ProductID: productID, Mode: StockModeLots, Qty: decimal.Zero}
	for _, l := range active {
		proj.Qty = proj.Qty.Add(l.Qty)
	}
	if len(active) > 0 {
		first := active[0]
		expires := first.ExpiresOn
		proj.ExpiresOn = &expires
		proj.MadeOn = first.MadeOn
	}
	if err := tx.UpdateProductProjection(ctx, productID, proj.Qty, proj.ExpiresOn, proj.MadeOn); err != nil {
		return Projection{}, err
	}
	return proj, nil
}
