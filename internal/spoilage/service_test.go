package spoilage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
)

type fakeProduct struct {
	name       string
	qty        decimal.Decimal
	salePrice  decimal.Decimal
	spoiledQty decimal.Decimal
	state      catalog.SpoilState
	reason     string
	spoiledAt  *time.Time
	expiresOn  *time.Time
	madeOn     *time.Time
}

type fakeStore struct {
	nextLotID  int64
	nextHistID int64
	lots       map[int64]*lots.Lot
	products   map[int64]*fakeProduct
	history    map[int64]*HistoryRecord
	alerts     map[int64]int // product id -> active alert count
	failHist   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lots:     map[int64]*lots.Lot{},
		products: map[int64]*fakeProduct{},
		history:  map[int64]*HistoryRecord{},
		alerts:   map[int64]int{},
	}
}

func (f *fakeStore) addProduct(id int64, qty, price decimal.Decimal, state catalog.SpoilState) {
	f.products[id] = &fakeProduct{qty: qty, salePrice: price, state: state, spoiledQty: decimal.Zero}
}

func (f *fakeStore) addLot(productID int64, qty decimal.Decimal, expiresOn time.Time, status lots.Status) int64 {
	f.nextLotID++
	f.lots[f.nextLotID] = &lots.Lot{
		ID: f.nextLotID, ProductID: productID,
		Qty: qty, InitialQty: qty,
		ExpiresOn: expiresOn, ReceivedAt: expiresOn.AddDate(0, 0, -10),
		Origin: lots.OriginPurchase, Status: status,
	}
	return f.nextLotID
}

// RepositoryPort

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeStore) ListActiveHistory(ctx context.Context) ([]HistoryView, error) {
	var out []HistoryView
	for _, h := range f.history {
		if h.Active {
			out = append(out, HistoryView{HistoryRecord: *h})
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteInactiveHistory(ctx context.Context) (int64, error) {
	var n int64
	for id, h := range f.history {
		if !h.Active {
			delete(f.history, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Summary(ctx context.Context) (Summary, error) {
	s := Summary{TotalQty: decimal.Zero, EstimatedLoss: decimal.Zero}
	seen := map[int64]bool{}
	for _, h := range f.history {
		if !h.Active {
			continue
		}
		if !seen[h.ProductID] {
			seen[h.ProductID] = true
			s.Products++
		}
		s.TotalQty = s.TotalQty.Add(h.Qty)
		s.EstimatedLoss = s.EstimatedLoss.Add(h.EstimatedLoss)
	}
	return s, nil
}

func (f *fakeStore) ToggleProducts(ctx context.Context, productIDs []int64, state catalog.SpoilState) (int64, error) {
	var n int64
	for _, id := range productIDs {
		p, ok := f.products[id]
		if !ok || p.state == catalog.SpoilInSpoilage {
			continue
		}
		p.state = state
		n++
	}
	return n, nil
}

// TxRepository

func (f *fakeStore) Lots() lots.TxRepository { return (*fakeLotsTx)(f) }

func (f *fakeStore) GetProductForUpdate(ctx context.Context, productID int64) (SpoilProduct, error) {
	p, ok := f.products[productID]
	if !ok {
		return SpoilProduct{}, catalog.ErrNotFound
	}
	return SpoilProduct{ID: productID, Name: p.name, Qty: p.qty, SalePrice: p.salePrice, SpoilState: p.state, SpoiledQty: p.spoiledQty}, nil
}

func (f *fakeStore) SetProductSpoilage(ctx context.Context, productID int64, state catalog.SpoilState, reason string, at time.Time, spoiledQty decimal.Decimal) error {
	p, ok := f.products[productID]
	if !ok {
		return catalog.ErrNotFound
	}
	p.state = state
	p.reason = reason
	p.spoiledAt = &at
	p.spoiledQty = spoiledQty
	return nil
}

func (f *fakeStore) SetProductState(ctx context.Context, productID int64, state catalog.SpoilState) error {
	p, ok := f.products[productID]
	if !ok {
		return catalog.ErrNotFound
	}
	p.state = state
	return nil
}

func (f *fakeStore) ClearProductStock(ctx context.Context, productID int64) error {
	p, ok := f.products[productID]
	if !ok {
		return catalog.ErrNotFound
	}
	p.qty = decimal.Zero
	p.expiresOn = nil
	p.madeOn = nil
	return nil
}

func (f *fakeStore) SpoilActiveLots(ctx context.Context, productID int64) (int, decimal.Decimal, error) {
	n, total := 0, decimal.Zero
	for _, l := range f.lots {
		if l.ProductID == productID && l.Status == lots.StatusActive && l.Qty.IsPositive() {
			total = total.Add(l.Qty)
			l.Qty = decimal.Zero
			l.Status = lots.StatusSpoiled
			n++
		}
	}
	return n, total, nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, rec HistoryRecord) (int64, error) {
	if f.failHist {
		return 0, context.DeadlineExceeded
	}
	f.nextHistID++
	rec.ID = f.nextHistID
	rec.Active = true
	f.history[rec.ID] = &rec
	return rec.ID, nil
}

func (f *fakeStore) HasActiveHistory(ctx context.Context, productID int64) (bool, error) {
	for _, h := range f.history {
		if h.ProductID == productID && h.Active {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeactivateHistory(ctx context.Context, productID int64, restockedAt time.Time) (int64, error) {
	var n int64
	for _, h := range f.history {
		if h.ProductID == productID && h.Active {
			h.Active = false
			at := restockedAt
			h.RestockedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ClearProductSpoilFields(ctx context.Context, productID int64) error {
	p, ok := f.products[productID]
	if !ok {
		return catalog.ErrNotFound
	}
	p.reason = ""
	p.spoiledAt = nil
	p.spoiledQty = decimal.Zero
	if p.state == catalog.SpoilInSpoilage {
		p.state = catalog.SpoilActive
	}
	return nil
}

func (f *fakeStore) ResolveProductAlerts(ctx context.Context, productIDs []int64) (int64, error) {
	var n int64
	for _, id := range productIDs {
		n += int64(f.alerts[id])
		f.alerts[id] = 0
	}
	return n, nil
}

// fakeLotsTx exposes the same state through the lot ledger interface.
type fakeLotsTx fakeStore

func (f *fakeLotsTx) InsertLot(ctx context.Context, lot lots.Lot) (int64, error) {
	f.nextLotID++
	lot.ID = f.nextLotID
	f.lots[lot.ID] = &lot
	return lot.ID, nil
}

func (f *fakeLotsTx) GetLotForUpdate(ctx context.Context, lotID int64) (lots.Lot, error) {
	l, ok := f.lots[lotID]
	if !ok {
		return lots.Lot{}, lots.ErrLotNotFound
	}
	return *l, nil
}

func (f *fakeLotsTx) ListActiveForUpdate(ctx context.Context, productID int64) ([]lots.Lot, error) {
	var out []lots.Lot
	for _, l := range f.lots {
		if l.ProductID == productID && l.Status == lots.StatusActive && l.Qty.IsPositive() {
			out = append(out, *l)
		}
	}
	lots.SortFIFO(out)
	return out, nil
}

func (f *fakeLotsTx) UpdateLotQty(ctx context.Context, lotID int64, qty decimal.Decimal, status lots.Status) error {
	l, ok := f.lots[lotID]
	if !ok {
		return lots.ErrLotNotFound
	}
	l.Qty = qty
	l.Status = status
	return nil
}

func (f *fakeLotsTx) CountLots(ctx context.Context, productID int64) (int, error) {
	n := 0
	for _, l := range f.lots {
		if l.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLotsTx) GetProductStockForUpdate(ctx context.Context, productID int64) (lots.ProductStock, error) {
	p, ok := f.products[productID]
	if !ok {
		return lots.ProductStock{}, lots.ErrProductNotFound
	}
	return lots.ProductStock{ProductID: productID, Qty: p.qty, SpoilState: string(p.state)}, nil
}

func (f *fakeLotsTx) UpdateProductQty(ctx context.Context, productID int64, qty decimal.Decimal) error {
	p, ok := f.products[productID]
	if !ok {
		return lots.ErrProductNotFound
	}
	p.qty = qty
	return nil
}

func (f *fakeLotsTx) UpdateProductProjection(ctx context.Context, productID int64, qty decimal.Decimal, expiresOn, madeOn *time.Time) error {
	p, ok := f.products[productID]
	if !ok {
		return lots.ErrProductNotFound
	}
	p.qty = qty
	p.expiresOn = expiresOn
	p.madeOn = madeOn
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(offset int) time.Time {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func newTestService(store *fakeStore) *Service {
	return NewService(store, nil, slog.Default())
}

func TestMoveWholeProductSpoilsAllLots(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("15"), dec("1200"), catalog.SpoilActive)
	a := store.addLot(1, dec("10"), day(3), lots.StatusActive)
	b := store.addLot(1, dec("5"), day(8), lots.StatusActive)
	store.alerts[1] = 2

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1}},
		Reason: "mold on surface",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.True(t, result.TotalQty.Equal(dec("15")))
	require.True(t, result.EstimatedLoss.Equal(dec("18000")))
	require.Equal(t, int64(2), result.ResolvedAlerts)

	require.Equal(t, lots.StatusSpoiled, store.lots[a].Status)
	require.Equal(t, lots.StatusSpoiled, store.lots[b].Status)

	p := store.products[1]
	require.Equal(t, catalog.SpoilInSpoilage, p.state)
	require.True(t, p.qty.IsZero())
	require.Nil(t, p.expiresOn)
	require.Equal(t, "mold on surface", p.reason)
	require.True(t, p.spoiledQty.Equal(dec("15")))

	views, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].Qty.Equal(dec("15")))
}

func TestMovePartialLotKeepsProductActive(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("10"), dec("500"), catalog.SpoilActive)
	id := store.addLot(1, dec("10"), day(4), lots.StatusActive)

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1, Lots: []LotQty{{LotID: id, Qty: dec("4")}}}},
		Reason: "dropped tray",
	})
	require.NoError(t, err)
	require.True(t, result.TotalQty.Equal(dec("4")))

	p := store.products[1]
	require.Equal(t, catalog.SpoilActive, p.state)
	require.True(t, p.qty.Equal(dec("6")))
	require.Equal(t, lots.StatusActive, store.lots[id].Status)
}

func TestMoveClampedLotReductionWarns(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("3"), dec("500"), catalog.SpoilActive)
	id := store.addLot(1, dec("3"), day(4), lots.StatusActive)

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1, Lots: []LotQty{{LotID: id, Qty: dec("9")}}}},
		Reason: "expired on shelf",
	})
	require.NoError(t, err)
	require.True(t, result.TotalQty.Equal(dec("3")))
	require.Len(t, result.Warnings, 1)
	require.Equal(t, lots.StatusSpoiled, store.lots[id].Status)
	require.Equal(t, catalog.SpoilInSpoilage, store.products[1].state)
}

func TestMoveSkipsForeignLot(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("3"), dec("500"), catalog.SpoilActive)
	store.addProduct(2, dec("5"), dec("500"), catalog.SpoilActive)
	foreign := store.addLot(2, dec("5"), day(4), lots.StatusActive)

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1, Lots: []LotQty{{LotID: foreign, Qty: dec("1")}}}},
		Reason: "mixup",
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "another product")
	require.True(t, result.TotalQty.IsZero())

	// The other product's lot was never touched.
	require.Equal(t, lots.StatusActive, store.lots[foreign].Status)
	require.True(t, store.lots[foreign].Qty.Equal(dec("5")))
	require.Equal(t, catalog.SpoilActive, store.products[1].state, "remaining stock keeps the product active")
}

func TestMoveSkipsInvalidLotPairs(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("10"), dec("500"), catalog.SpoilActive)
	good := store.addLot(1, dec("10"), day(4), lots.StatusActive)

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items: []SpoilItem{{ProductID: 1, Lots: []LotQty{
			{LotID: 999, Qty: dec("2")},
			{LotID: good, Qty: dec("0")},
			{LotID: good, Qty: dec("3")},
		}}},
		Reason: "rodent damage",
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 2)
	require.Contains(t, result.Warnings[0], "not found")
	require.Contains(t, result.Warnings[1], "skipped")
	require.True(t, result.TotalQty.Equal(dec("3")), "the valid pair still goes through")
	require.True(t, store.lots[good].Qty.Equal(dec("7")))
}

func TestMoveDirectModeProduct(t *testing.T) {
	store := newFakeStore()
	store.addProduct(7, dec("12"), dec("800"), catalog.SpoilActive)

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 7}},
		Reason: "flood in storeroom",
	})
	require.NoError(t, err)
	require.True(t, result.TotalQty.Equal(dec("12")))
	require.True(t, store.products[7].qty.IsZero())
	require.Equal(t, catalog.SpoilInSpoilage, store.products[7].state)
}

func TestMoveWholeProductWithoutStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, decimal.Zero, dec("800"), catalog.SpoilActive)

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1}},
		Reason: "nothing left",
	})
	require.NoError(t, err, "zero stock still records the event")
	require.Equal(t, 1, result.Processed)
	require.True(t, result.TotalQty.IsZero())
	require.Equal(t, catalog.SpoilInSpoilage, store.products[1].state)

	// The history row gets the minimum floor so the event stays visible.
	views, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].Qty.Equal(MinHistoryQty))
}

func TestMoveSnapshotsSpoiledQuantityPerEvent(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("10"), dec("500"), catalog.SpoilActive)
	id := store.addLot(1, dec("10"), day(4), lots.StatusActive)

	svc := newTestService(store)
	_, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1, Lots: []LotQty{{LotID: id, Qty: dec("3")}}}},
		Reason: "crushed in transit",
	})
	require.NoError(t, err)
	require.True(t, store.products[1].spoiledQty.Equal(dec("3")))

	_, err = svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1, Lots: []LotQty{{LotID: id, Qty: dec("2")}}}},
		Reason: "crushed in transit",
	})
	require.NoError(t, err)
	require.True(t, store.products[1].spoiledQty.Equal(dec("2")), "each event overwrites the snapshot")
}

func TestMoveSurvivesHistoryInsertFailure(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("5"), dec("500"), catalog.SpoilActive)
	store.addLot(1, dec("5"), day(4), lots.StatusActive)
	store.failHist = true

	svc := newTestService(store)
	result, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1}},
		Reason: "burnt batch",
	})
	require.NoError(t, err, "history is best-effort")
	require.Equal(t, 1, result.Processed)
	require.Equal(t, catalog.SpoilInSpoilage, store.products[1].state)
}

func TestRestock(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, decimal.Zero, dec("500"), catalog.SpoilActive)
	store.addLot(1, dec("5"), day(2), lots.StatusActive)

	svc := newTestService(store)
	_, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1}},
		Reason: "mold",
	})
	require.NoError(t, err)
	require.Equal(t, catalog.SpoilInSpoilage, store.products[1].state)

	lot, err := svc.Restock(context.Background(), RestockInput{
		ProductID: 1,
		Qty:       dec("20"),
		ExpiresOn: day(30),
	})
	require.NoError(t, err)
	require.Equal(t, lots.OriginAdjustment, lot.Origin)

	p := store.products[1]
	require.Equal(t, catalog.SpoilActive, p.state)
	require.True(t, p.qty.Equal(dec("20")))
	require.Equal(t, "mold", p.reason, "spoil trace survives restock")

	for _, h := range store.history {
		require.False(t, h.Active)
		require.NotNil(t, h.RestockedAt)
		require.True(t, h.Qty.Equal(dec("5")), "history figures preserved")
	}
}

func TestRestockRequiresSpoiledState(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("5"), dec("500"), catalog.SpoilActive)

	svc := newTestService(store)
	_, err := svc.Restock(context.Background(), RestockInput{
		ProductID: 1,
		Qty:       dec("5"),
		ExpiresOn: day(10),
	})
	require.ErrorIs(t, err, ErrNotInSpoilage)
}

func TestRestockRequiresExpiry(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, decimal.Zero, dec("500"), catalog.SpoilInSpoilage)

	svc := newTestService(store)
	_, err := svc.Restock(context.Background(), RestockInput{
		ProductID: 1,
		Qty:       dec("5"),
	})
	require.Error(t, err)
}

func TestReactivateIfStocked(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("8"), dec("500"), catalog.SpoilInSpoilage)

	svc := newTestService(store)
	ok, err := svc.ReactivateIfStocked(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, catalog.SpoilActive, store.products[1].state)
}

func TestReactivateBlockedByActiveHistory(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("8"), dec("500"), catalog.SpoilInSpoilage)
	store.nextHistID++
	store.history[store.nextHistID] = &HistoryRecord{ID: store.nextHistID, ProductID: 1, Active: true, Qty: dec("3")}

	svc := newTestService(store)
	ok, err := svc.ReactivateIfStocked(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok, "an open spoilage record keeps the product spoiled")
	require.Equal(t, catalog.SpoilInSpoilage, store.products[1].state)
}

func TestReactivateNeedsStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, decimal.Zero, dec("500"), catalog.SpoilInSpoilage)

	svc := newTestService(store)
	ok, err := svc.ReactivateIfStocked(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestToggleSkipsSpoiledProducts(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("5"), dec("500"), catalog.SpoilActive)
	store.addProduct(2, dec("5"), dec("500"), catalog.SpoilInSpoilage)

	svc := newTestService(store)
	n, err := svc.Toggle(context.Background(), []int64{1, 2}, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, catalog.SpoilInactive, store.products[1].state)
	require.Equal(t, catalog.SpoilInSpoilage, store.products[2].state)
}

func TestClearSpoilageRecordWipesTraceWithoutRestoringStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, dec("4"), dec("500"), catalog.SpoilActive)
	store.addLot(1, dec("4"), day(2), lots.StatusActive)

	svc := newTestService(store)
	_, err := svc.MoveToSpoilage(context.Background(), MoveInput{
		Items:  []SpoilItem{{ProductID: 1}},
		Reason: "mold",
	})
	require.NoError(t, err)

	require.NoError(t, svc.ClearSpoilageRecord(context.Background(), 1))

	p := store.products[1]
	require.Equal(t, catalog.SpoilActive, p.state)
	require.True(t, p.qty.IsZero(), "clearing the record does not restock")
	require.Empty(t, p.reason)
	require.Nil(t, p.spoiledAt)
	require.True(t, p.spoiledQty.IsZero())
	for _, h := range store.history {
		require.False(t, h.Active)
	}
}

func TestClearHistoryRemovesInactiveOnly(t *testing.T) {
	store := newFakeStore()
	store.history[1] = &HistoryRecord{ID: 1, ProductID: 1, Active: true, Qty: dec("1")}
	store.history[2] = &HistoryRecord{ID: 2, ProductID: 1, Active: false, Qty: dec("2")}

	svc := newTestService(store)
	n, err := svc.ClearHistory(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Contains(t, store.history, int64(1))
	require.NotContains(t, store.history, int64(2))
}
