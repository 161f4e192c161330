package lots

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memProduct struct {
	qty       decimal.Decimal
	spoil     string
	expiresOn *time.Time
	madeOn    *time.Time
}

type memStore struct {
	nextID   int64
	lots     map[int64]*Lot
	products map[int64]*memProduct
}

func newMemStore() *memStore {
	return &memStore{lots: map[int64]*Lot{}, products: map[int64]*memProduct{}}
}

func (m *memStore) addProduct(id int64, qty decimal.Decimal) {
	m.products[id] = &memProduct{qty: qty, spoil: "active"}
}

func (m *memStore) addLot(productID int64, qty decimal.Decimal, expiresOn, receivedAt time.Time, status Status) int64 {
	m.nextID++
	m.lots[m.nextID] = &Lot{
		ID: m.nextID, ProductID: productID,
		Qty: qty, InitialQty: qty,
		ExpiresOn: expiresOn, ReceivedAt: receivedAt,
		Origin: OriginPurchase, Status: status,
	}
	return m.nextID
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memStore) GetLot(ctx context.Context, lotID int64) (Lot, error) {
	return m.GetLotForUpdate(ctx, lotID)
}

func (m *memStore) ListByProduct(ctx context.Context, productID int64, filter ListFilter) ([]Lot, error) {
	var out []Lot
	for _, l := range m.lots {
		if l.ProductID != productID {
			continue
		}
		if filter.Origin != "" && l.Origin != filter.Origin {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, *l)
	}
	SortFIFO(out)
	return out, nil
}

func (m *memStore) Available(ctx context.Context, productID int64) (decimal.Decimal, StockMode, error) {
	n, _ := m.CountLots(ctx, productID)
	if n == 0 {
		p, ok := m.products[productID]
		if !ok {
			return decimal.Zero, "", ErrProductNotFound
		}
		return p.qty, StockModeDirect, nil
	}
	active, _ := m.ListActiveForUpdate(ctx, productID)
	sum := decimal.Zero
	for _, l := range active {
		sum = sum.Add(l.Qty)
	}
	return sum, StockModeLots, nil
}

func (m *memStore) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	m.nextID++
	lot.ID = m.nextID
	m.lots[lot.ID] = &lot
	return lot.ID, nil
}

func (m *memStore) GetLotForUpdate(ctx context.Context, lotID int64) (Lot, error) {
	l, ok := m.lots[lotID]
	if !ok {
		return Lot{}, ErrLotNotFound
	}
	return *l, nil
}

func (m *memStore) ListActiveForUpdate(ctx context.Context, productID int64) ([]Lot, error) {
	var out []Lot
	for _, l := range m.lots {
		if l.ProductID == productID && l.Status == StatusActive && l.Qty.IsPositive() {
			out = append(out, *l)
		}
	}
	SortFIFO(out)
	return out, nil
}

func (m *memStore) UpdateLotQty(ctx context.Context, lotID int64, qty decimal.Decimal, status Status) error {
	l, ok := m.lots[lotID]
	if !ok {
		return ErrLotNotFound
	}
	l.Qty = qty
	l.Status = status
	return nil
}

func (m *memStore) CountLots(ctx context.Context, productID int64) (int, error) {
	n := 0
	for _, l := range m.lots {
		if l.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetProductStockForUpdate(ctx context.Context, productID int64) (ProductStock, error) {
	p, ok := m.products[productID]
	if !ok {
		return ProductStock{}, ErrProductNotFound
	}
	return ProductStock{ProductID: productID, Qty: p.qty, SpoilState: p.spoil}, nil
}

func (m *memStore) UpdateProductQty(ctx context.Context, productID int64, qty decimal.Decimal) error {
	p, ok := m.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.qty = qty
	return nil
}

func (m *memStore) UpdateProductProjection(ctx context.Context, productID int64, qty decimal.Decimal, expiresOn, madeOn *time.Time) error {
	p, ok := m.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.qty = qty
	p.expiresOn = expiresOn
	p.madeOn = madeOn
	return nil
}

func newTestService(store *memStore) *Service {
	return NewService(store, nil, slog.Default())
}

func day(offset int) time.Time {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestConsumeWalksLotsInFIFOOrder(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	late := store.addLot(1, dec("10"), day(20), day(-1), StatusActive)
	soon := store.addLot(1, dec("5"), day(5), day(-3), StatusActive)

	svc := newTestService(store)
	takes, err := svc.Consume(context.Background(), 1, dec("8"))
	require.NoError(t, err)
	require.Len(t, takes, 2)

	require.Equal(t, soon, takes[0].LotID)
	require.True(t, takes[0].Qty.Equal(dec("5")))
	require.True(t, takes[0].Depleted)

	require.Equal(t, late, takes[1].LotID)
	require.True(t, takes[1].Qty.Equal(dec("3")))
	require.False(t, takes[1].Depleted)

	require.Equal(t, StatusDepleted, store.lots[soon].Status)
	require.True(t, store.lots[late].Qty.Equal(dec("7")))

	p := store.products[1]
	require.True(t, p.qty.Equal(dec("7")))
	require.NotNil(t, p.expiresOn)
	require.True(t, p.expiresOn.Equal(day(20)))
}

func TestConsumeBreaksExpiryTieOnReceivedAt(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	newer := store.addLot(1, dec("4"), day(10), day(-1), StatusActive)
	older := store.addLot(1, dec("4"), day(10), day(-5), StatusActive)

	svc := newTestService(store)
	takes, err := svc.Consume(context.Background(), 1, dec("4"))
	require.NoError(t, err)
	require.Len(t, takes, 1)
	require.Equal(t, older, takes[0].LotID)
	require.True(t, store.lots[newer].Qty.Equal(dec("4")))
}

func TestConsumeConservesQuantity(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	store.addLot(1, dec("2.5"), day(3), day(-1), StatusActive)
	store.addLot(1, dec("1.25"), day(6), day(-1), StatusActive)
	store.addLot(1, dec("4"), day(9), day(-1), StatusActive)

	before := decimal.Zero
	for _, l := range store.lots {
		before = before.Add(l.Qty)
	}

	svc := newTestService(store)
	requested := dec("3.75")
	takes, err := svc.Consume(context.Background(), 1, requested)
	require.NoError(t, err)

	taken := decimal.Zero
	for _, tk := range takes {
		taken = taken.Add(tk.Qty)
	}
	require.True(t, taken.Equal(requested))

	after := decimal.Zero
	for _, l := range store.lots {
		after = after.Add(l.Qty)
	}
	require.True(t, before.Sub(after).Equal(requested))
	require.True(t, store.products[1].qty.Equal(after))
}

func TestConsumeInsufficientStock(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	id := store.addLot(1, dec("2"), day(3), day(-1), StatusActive)

	svc := newTestService(store)
	_, err := svc.Consume(context.Background(), 1, dec("5"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.True(t, store.lots[id].Qty.Equal(dec("2")))
}

func TestConsumeIgnoresInactiveLots(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	store.addLot(1, dec("3"), day(1), day(-2), StatusSpoiled)
	active := store.addLot(1, dec("3"), day(8), day(-1), StatusActive)

	svc := newTestService(store)
	takes, err := svc.Consume(context.Background(), 1, dec("2"))
	require.NoError(t, err)
	require.Len(t, takes, 1)
	require.Equal(t, active, takes[0].LotID)
}

func TestConsumeDirectModeProduct(t *testing.T) {
	store := newMemStore()
	store.addProduct(7, dec("10"))

	svc := newTestService(store)
	takes, err := svc.Consume(context.Background(), 7, dec("4"))
	require.NoError(t, err)
	require.Empty(t, takes)
	require.True(t, store.products[7].qty.Equal(dec("6")))
}

func TestConsumeDirectModeInsufficient(t *testing.T) {
	store := newMemStore()
	store.addProduct(7, dec("1"))

	svc := newTestService(store)
	_, err := svc.Consume(context.Background(), 7, dec("2"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.True(t, store.products[7].qty.Equal(dec("1")))
}

func TestConsumeRejectsTinyQuantity(t *testing.T) {
	svc := newTestService(newMemStore())
	_, err := svc.Consume(context.Background(), 1, dec("0.0001"))
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReduceSpecificClampsOversizedRequest(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	id := store.addLot(1, dec("3"), day(4), day(-1), StatusActive)

	svc := newTestService(store)
	out, err := svc.ReduceSpecific(context.Background(), id, dec("10"))
	require.NoError(t, err)
	require.True(t, out.Clamped)
	require.True(t, out.Applied.Equal(dec("3")))
	require.True(t, out.Remaining.IsZero())
	require.True(t, out.Spoiled)
	require.Equal(t, StatusSpoiled, store.lots[id].Status)
	require.True(t, store.products[1].qty.IsZero())
	require.Nil(t, store.products[1].expiresOn)
}

func TestReduceSpecificPartial(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	id := store.addLot(1, dec("5"), day(4), day(-1), StatusActive)

	svc := newTestService(store)
	out, err := svc.ReduceSpecific(context.Background(), id, dec("2"))
	require.NoError(t, err)
	require.False(t, out.Clamped)
	require.False(t, out.Spoiled)
	require.True(t, out.Remaining.Equal(dec("3")))
	require.Equal(t, StatusActive, store.lots[id].Status)
	require.True(t, store.products[1].qty.Equal(dec("3")))
}

func TestReduceSpecificRejectsInactiveLot(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)
	id := store.addLot(1, dec("5"), day(4), day(-1), StatusDepleted)

	svc := newTestService(store)
	_, err := svc.ReduceSpecific(context.Background(), id, dec("1"))
	require.ErrorIs(t, err, ErrLotNotActive)
}

func TestCreateRefreshesProjection(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, decimal.Zero)

	svc := newTestService(store)
	lot, err := svc.Create(context.Background(), CreateInput{
		ProductID: 1,
		Qty:       dec("12"),
		ExpiresOn: day(15),
		Origin:    OriginProduction,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, lot.Status)
	require.True(t, lot.InitialQty.Equal(dec("12")))

	p := store.products[1]
	require.True(t, p.qty.Equal(dec("12")))
	require.NotNil(t, p.expiresOn)
	require.True(t, p.expiresOn.Equal(day(15)))
}

func TestCreateRejectsUnknownProduct(t *testing.T) {
	svc := newTestService(newMemStore())
	_, err := svc.Create(context.Background(), CreateInput{
		ProductID: 99,
		Qty:       dec("1"),
		ExpiresOn: day(5),
		Origin:    OriginPurchase,
	})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestRecomputeWithNoActiveLots(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, dec("99"))
	store.addLot(1, decimal.Zero, day(2), day(-1), StatusDepleted)

	svc := newTestService(store)
	proj, err := svc.Recompute(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StockModeLots, proj.Mode)
	require.True(t, proj.Qty.IsZero())
	require.Nil(t, proj.ExpiresOn)
	require.True(t, store.products[1].qty.IsZero())
}

func TestRecomputeDirectModeLeavesProductAlone(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, dec("42"))

	svc := newTestService(store)
	proj, err := svc.Recompute(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StockModeDirect, proj.Mode)
	require.True(t, proj.Qty.Equal(dec("42")))
	require.True(t, store.products[1].qty.Equal(dec("42")))
}
