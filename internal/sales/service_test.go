package sales

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hornero-erp/hornero-erp/internal/lots"
	"github.com/hornero-erp/hornero-erp/internal/shared"
)

type fakeProduct struct {
	name       string
	salePrice  decimal.Decimal
	spoilState string
	qty        decimal.Decimal
	expiresOn  *time.Time
	madeOn     *time.Time
}

type fakeStore struct {
	nextID   int64
	products map[int64]*fakeProduct
	lots     map[int64]*lots.Lot
	sales    map[int64]*Sale
	lines    map[int64]*SaleLine
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[int64]*fakeProduct{},
		lots:     map[int64]*lots.Lot{},
		sales:    map[int64]*Sale{},
		lines:    map[int64]*SaleLine{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addProduct(id int64, name string, price, qty decimal.Decimal) {
	f.products[id] = &fakeProduct{name: name, salePrice: price, spoilState: "active", qty: qty}
}

func (f *fakeStore) addLot(productID int64, qty decimal.Decimal, expiresOn time.Time) int64 {
	id := f.id()
	f.lots[id] = &lots.Lot{
		ID:         id,
		ProductID:  productID,
		Qty:        qty,
		InitialQty: qty,
		ExpiresOn:  expiresOn,
		ReceivedAt: day(0),
		Origin:     lots.OriginPurchase,
		Status:     lots.StatusActive,
	}
	return id
}

// RepositoryPort

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeStore) GetSale(ctx context.Context, id int64) (Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return *s, nil
}

func (f *fakeStore) GetSaleLines(ctx context.Context, saleID int64) ([]SaleLine, error) {
	var out []SaleLine
	for _, l := range f.lines {
		if l.SaleID == saleID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	var out []Sale
	for _, s := range f.sales {
		if filter.From != nil && s.SoldAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !s.SoldAt.Before(*filter.To) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// AvailabilityPort, mirroring the ledger's fallback to the product row when a
// product has no lot rows.

func (f *fakeStore) Available(ctx context.Context, productID int64) (decimal.Decimal, lots.StockMode, error) {
	total := 0
	sum := decimal.Zero
	for _, l := range f.lots {
		if l.ProductID != productID {
			continue
		}
		total++
		if l.Status == lots.StatusActive && l.Qty.IsPositive() {
			sum = sum.Add(l.Qty)
		}
	}
	if total == 0 {
		p, ok := f.products[productID]
		if !ok {
			return decimal.Zero, "", lots.ErrProductNotFound
		}
		return p.qty, lots.StockModeDirect, nil
	}
	return sum, lots.StockModeLots, nil
}

// TxRepository

func (f *fakeStore) Lots() lots.TxRepository { return (*fakeLotsTx)(f) }

func (f *fakeStore) GetProductForSale(ctx context.Context, productID int64) (SaleProduct, error) {
	p, ok := f.products[productID]
	if !ok {
		return SaleProduct{}, lots.ErrProductNotFound
	}
	return SaleProduct{ID: productID, Name: p.name, SalePrice: p.salePrice, SpoilState: p.spoilState}, nil
}

func (f *fakeStore) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	sale.ID = f.id()
	f.sales[sale.ID] = &sale
	return sale.ID, nil
}

func (f *fakeStore) InsertLine(ctx context.Context, line SaleLine) (int64, error) {
	line.ID = f.id()
	f.lines[line.ID] = &line
	return line.ID, nil
}

// fakeLotsTx exposes the same state through the lot ledger interface.
type fakeLotsTx fakeStore

func (f *fakeLotsTx) InsertLot(ctx context.Context, lot lots.Lot) (int64, error) {
	f.nextID++
	lot.ID = f.nextID
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
	return lots.ProductStock{ProductID: productID, Qty: p.qty, SpoilState: p.spoilState}, nil
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

// fakeIdempotency tracks checkout keys in memory.
type fakeIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]bool{}}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	f.deleted = append(f.deleted, key)
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

func newTestService(store *fakeStore, idem IdempotencyPort) *Service {
	return NewService(store, store, idem, nil, slog.Default())
}

func TestComputeTotalsBacksOutVAT(t *testing.T) {
	totals := ComputeTotals(dec("1190"))
	require.True(t, totals.Net.Equal(dec("1000")), "net %s", totals.Net)
	require.True(t, totals.Tax.Equal(dec("190")), "tax %s", totals.Tax)

	totals = ComputeTotals(dec("1500"))
	require.True(t, totals.Net.Equal(dec("1260.5")), "net %s", totals.Net)
	require.True(t, totals.Net.Add(totals.Tax).Equal(totals.Gross))
}

func TestLineTotal(t *testing.T) {
	require.True(t, LineTotal(dec("3"), dec("1200"), decimal.Zero).Equal(dec("3600")))
	require.True(t, LineTotal(dec("2"), dec("1000"), dec("10")).Equal(dec("1800")))
	require.True(t, LineTotal(dec("0.5"), dec("990"), decimal.Zero).Equal(dec("495")))
}

func TestPostSaleConsumesLotsFIFO(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1190"), decimal.Zero)
	first := store.addLot(1, dec("3"), day(2))
	second := store.addLot(1, dec("5"), day(9))

	svc := newTestService(store, nil)
	sale, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("4")}},
		Paid:  dec("5000"),
	})
	require.NoError(t, err)

	require.True(t, sale.Gross.Equal(dec("4760")))
	require.True(t, sale.Net.Equal(dec("4000")))
	require.True(t, sale.Tax.Equal(dec("760")))
	require.True(t, sale.Change.Equal(dec("240")))
	require.Contains(t, sale.Folio, "BOL-")

	require.True(t, store.lots[first].Qty.IsZero(), "earliest expiry drained first")
	require.Equal(t, lots.StatusDepleted, store.lots[first].Status)
	require.True(t, store.lots[second].Qty.Equal(dec("4")))
	require.True(t, store.products[1].qty.Equal(dec("4")), "projection refreshed after consumption")

	lines, err := store.GetSaleLines(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].UnitPrice.Equal(dec("1190")), "price comes from the catalog")
}

func TestPostSaleDirectModeProduct(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Harina suelta", dec("900"), dec("10"))

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("2.5")}},
		Paid:  dec("2250"),
	})
	require.NoError(t, err)
	require.True(t, store.products[1].qty.Equal(dec("7.5")))
}

func TestPostSaleRejectsInsufficientStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1190"), decimal.Zero)
	store.addLot(1, dec("2"), day(5))

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("3")}},
		Paid:  dec("10000"),
	})
	require.ErrorIs(t, err, lots.ErrInsufficientStock)
	require.Empty(t, store.sales, "rejected before anything is written")
	require.True(t, store.lots[1].Qty.Equal(dec("2")))
}

func TestPostSaleRejectsInsufficientPayment(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1190"), decimal.Zero)
	store.addLot(1, dec("10"), day(5))

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("2")}},
		Paid:  dec("2000"),
	})
	require.ErrorIs(t, err, ErrInsufficientPayment)
	require.True(t, store.lots[1].Qty.Equal(dec("10")), "stock untouched")
}

func TestPostSaleRejectsSpoiledProduct(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Torta frutal", dec("8000"), dec("2"))
	store.products[1].spoilState = "in_spoilage"

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("1")}},
		Paid:  dec("8000"),
	})
	require.ErrorIs(t, err, ErrProductUnavailable)
	require.Contains(t, err.Error(), "Torta frutal")
}

func TestPostSaleTicketDiscount(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1000"), dec("10"))

	svc := newTestService(store, nil)
	sale, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines:    []CartLine{{ProductID: 1, Qty: dec("3")}},
		Paid:     dec("2500"),
		Discount: dec("500"),
	})
	require.NoError(t, err)
	require.True(t, sale.Gross.Equal(dec("2500")))
	require.True(t, sale.Change.IsZero())
}

func TestPostSaleRejectsDiscountBeyondTotal(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1000"), dec("10"))

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines:    []CartLine{{ProductID: 1, Qty: dec("1")}},
		Paid:     dec("5000"),
		Discount: dec("1500"),
	})
	require.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestPostSaleRejectsBadLineDiscount(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1000"), dec("10"))

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("1"), DiscountPct: dec("120")}},
		Paid:  dec("5000"),
	})
	require.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestPostSaleDeduplicatesClientRef(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1000"), dec("10"))
	idem := newFakeIdempotency()

	svc := newTestService(store, idem)
	in := PostSaleInput{
		Lines:     []CartLine{{ProductID: 1, Qty: dec("1")}},
		Paid:      dec("1000"),
		ClientRef: "pos-7-42",
	}
	_, err := svc.PostSale(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.PostSale(context.Background(), in)
	require.ErrorIs(t, err, ErrDuplicateSale)
	require.Len(t, store.sales, 1)
}

func TestPostSaleFreesKeyWhenTicketFails(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1000"), dec("10"))
	idem := newFakeIdempotency()

	svc := newTestService(store, idem)
	in := PostSaleInput{
		Lines:     []CartLine{{ProductID: 1, Qty: dec("1")}},
		Paid:      dec("500"),
		ClientRef: "pos-7-43",
	}
	_, err := svc.PostSale(context.Background(), in)
	require.ErrorIs(t, err, ErrInsufficientPayment)
	require.Contains(t, idem.deleted, "pos-7-43")

	in.Paid = dec("1000")
	_, err = svc.PostSale(context.Background(), in)
	require.NoError(t, err, "same reference retries once the cart is fixed")
}

func TestPostSaleRejectsTinyQuantity(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, "Marraqueta", dec("1000"), dec("10"))

	svc := newTestService(store, nil)
	_, err := svc.PostSale(context.Background(), PostSaleInput{
		Lines: []CartLine{{ProductID: 1, Qty: dec("0.0001")}},
		Paid:  dec("1000"),
	})
	require.ErrorIs(t, err, lots.ErrInvalidQuantity)
}
