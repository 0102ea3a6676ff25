package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/atelierluna/fulfillment/internal/domain/catalog"
	"github.com/atelierluna/fulfillment/internal/domain/discount"
	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// --- Mock implementations ---

type mockCatalog struct {
	mu   sync.Mutex
	byID map[string]catalog.Variant
}

func newMockCatalog(variants ...catalog.Variant) *mockCatalog {
	m := &mockCatalog{byID: make(map[string]catalog.Variant)}
	for _, v := range variants {
		m.byID[v.ID] = v
	}
	return m
}

func (m *mockCatalog) GetVariants(_ context.Context, ids []string) ([]catalog.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Variant
	for _, id := range ids {
		if v, ok := m.byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockCatalog) setPrice(id string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.byID[id]
	v.Price = price
	m.byID[id] = v
}

type mockShipping struct {
	details map[string]*order.ShippingDetails
}

func (m *mockShipping) GetShippingDetails(_ context.Context, id string) (*order.ShippingDetails, error) {
	d, ok := m.details[id]
	if !ok {
		return nil, errors.New("shipping details not found")
	}
	return d, nil
}

type mockDiscounts struct {
	codes map[string]discount.Code
	calls int
}

func (m *mockDiscounts) FindByCodes(_ context.Context, codes []string) ([]discount.Code, error) {
	m.calls++
	out := make([]discount.Code, 0, len(codes))
	for _, c := range codes {
		rule, ok := m.codes[c]
		if !ok {
			return nil, errors.Wrapf(discount.ErrInvalidCode, "code %s", c)
		}
		out = append(out, rule)
	}
	return out, nil
}

// fakeOrderStore emulates the repository's transactional contract: one order
// per session key, stock decremented exactly when a row is inserted.
type fakeOrderStore struct {
	mu        sync.Mutex
	bySession map[string]*order.Order
	byID      map[string]*order.Order
	stock     map[string]int
	oversell  map[string]bool
	// uses tracks remaining_uses per code; codes absent from the map are
	// unlimited, matching the repository's negative-counter convention.
	uses map[string]int
	seq  int64
}

func newFakeOrderStore(stock map[string]int) *fakeOrderStore {
	return &fakeOrderStore{
		bySession: make(map[string]*order.Order),
		byID:      make(map[string]*order.Order),
		stock:     stock,
		oversell:  make(map[string]bool),
		uses:      make(map[string]int),
	}
}

func (f *fakeOrderStore) CreateWithItems(_ context.Context, o *order.Order) (*order.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if o.SessionKey != "" {
		if existing, ok := f.bySession[o.SessionKey]; ok {
			return existing, false, nil
		}
	}
	for _, a := range o.Applied {
		if uses, tracked := f.uses[a.Code]; tracked && uses == 0 {
			return nil, false, errors.Wrapf(discount.ErrUsageLimitReached, "code %s", a.Code)
		}
	}
	// COD orders reserve stock at confirmation, not creation.
	if o.PaymentStatus == order.PaymentCompleted {
		if err := f.reserveLocked(o.Items); err != nil {
			return nil, false, err
		}
	}
	for _, a := range o.Applied {
		if uses, tracked := f.uses[a.Code]; tracked && uses > 0 {
			f.uses[a.Code] = uses - 1
		}
	}

	f.seq++
	o.Number = order.FormatNumber(f.seq)
	f.byID[o.ID] = o
	if o.SessionKey != "" {
		f.bySession[o.SessionKey] = o
	}
	return o, true, nil
}

func (f *fakeOrderStore) reserveLocked(items []order.LineItem) error {
	for _, it := range items {
		if f.stock[it.VariantID] < it.Quantity && !f.oversell[it.VariantID] {
			return &order.InsufficientStockError{VariantID: it.VariantID}
		}
	}
	for _, it := range items {
		f.stock[it.VariantID] -= it.Quantity
	}
	return nil
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) GetBySessionKey(_ context.Context, key string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.bySession[key]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) ConfirmCashOnDelivery(_ context.Context, id string) (*order.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, false, order.ErrNotFound
	}
	if o.PaymentStatus != order.PaymentPending {
		return o, false, nil
	}
	if err := f.reserveLocked(o.Items); err != nil {
		return nil, false, err
	}
	o.PaymentStatus = order.PaymentCompleted
	return o, true, nil
}

func (f *fakeOrderStore) SetShipment(_ context.Context, _ string, _ int64, _ order.ShipmentRef) error {
	return nil
}

func (f *fakeOrderStore) SetInvoice(_ context.Context, _ string, _ int64, _ order.InvoiceRef) error {
	return nil
}

func (f *fakeOrderStore) SetStatus(_ context.Context, _ string, _ int64, _ order.Status) error {
	return nil
}

func (f *fakeOrderStore) Restock(_ context.Context, _ string) error { return nil }

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mugVariant() catalog.Variant {
	return catalog.Variant{
		ID:          "v1",
		ProductID:   "p1",
		ProductName: "Ceramic mug",
		Size:        "M",
		Price:       dec("100.00"),
		Weight:      dec("0.4"),
		Stock:       10,
	}
}

func testShipping() *mockShipping {
	return &mockShipping{details: map[string]*order.ShippingDetails{
		"sd1": {
			ID: "sd1", FirstName: "Ana", LastName: "Pop",
			Email: "ana@example.com", Phone: "+40711111111",
			Country: "Romania", City: "Cluj-Napoca",
		},
	}}
}

func newService(store *fakeOrderStore, variants *mockCatalog, discounts *mockDiscounts) *Service {
	return NewService(variants, testShipping(), discounts, store, dec("15"))
}

// --- Tests ---

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc := newService(newFakeOrderStore(nil), newMockCatalog(), &mockDiscounts{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
	})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	svc := newService(newFakeOrderStore(nil), newMockCatalog(mugVariant()), &mockDiscounts{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "v1", iqErr.VariantID)
}

func TestCreateOrder_MissingShippingDetails(t *testing.T) {
	svc := newService(newFakeOrderStore(nil), newMockCatalog(mugVariant()), &mockDiscounts{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		PaymentMethod: order.MethodCard,
		Items:         []ItemRequest{{VariantID: "v1", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrShippingDetailsRequired)
}

func TestCreateOrder_VariantNotFound(t *testing.T) {
	svc := newService(newFakeOrderStore(nil), newMockCatalog(), &mockDiscounts{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "missing", Quantity: 1}},
	})

	var nfErr *catalog.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "missing", nfErr.VariantID)
}

func TestCreateOrder_CardOrderReservesStockAndCompletes(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	svc := newService(store, newMockCatalog(mugVariant()), &mockDiscounts{})

	res, err := svc.CreateOrder(context.Background(), CreateRequest{
		SessionKey:        "cs_123",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 2}},
	})

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, order.PaymentCompleted, res.Order.PaymentStatus)
	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.Equal(t, "LN-000001", res.Order.Number)
	assert.True(t, dec("215.00").Equal(res.Order.Total), "total = %s", res.Order.Total)
	assert.Equal(t, 8, store.stock["v1"])
}

func TestCreateOrder_InsufficientStockAbortsWholeOrder(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 1})
	svc := newService(store, newMockCatalog(mugVariant()), &mockDiscounts{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		SessionKey:        "cs_123",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 2}},
	})

	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, store.stock["v1"], "no partial decrement")
	assert.Empty(t, store.byID, "no partial order row")
}

func TestCreateOrder_PriceSnapshotIsImmutable(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	variants := newMockCatalog(mugVariant())
	svc := newService(store, variants, &mockDiscounts{})

	res, err := svc.CreateOrder(context.Background(), CreateRequest{
		SessionKey:        "cs_123",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
	})
	require.NoError(t, err)

	// Catalog price changes after the order exists.
	variants.setPrice("v1", dec("999.00"))

	stored, err := store.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.True(t, dec("100.00").Equal(stored.Items[0].UnitPrice),
		"line item price must stay at order-time value")
}

func TestCreateOrder_ReplayedSessionKeySkipsValidation(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	discounts := &mockDiscounts{codes: map[string]discount.Code{
		"TEN": {Code: "TEN", Kind: discount.KindPercentage, Value: dec("10"), RemainingUses: -1},
	}}
	svc := newService(store, newMockCatalog(mugVariant()), discounts)

	req := CreateRequest{
		SessionKey:        "cs_replay",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
		DiscountCodes:     []string{"TEN"},
	}

	first, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, discounts.calls, "replay must not re-validate codes")
	assert.Equal(t, 9, store.stock["v1"], "replay must not decrement stock again")
}

func TestCreateOrder_ConcurrentTriggersCreateOneOrder(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	svc := newService(store, newMockCatalog(mugVariant()), &mockDiscounts{})

	req := CreateRequest{
		SessionKey:        "cs_race",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
	}

	const n = 16
	var mu sync.Mutex
	createdCount := 0
	ids := make(map[string]struct{})

	var g errgroup.Group
	for range n {
		g.Go(func() error {
			res, err := svc.CreateOrder(context.Background(), req)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Created {
				createdCount++
			}
			ids[res.Order.ID] = struct{}{}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, createdCount, "exactly one trigger creates the order")
	assert.Len(t, ids, 1, "every trigger sees the same order")
	assert.Equal(t, 9, store.stock["v1"], "stock decremented exactly once")
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 3})
	svc := newService(store, newMockCatalog(mugVariant()), &mockDiscounts{})

	const n = 12
	var mu sync.Mutex
	succeeded := 0

	var g errgroup.Group
	for i := range n {
		req := CreateRequest{
			SessionKey:        fmt.Sprintf("cs_stock_%d", i),
			PaymentMethod:     order.MethodCard,
			ShippingDetailsID: "sd1",
			Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
		}
		g.Go(func() error {
			_, err := svc.CreateOrder(context.Background(), req)
			if err != nil {
				var stockErr *order.InsufficientStockError
				if errors.As(err, &stockErr) {
					return nil
				}
				return err
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 3, succeeded, "only as many orders as units in stock")
	assert.Equal(t, 0, store.stock["v1"], "stock never goes negative")
}

func TestCreateOrder_ConcurrentOrdersShareLimitedCodeOnce(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	store.uses["LAST"] = 1
	discounts := &mockDiscounts{codes: map[string]discount.Code{
		"LAST": {Code: "LAST", Kind: discount.KindFixed, Value: dec("5"), RemainingUses: 1, Stackable: true},
	}}
	svc := newService(store, newMockCatalog(mugVariant()), discounts)

	const n = 8
	var mu sync.Mutex
	succeeded := 0

	var g errgroup.Group
	for i := range n {
		req := CreateRequest{
			SessionKey:        fmt.Sprintf("cs_code_%d", i),
			PaymentMethod:     order.MethodCard,
			ShippingDetailsID: "sd1",
			Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
			DiscountCodes:     []string{"LAST"},
		}
		g.Go(func() error {
			_, err := svc.CreateOrder(context.Background(), req)
			if err != nil {
				if errors.Is(err, discount.ErrUsageLimitReached) {
					return nil
				}
				return err
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, succeeded, "a single-use code is consumed by exactly one order")
	assert.Equal(t, 0, store.uses["LAST"])
	assert.Equal(t, 9, store.stock["v1"], "losing orders leave no stock decrement behind")
}

func TestCreateOrder_DiscountCodesApplied(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	discounts := &mockDiscounts{codes: map[string]discount.Code{
		"TEN":  {Code: "TEN", Kind: discount.KindPercentage, Value: dec("10"), RemainingUses: -1, Stackable: true},
		"FIVE": {Code: "FIVE", Kind: discount.KindFixed, Value: dec("5"), RemainingUses: 3, Stackable: true},
	}}
	svc := newService(store, newMockCatalog(mugVariant()), discounts)

	res, err := svc.CreateOrder(context.Background(), CreateRequest{
		SessionKey:        "cs_disc",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
		DiscountCodes:     []string{"TEN", "FIVE"},
	})

	require.NoError(t, err)
	// 100 - 10 - 5 + 15 shipping = 100.
	assert.True(t, dec("100.00").Equal(res.Order.Total), "total = %s", res.Order.Total)
	assert.Len(t, res.Order.Applied, 2)
}

func TestCreateOrder_InvalidDiscountCode(t *testing.T) {
	svc := newService(newFakeOrderStore(map[string]int{"v1": 10}),
		newMockCatalog(mugVariant()), &mockDiscounts{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		SessionKey:        "cs_bad",
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 1}},
		DiscountCodes:     []string{"BOGUS"},
	})
	require.ErrorIs(t, err, discount.ErrInvalidCode)
}

func TestCashOnDeliveryFlow_FreeShipping(t *testing.T) {
	store := newFakeOrderStore(map[string]int{"v1": 10})
	discounts := &mockDiscounts{codes: map[string]discount.Code{
		"SHIP": {Code: "SHIP", Kind: discount.KindFreeShipping, RemainingUses: -1},
	}}
	svc := newService(store, newMockCatalog(mugVariant()), discounts)

	res, err := svc.CreateOrder(context.Background(), CreateRequest{
		PaymentMethod:     order.MethodCashOnDelivery,
		ShippingDetailsID: "sd1",
		Items:             []ItemRequest{{VariantID: "v1", Quantity: 2}},
		DiscountCodes:     []string{"SHIP"},
	})
	require.NoError(t, err)

	// Subtotal 200, shipping zeroed: total 200; stock untouched until the
	// success page confirms.
	assert.True(t, dec("200.00").Equal(res.Order.Total), "total = %s", res.Order.Total)
	assert.Equal(t, order.PaymentPending, res.Order.PaymentStatus)
	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.Equal(t, 10, store.stock["v1"])

	// First confirmation decrements stock.
	o, confirmed, err := svc.ConfirmCashOnDelivery(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, 8, store.stock["v1"])

	// A page refresh is a no-op.
	_, confirmed, err = svc.ConfirmCashOnDelivery(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.False(t, confirmed)
	assert.Equal(t, 8, store.stock["v1"], "stock decremented exactly once")
}
