package admin

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	orders    map[string]*order.Order
	restocked []string
}

func newMockOrderRepo(orders ...*order.Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) CreateWithItems(_ context.Context, o *order.Order) (*order.Order, bool, error) {
	m.orders[o.ID] = o
	return o, true, nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) GetBySessionKey(_ context.Context, key string) (*order.Order, error) {
	for _, o := range m.orders {
		if o.SessionKey == key {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) ConfirmCashOnDelivery(_ context.Context, id string) (*order.Order, bool, error) {
	return nil, false, errors.New("not used")
}

func (m *mockOrderRepo) SetShipment(_ context.Context, id string, version int64, ref order.ShipmentRef) error {
	o := m.orders[id]
	if o.Version != version {
		return order.ErrVersionConflict
	}
	o.ShipmentID = ref.ShipmentID
	o.Status = order.StatusShipmentProvisioned
	o.Version++
	return nil
}

func (m *mockOrderRepo) SetInvoice(_ context.Context, id string, version int64, ref order.InvoiceRef) error {
	o := m.orders[id]
	if o.Version != version {
		return order.ErrVersionConflict
	}
	o.InvoiceID = ref.ID
	o.Version++
	return nil
}

func (m *mockOrderRepo) SetStatus(_ context.Context, id string, version int64, status order.Status) error {
	o := m.orders[id]
	if o.Version != version {
		return order.ErrVersionConflict
	}
	o.Status = status
	o.Version++
	return nil
}

func (m *mockOrderRepo) Restock(_ context.Context, id string) error {
	m.restocked = append(m.restocked, id)
	return nil
}

type mockSteps struct {
	provisioned []string
	invoiced    []string
	cancelled   []string
	cancelErr   error
}

func (m *mockSteps) ProvisionShipment(_ context.Context, o *order.Order) error {
	m.provisioned = append(m.provisioned, o.ID)
	return nil
}

func (m *mockSteps) IssueInvoice(_ context.Context, o *order.Order) error {
	m.invoiced = append(m.invoiced, o.ID)
	return nil
}

func (m *mockSteps) CancelShipment(_ context.Context, o *order.Order) error {
	m.cancelled = append(m.cancelled, o.ID)
	return m.cancelErr
}

type mockRefunder struct {
	refunded []string
	err      error
}

func (m *mockRefunder) Refund(_ context.Context, sessionKey string) error {
	m.refunded = append(m.refunded, sessionKey)
	return m.err
}

func testOrder() *order.Order {
	return &order.Order{
		ID:            "ord-1",
		Number:        "LN-000001",
		PaymentStatus: order.PaymentCompleted,
		PaymentMethod: order.MethodCard,
		Status:        order.StatusShipmentProvisioned,
		SessionKey:    "cs_test_1",
		ShipmentID:    "shp-1",
		Version:       2,
	}
}

// --- Tests ---

func TestFulfillMarksOrder(t *testing.T) {
	repo := newMockOrderRepo(testOrder())
	svc := NewService(repo, &mockSteps{}, &mockRefunder{})

	o, err := svc.Fulfill(context.Background(), "ord-1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusFulfilled, o.Status)
	assert.Empty(t, repo.restocked, "fulfill must not touch stock")
}

func TestCancelCancelsShipmentAndRestocks(t *testing.T) {
	repo := newMockOrderRepo(testOrder())
	steps := &mockSteps{}
	svc := NewService(repo, steps, &mockRefunder{})

	o, err := svc.Cancel(context.Background(), "ord-1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, []string{"ord-1"}, steps.cancelled)
	assert.Equal(t, []string{"ord-1"}, repo.restocked)
}

func TestCancelSurvivesCarrierFailure(t *testing.T) {
	repo := newMockOrderRepo(testOrder())
	steps := &mockSteps{cancelErr: errors.New("carrier down")}
	svc := NewService(repo, steps, &mockRefunder{})

	o, err := svc.Cancel(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
}

func TestCancelSkipsRestockWhenPaymentPending(t *testing.T) {
	o := testOrder()
	o.PaymentStatus = order.PaymentPending
	o.PaymentMethod = order.MethodCashOnDelivery
	repo := newMockOrderRepo(o)
	svc := NewService(repo, &mockSteps{}, &mockRefunder{})

	_, err := svc.Cancel(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Empty(t, repo.restocked, "unreserved stock must not be returned")
}

func TestRefundCardOrder(t *testing.T) {
	repo := newMockOrderRepo(testOrder())
	refunder := &mockRefunder{}
	svc := NewService(repo, &mockSteps{}, refunder)

	o, err := svc.Refund(context.Background(), "ord-1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, []string{"cs_test_1"}, refunder.refunded)
	assert.Equal(t, []string{"ord-1"}, repo.restocked)
}

func TestRefundFailureKeepsStatus(t *testing.T) {
	repo := newMockOrderRepo(testOrder())
	refunder := &mockRefunder{err: errors.New("provider rejected")}
	svc := NewService(repo, &mockSteps{}, refunder)

	_, err := svc.Refund(context.Background(), "ord-1")
	require.Error(t, err)

	stored, _ := repo.GetByID(context.Background(), "ord-1")
	assert.Equal(t, order.StatusShipmentProvisioned, stored.Status)
	assert.Empty(t, repo.restocked)
}

func TestRefundCashOnDeliverySkipsProvider(t *testing.T) {
	o := testOrder()
	o.PaymentMethod = order.MethodCashOnDelivery
	o.SessionKey = ""
	repo := newMockOrderRepo(o)
	refunder := &mockRefunder{}
	svc := NewService(repo, &mockSteps{}, refunder)

	out, err := svc.Refund(context.Background(), "ord-1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusRefunded, out.Status)
	assert.Empty(t, refunder.refunded)
}

func TestTerminalOrdersRejectAllActions(t *testing.T) {
	o := testOrder()
	o.Status = order.StatusCancelled
	repo := newMockOrderRepo(o)
	svc := NewService(repo, &mockSteps{}, &mockRefunder{})

	ctx := context.Background()
	for name, op := range map[string]func() error{
		"fulfill":        func() error { _, err := svc.Fulfill(ctx, "ord-1"); return err },
		"cancel":         func() error { _, err := svc.Cancel(ctx, "ord-1"); return err },
		"refund":         func() error { _, err := svc.Refund(ctx, "ord-1"); return err },
		"retry shipment": func() error { _, err := svc.RetryShipment(ctx, "ord-1"); return err },
		"retry invoice":  func() error { _, err := svc.RetryInvoice(ctx, "ord-1"); return err },
	} {
		require.ErrorIs(t, op(), ErrTerminalStatus, name)
	}
}

func TestRetryShipmentRunsStep(t *testing.T) {
	o := testOrder()
	o.Status = order.StatusShipmentFailed
	repo := newMockOrderRepo(o)
	steps := &mockSteps{}
	svc := NewService(repo, steps, &mockRefunder{})

	_, err := svc.RetryShipment(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1"}, steps.provisioned)
}

func TestRetryInvoiceRunsStep(t *testing.T) {
	repo := newMockOrderRepo(testOrder())
	steps := &mockSteps{}
	svc := NewService(repo, steps, &mockRefunder{})

	_, err := svc.RetryInvoice(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1"}, steps.invoiced)
}
