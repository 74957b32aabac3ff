package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"shop-order-bridge/internal/orders"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedOrder(t *testing.T, s *Store, id string, userID int64, status orders.Status) orders.Order {
	t.Helper()
	o := orders.Order{
		ID:             id,
		CustomerName:   "Айгерим",
		CustomerPhone:  "+77001234567",
		TelegramUserID: userID,
		Items:          []orders.Item{{Name: "Наполеон", Price: 2500, Quantity: 2}},
		Total:          5000,
		Status:         status,
	}
	require.NoError(t, s.CreateOrder(context.Background(), &o))
	return o
}

func TestCreateAndGetOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedOrder(t, s, "1700000000000", 42, orders.StatusPendingPayment)

	got, err := s.GetOrder(ctx, "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Наполеон", got.Items[0].Name)

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	dup := orders.Order{ID: "1700000000000", CustomerName: "x", CustomerPhone: "y", Total: 1}
	assert.ErrorIs(t, s.CreateOrder(ctx, &dup), ErrDuplicateOrder)
}

func TestCreateOrderFillsDefaults(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	o := orders.Order{CustomerName: "a", CustomerPhone: "b", Total: 10}
	require.NoError(t, s.CreateOrder(context.Background(), &o))
	assert.Equal(t, "1700000000123", o.ID)
	assert.Equal(t, orders.StatusNew, o.Status)
}

func TestLatestPayableOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LatestPayableOrder(ctx, 42)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	seedOrder(t, s, "1", 42, orders.StatusNew)
	time.Sleep(5 * time.Millisecond)
	seedOrder(t, s, "2", 42, orders.StatusPendingPayment)
	time.Sleep(5 * time.Millisecond)
	seedOrder(t, s, "3", 42, orders.StatusCompleted)
	seedOrder(t, s, "4", 7, orders.StatusNew)

	got, err := s.LatestPayableOrder(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)
}

func TestReceiptLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedOrder(t, s, "1700000000000", 42, orders.StatusNew)

	o, err := s.AttachReceipt(ctx, "1700000000000", "https://files/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, o.Status)
	assert.Equal(t, "https://files/1.jpg", o.ReceiptPhoto)

	_, err = s.AttachReceipt(ctx, "1700000000000", "https://files/2.jpg")
	assert.ErrorIs(t, err, ErrReceiptExists)

	o, err = s.RejectReceipt(ctx, "1700000000000")
	require.NoError(t, err)
	assert.Empty(t, o.ReceiptPhoto)
	assert.Equal(t, orders.StatusPendingPayment, o.Status)

	_, err = s.RejectReceipt(ctx, "1700000000000")
	assert.ErrorIs(t, err, ErrNoReceipt)

	_, err = s.AttachReceipt(ctx, "1700000000000", "https://files/3.jpg")
	require.NoError(t, err)

	o, err = s.ConfirmPayment(ctx, "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.NotNil(t, o.PaymentConfirmedAt)

	_, err = s.ConfirmPayment(ctx, "1700000000000")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	_, err = s.RejectReceipt(ctx, "1700000000000")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	_, err = s.AttachReceipt(ctx, "1700000000000", "https://files/4.jpg")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)

	_, err = s.AttachReceipt(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestReceiptOnTerminalOrder(t *testing.T) {
	s := newTestStore(t)
	seedOrder(t, s, "1", 42, orders.StatusCancelled)

	_, err := s.AttachReceipt(context.Background(), "1", "x")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = s.ConfirmPayment(context.Background(), "1")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	o, err := s.GetOrder(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
}

func TestRejectReceiptOnClosedOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedOrder(t, s, "1700000000000", 42, orders.StatusNew)
	_, err := s.AttachReceipt(ctx, "1700000000000", "https://files/1.jpg")
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, "1700000000000", orders.StatusCancelled)
	require.NoError(t, err)

	_, err = s.RejectReceipt(ctx, "1700000000000")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	o, err := s.GetOrder(ctx, "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, "https://files/1.jpg", o.ReceiptPhoto)
}

func TestProposal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedOrder(t, s, "1", 42, orders.StatusNew)
	seedOrder(t, s, "2", 42, orders.StatusNew)

	_, err := s.AcceptProposal(ctx, "1")
	assert.ErrorIs(t, err, ErrNoProposal)

	o, err := s.SetProposal(ctx, "1", 6500)
	require.NoError(t, err)
	assert.Equal(t, orders.NegotiationProposed, o.NegotiationStatus)
	require.NotNil(t, o.NegotiatedPrice)
	assert.Equal(t, int64(6500), *o.NegotiatedPrice)

	o, err = s.AcceptProposal(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Equal(t, orders.NegotiationAccepted, o.NegotiationStatus)
	assert.Equal(t, int64(6500), o.Total)

	_, err = s.CancelProposal(ctx, "1")
	assert.ErrorIs(t, err, ErrNoProposal)

	// чек к заказу в работе не возвращает его в ожидание оплаты
	o, err = s.AttachReceipt(ctx, "1", "https://files/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)

	_, err = s.SetProposal(ctx, "2", 4000)
	require.NoError(t, err)
	o, err = s.CancelProposal(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.NegotiationRejected, o.NegotiationStatus)
	assert.Equal(t, int64(5000), o.Total)

	_, err = s.SetProposal(ctx, "2", 1)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedOrder(t, s, "1", 42, orders.StatusNew)

	testCases := []struct {
		testName string
		to       orders.Status
		wantErr  error
	}{
		{"Should move new to processing", orders.StatusProcessing, nil},
		{"Should accept repeated status", orders.StatusProcessing, nil},
		{"Should refuse going back to pending_payment", orders.StatusPendingPayment, ErrIllegalTransition},
		{"Should complete", orders.StatusCompleted, nil},
		{"Should refuse cancelling a completed order", orders.StatusCancelled, ErrIllegalTransition},
		{"Should refuse moving a completed order to new", orders.StatusNew, ErrIllegalTransition},
		{"Should refuse unknown status", orders.Status("paid"), ErrIllegalTransition},
	}

	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			_, err := s.UpdateStatus(ctx, "1", tc.to)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	o, err := s.GetOrder(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, o.Status)
}

func TestCustomerIDs(t *testing.T) {
	s := newTestStore(t)
	seedOrder(t, s, "1", 42, orders.StatusNew)
	seedOrder(t, s, "2", 42, orders.StatusCompleted)
	seedOrder(t, s, "3", 7, orders.StatusNew)
	seedOrder(t, s, "4", 0, orders.StatusNew)

	ids, err := s.CustomerIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, ids)
}

func TestPaymentSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ps, err := s.PaymentSettings(ctx)
	require.NoError(t, err)
	assert.False(t, ps.Enabled)

	require.NoError(t, s.PutSetting(ctx, SettingPaymentEnabled, "true"))
	require.NoError(t, s.PutSetting(ctx, SettingKaspiPhone, "7001234567"))
	require.NoError(t, s.PutSetting(ctx, SettingShopPhone, "+7 (777) 888-88-88"))

	ps, err = s.PaymentSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSettings{Enabled: true, KaspiPhone: "7001234567", ShopPhone: "+7 (777) 888-88-88"}, ps)
}

func TestListProducts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateProduct(ctx, &orders.Product{Name: "Наполеон", Price: 2500, Available: true}))

	list, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Наполеон", list[0].Name)
}
