package bot

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shop-order-bridge/internal/events"
	"shop-order-bridge/internal/format"
	"shop-order-bridge/internal/jobs"
	"shop-order-bridge/internal/notifier"
	"shop-order-bridge/internal/notifier/notifiertest"
	"shop-order-bridge/internal/orders"
	"shop-order-bridge/internal/registry"
	"shop-order-bridge/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operatorID int64 = 1000
	customerID int64 = 42
	orderID          = "1700000000000"
)

var fixedNow = time.Date(2023, 11, 15, 9, 0, 0, 0, time.UTC)

type harness struct {
	bot    *OrderBot
	store  *store.Store
	reg    *registry.Registry
	tg     *notifiertest.Transport
	events *events.Recorder
	update int32
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st, err := store.OpenInMemory(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:  st,
		reg:    registry.New(registry.NewMemory()),
		tg:     notifiertest.New(),
		events: &events.Recorder{},
	}
	cfg := Config{
		OperatorID: operatorID,
		ShopURL:    "https://shop.example",
		AdminURL:   "https://shop.example/admin",
		ContactURL: "tg://user?id=1000",
	}
	opts = append([]Option{WithEvents(h.events), WithClock(func() time.Time { return fixedNow })}, opts...)
	h.bot = New(cfg, st, h.reg, notifier.New(h.tg, operatorID, nil), opts...)
	return h
}

func (h *harness) nextUpdate() int { return int(atomic.AddInt32(&h.update, 1)) }

func (h *harness) text(from int64, text string) {
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: h.nextUpdate(),
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: from, FirstName: "Айгерим"},
			Chat:      &tgbotapi.Chat{ID: from},
			Text:      text,
		},
	})
}

func (h *harness) photo(from int64, fileID string) {
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: h.nextUpdate(),
		Message: &tgbotapi.Message{
			MessageID: 2,
			From:      &tgbotapi.User{ID: from},
			Chat:      &tgbotapi.Chat{ID: from},
			Photo:     []tgbotapi.PhotoSize{{FileID: fileID + "-small"}, {FileID: fileID}},
		},
	})
}

func (h *harness) press(from int64, data string) {
	h.pressOn(from, data, "📸 ЧЕК ОПЛАТЫ")
}

// pressOn нажимает кнопку под сообщением с подписью caption.
func (h *harness) pressOn(from int64, data, caption string) {
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: h.nextUpdate(),
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-" + data,
			From: &tgbotapi.User{ID: from},
			Message: &tgbotapi.Message{
				MessageID: 7,
				Chat:      &tgbotapi.Chat{ID: from},
				Caption:   caption,
			},
			Data: data,
		},
	})
}

func (h *harness) lastAck(t *testing.T) string {
	t.Helper()
	cbs := h.tg.Callbacks()
	require.NotEmpty(t, cbs)
	return cbs[len(cbs)-1].Text
}

func (h *harness) operatorPhotos() []notifiertest.Sent {
	var out []notifiertest.Sent
	for _, s := range h.tg.SentTo(operatorID) {
		if s.Photo != "" {
			out = append(out, s)
		}
	}
	return out
}

func (h *harness) submit(t *testing.T, id string, paymentEnabled bool) orders.Order {
	t.Helper()
	o := orders.Order{
		ID:             id,
		CustomerName:   "Айгерим",
		CustomerPhone:  "+77001234567",
		TelegramUserID: customerID,
		Items:          []orders.Item{{Name: "Наполеон", Price: 2500, Quantity: 2}},
		Total:          5000,
	}
	ps := orders.PaymentSettings{Enabled: paymentEnabled, KaspiPhone: "7001234567"}
	require.NoError(t, h.bot.SubmitOrder(context.Background(), &o, &ps))
	return o
}

func TestReceiptRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.submit(t, orderID, true)
	assert.True(t, h.tg.Contains(operatorID, "000000"))
	assert.True(t, h.tg.Contains(operatorID, "5000"))
	request, ok := h.tg.Last(customerID)
	require.True(t, ok)
	assert.Contains(t, request.CallbackData(), "receipt_1700000000000")

	h.press(customerID, "receipt_1700000000000")
	pending, ok, err := h.reg.AwaitingReceipt(ctx, customerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orderID, pending)
	assert.True(t, h.tg.Contains(customerID, "Отправьте фото чека"))

	h.photo(customerID, "receipt-photo")
	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
	assert.Equal(t, "https://files.example/receipt-photo", got.ReceiptPhoto)
	_, ok, err = h.reg.AwaitingReceipt(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, h.tg.Contains(customerID, "Чек получен"))

	photos := h.operatorPhotos()
	require.Len(t, photos, 1)
	assert.Equal(t, "receipt-photo", photos[0].Photo)
	assert.Equal(t, []string{"confirm_payment_1700000000000", "reject_payment_1700000000000"}, photos[0].CallbackData())
	assert.Contains(t, photos[0].Text, "Заказ #000000")

	h.press(operatorID, "confirm_payment_1700000000000")
	got, err = h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	assert.NotNil(t, got.PaymentConfirmedAt)
	assert.True(t, h.tg.Contains(customerID, "Оплата подтверждена"))
	assert.Equal(t, ackConfirmed, h.lastAck(t))

	edits := h.tg.Edits()
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Caption, format.ConfirmedMarker)
	assert.Equal(t, 7, edits[0].MessageID)

	_, ok, err = h.reg.OrderSummary(ctx, orderID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []events.Type{events.OrderCreated, events.ReceiptAttached, events.PaymentConfirmed}, h.events.Types())
}

func TestRejectedReceiptCanBeResubmitted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")
	h.photo(customerID, "blurry")

	h.press(operatorID, "reject_payment_1700000000000")
	assert.Equal(t, ackRejected, h.lastAck(t))

	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, got.ReceiptPhoto)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)

	pending, ok, err := h.reg.AwaitingReceipt(ctx, customerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orderID, pending)

	retry, ok := h.tg.Last(customerID)
	require.True(t, ok)
	assert.Contains(t, retry.Text, "Чек не принят")
	assert.Equal(t, []string{"receipt_1700000000000"}, retry.CallbackData())
	require.Len(t, h.tg.Edits(), 1)
	assert.Contains(t, h.tg.Edits()[0].Caption, format.RejectedMarker)

	h.photo(customerID, "sharp")
	got, err = h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/sharp", got.ReceiptPhoto)
	assert.Len(t, h.operatorPhotos(), 2)

	_, ok, err = h.reg.AwaitingReceipt(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, ok)

	h.press(operatorID, "reject_payment_1700000000000")
	h.press(operatorID, "reject_payment_1700000000000")
	assert.Equal(t, ackAlreadyRejected, h.lastAck(t))
}

func TestRejectOnClosedOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")
	h.photo(customerID, "receipt-photo")
	_, err := h.bot.UpdateStatus(ctx, orderID, orders.StatusCancelled, "")
	require.NoError(t, err)
	sent := len(h.tg.SentTo(customerID))

	h.press(operatorID, "reject_payment_1700000000000")
	assert.Equal(t, ackOrderClosed, h.lastAck(t))

	_, ok, err := h.reg.AwaitingReceipt(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, h.tg.SentTo(customerID), sent)
	assert.Empty(t, h.tg.Edits())

	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, "https://files.example/receipt-photo", got.ReceiptPhoto)
}

func TestRepeatedReviewKeepsSingleMarker(t *testing.T) {
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")
	h.photo(customerID, "receipt-photo")

	h.press(operatorID, "confirm_payment_1700000000000")
	require.Len(t, h.tg.Edits(), 1)

	h.pressOn(operatorID, "confirm_payment_1700000000000", "📸 ЧЕК ОПЛАТЫ\n\n✅ ОПЛАТА ПОДТВЕРЖДЕНА")
	assert.Equal(t, ackAlreadyPaid, h.lastAck(t))
	assert.Len(t, h.tg.Edits(), 1)
}

func TestCancelDropsPendingReceipt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")

	h.text(customerID, "/cancel")
	_, ok, err := h.reg.AwaitingReceipt(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, h.tg.Contains(customerID, "Действие отменено"))
}

func TestPhotoWithoutPayableOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)
	_, err := h.store.UpdateStatus(ctx, orderID, orders.StatusCancelled)
	require.NoError(t, err)

	h.photo(77, "stray")
	h.photo(customerID, "late")

	assert.True(t, h.tg.Contains(77, "Не нашли заказ"))
	assert.True(t, h.tg.Contains(customerID, "Не нашли заказ"))
	assert.Empty(t, h.operatorPhotos())
	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, got.ReceiptPhoto)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

func TestPhotoFallsBackToLatestPayableOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)

	h.photo(customerID, "no-button")

	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/no-button", got.ReceiptPhoto)
	require.Len(t, h.operatorPhotos(), 1)

	h.photo(customerID, "again")
	assert.True(t, h.tg.Contains(customerID, "уже на проверке"))
	assert.Len(t, h.operatorPhotos(), 1)
}

func TestConcurrentPhotosHaveSingleWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")

	var wg sync.WaitGroup
	for _, id := range []string{"first", "second"} {
		wg.Add(1)
		go func(fileID string) {
			defer wg.Done()
			h.photo(customerID, fileID)
		}(id)
	}
	wg.Wait()

	assert.Len(t, h.operatorPhotos(), 1)
	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ReceiptPhoto)

	var received, duplicate int
	for _, s := range h.tg.SentTo(customerID) {
		switch {
		case strings.Contains(s.Text, "Чек получен"):
			received++
		case strings.Contains(s.Text, "уже на проверке"):
			duplicate++
		}
	}
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, duplicate)
}

func TestCallbacksAreAlwaysAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")
	h.photo(customerID, "receipt")

	testCases := []struct {
		testName string
		from     int64
		data     string
		ack      string
	}{
		{testName: "Should confirm payment", from: operatorID, data: "confirm_payment_1700000000000", ack: ackConfirmed},
		{testName: "Should report repeated confirmation", from: operatorID, data: "confirm_payment_1700000000000", ack: ackAlreadyPaid},
		{testName: "Should refuse reject after confirmation", from: operatorID, data: "reject_payment_1700000000000", ack: ackAlreadyPaid},
		{testName: "Should report unknown order", from: operatorID, data: "confirm_payment_missing", ack: ackOrderNotFound},
		{testName: "Should ignore unknown button", from: customerID, data: "bogus", ack: ""},
		{testName: "Should ignore empty order id", from: customerID, data: "receipt_", ack: ""},
		{testName: "Should refuse receipt for paid order", from: customerID, data: "receipt_1700000000000", ack: ackAlreadyPaid},
	}
	for i, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			h.press(tc.from, tc.data)
			require.Len(t, h.tg.Callbacks(), i+2)
			assert.Equal(t, tc.ack, h.lastAck(t))
		})
	}

	var confirmations int
	for _, s := range h.tg.SentTo(customerID) {
		if strings.Contains(s.Text, "Оплата подтверждена") {
			confirmations++
		}
	}
	assert.Equal(t, 1, confirmations)
}

func TestOperatorCallbacksRefusedForCustomers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, orderID, true)
	h.press(customerID, "receipt_1700000000000")
	h.photo(customerID, "receipt")

	for _, data := range []string{"confirm_payment_1700000000000", "reject_payment_1700000000000"} {
		h.press(customerID, data)
		assert.Equal(t, ackNoRights, h.lastAck(t))
	}

	got, err := h.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Nil(t, got.PaymentConfirmedAt)
	assert.NotEmpty(t, got.ReceiptPhoto)
	assert.Empty(t, h.tg.Edits())
}

func TestDuplicateUpdateIsIgnored(t *testing.T) {
	h := newHarness(t)
	u := tgbotapi.Update{
		UpdateID: 500,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: customerID},
			Chat: &tgbotapi.Chat{ID: customerID},
			Text: "/help",
		},
	}
	h.bot.HandleUpdate(context.Background(), u)
	h.bot.HandleUpdate(context.Background(), u)

	assert.Len(t, h.tg.SentTo(customerID), 1)
}

func TestHandleUpdateRecoversPanics(t *testing.T) {
	tg := notifiertest.New()
	b := New(Config{OperatorID: operatorID}, nil, registry.New(registry.NewMemory()), notifier.New(tg, operatorID, nil))

	assert.NotPanics(t, func() {
		b.HandleUpdate(context.Background(), tgbotapi.Update{
			UpdateID: 1,
			Message: &tgbotapi.Message{
				Chat:  &tgbotapi.Chat{ID: customerID},
				Photo: []tgbotapi.PhotoSize{{FileID: "x"}},
			},
		})
	})
}

func TestTextRouting(t *testing.T) {
	testCases := []struct {
		testName string
		from     int64
		text     string
		contains string
	}{
		{testName: "Should greet on start", from: customerID, text: "/start", contains: "Добро пожаловать"},
		{testName: "Should show help", from: customerID, text: "/help", contains: "/contact"},
		{testName: "Should show operator help", from: operatorID, text: "/help", contains: "/broadcast"},
		{testName: "Should show contacts", from: customerID, text: "/contact", contains: "Наши контакты"},
		{testName: "Should cancel", from: customerID, text: "/cancel", contains: "Действие отменено"},
		{testName: "Should show stats to operator", from: operatorID, text: "/stats", contains: "Общая выручка"},
		{testName: "Should show detailed stats to operator", from: operatorID, text: "/detailed_stats", contains: "Нет данных"},
		{testName: "Should show customers to operator", from: operatorID, text: "/customers", contains: "База клиентов пуста"},
		{testName: "Should show broadcast usage", from: operatorID, text: "/broadcast", contains: "Как сделать рассылку"},
		{testName: "Should hide stats from customers", from: customerID, text: "/stats", contains: "бот-помощник"},
		{testName: "Should hide broadcast from customers", from: customerID, text: "/broadcast Скидки", contains: "бот-помощник"},
		{testName: "Should ignore broadcast button from customers", from: customerID, text: format.BroadcastButton, contains: "бот-помощник"},
		{testName: "Should answer free text", from: customerID, text: "Здравствуйте", contains: "бот-помощник"},
	}
	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			h := newHarness(t)
			h.text(tc.from, tc.text)
			last, ok := h.tg.Last(tc.from)
			require.True(t, ok)
			assert.Contains(t, last.Text, tc.contains)
		})
	}
}

func TestStartForOperatorAddsPanel(t *testing.T) {
	h := newHarness(t)
	h.text(operatorID, "/start")

	sent := h.tg.SentTo(operatorID)
	require.Len(t, sent, 2)
	shop, ok := sent[0].Markup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, shop.InlineKeyboard, 2)
	_, ok = sent[1].Markup.(tgbotapi.ReplyKeyboardMarkup)
	assert.True(t, ok)

	h.text(customerID, "/start")
	assert.Len(t, h.tg.SentTo(customerID), 1)
}

func seedCustomers(t *testing.T, h *harness, ids ...int64) {
	t.Helper()
	for i, id := range ids {
		o := orders.Order{ID: orders.NewID(fixedNow.Add(time.Duration(i) * time.Millisecond)), CustomerName: "c", TelegramUserID: id, Total: 100}
		require.NoError(t, h.store.CreateOrder(context.Background(), &o))
	}
}

func TestBroadcastViaButton(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedCustomers(t, h, 1, 2, 3, 4, 5)
	h.tg.FailFor(2, 4)

	h.text(operatorID, format.BroadcastButton)
	assert.True(t, h.tg.Contains(operatorID, "Создание рассылки"))
	armed, err := h.reg.AwaitingBroadcast(ctx, operatorID)
	require.NoError(t, err)
	assert.True(t, armed)

	h.text(operatorID, "🎉 Скидка 20%")

	for _, id := range []int64{1, 3, 5} {
		assert.True(t, h.tg.Contains(id, "Скидка 20%"), "chat %d", id)
	}
	report, ok := h.tg.Last(operatorID)
	require.True(t, ok)
	assert.Contains(t, report.Text, "Всего клиентов: 5")
	assert.Contains(t, report.Text, "Успешно отправлено: 3")
	assert.Contains(t, report.Text, "Ошибок: 2")

	armed, err = h.reg.AwaitingBroadcast(ctx, operatorID)
	require.NoError(t, err)
	assert.False(t, armed)

	h.text(operatorID, "обычный текст")
	last, _ := h.tg.Last(operatorID)
	assert.Contains(t, last.Text, "бот-помощник")
}

func TestBroadcastCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedCustomers(t, h, 1)

	h.text(operatorID, format.BroadcastButton)
	h.text(operatorID, "/cancel")
	armed, err := h.reg.AwaitingBroadcast(ctx, operatorID)
	require.NoError(t, err)
	assert.False(t, armed)

	h.text(operatorID, "не рассылка")
	assert.Empty(t, h.tg.SentTo(1))
}

func TestBroadcastCommandOnQueue(t *testing.T) {
	q := jobs.New(context.Background(), 4, 1)
	h := newHarness(t, WithRunner(q.Enqueue))
	seedCustomers(t, h, 1, 2)

	h.text(operatorID, "/broadcast Новинка недели")
	q.Shutdown()

	assert.True(t, h.tg.Contains(1, "Новинка недели"))
	assert.True(t, h.tg.Contains(2, "Новинка недели"))
	assert.True(t, h.tg.Contains(operatorID, "Начинаю рассылку"))
	assert.True(t, h.tg.Contains(operatorID, "Успешно отправлено: 2"))
}

func TestBroadcastWithoutRecipients(t *testing.T) {
	h := newHarness(t)
	h.text(operatorID, "/broadcast привет")
	assert.True(t, h.tg.Contains(operatorID, "Нет клиентов"))
}

func TestBroadcastRunnerFailure(t *testing.T) {
	h := newHarness(t, WithRunner(func(jobs.Job) error { return jobs.ErrQueueFull }))
	seedCustomers(t, h, 1)

	h.text(operatorID, "/broadcast привет")
	assert.True(t, h.tg.Contains(operatorID, "Ошибка рассылки"))
	assert.Empty(t, h.tg.SentTo(1))
}

func TestUpdateLogEvictsOldest(t *testing.T) {
	l := newUpdateLog(2)
	assert.False(t, l.check(1))
	assert.False(t, l.check(2))
	assert.True(t, l.check(1))
	assert.False(t, l.check(3))
	assert.False(t, l.check(1))
	assert.True(t, l.check(3))
}

func TestParseCallback(t *testing.T) {
	testCases := []struct {
		testName string
		data     string
		expected Callback
	}{
		{testName: "Should parse receipt", data: "receipt_1700000000000", expected: Callback{Kind: CallbackReceipt, OrderID: orderID}},
		{testName: "Should parse confirm", data: "confirm_payment_1", expected: Callback{Kind: CallbackConfirmPayment, OrderID: "1"}},
		{testName: "Should parse reject", data: "reject_payment_1", expected: Callback{Kind: CallbackRejectPayment, OrderID: "1"}},
		{testName: "Should parse accept", data: "accept_proposal_1", expected: Callback{Kind: CallbackAcceptProposal, OrderID: "1"}},
		{testName: "Should parse cancel", data: "cancel_order_1", expected: Callback{Kind: CallbackCancelOrder, OrderID: "1"}},
		{testName: "Should reject empty id", data: "confirm_payment_", expected: Callback{Kind: CallbackUnknown}},
		{testName: "Should reject garbage", data: "hello", expected: Callback{Kind: CallbackUnknown}},
	}
	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseCallback(tc.data))
		})
	}
	assert.True(t, CallbackConfirmPayment.OperatorOnly())
	assert.False(t, CallbackReceipt.OperatorOnly())
}
