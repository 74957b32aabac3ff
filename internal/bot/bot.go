package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"shop-order-bridge/internal/events"
	"shop-order-bridge/internal/jobs"
	"shop-order-bridge/internal/notifier"
	"shop-order-bridge/internal/orders"
	"shop-order-bridge/internal/registry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	ErrUnknownStatus  = notifier.ErrUnknownStatus
	ErrNoCustomerChat = errors.New("order has no customer chat")
	ErrNotifyOperator = errors.New("operator was not notified")
	ErrInvalidRequest = errors.New("invalid request")
)

// Store - операции с заказами, которые нужны боту.
type Store interface {
	CreateOrder(ctx context.Context, o *orders.Order) error
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	LatestPayableOrder(ctx context.Context, userID int64) (orders.Order, error)
	AttachReceipt(ctx context.Context, id, photoURL string) (orders.Order, error)
	ConfirmPayment(ctx context.Context, id string) (orders.Order, error)
	RejectReceipt(ctx context.Context, id string) (orders.Order, error)
	SetProposal(ctx context.Context, id string, price int64) (orders.Order, error)
	AcceptProposal(ctx context.Context, id string) (orders.Order, error)
	CancelProposal(ctx context.Context, id string) (orders.Order, error)
	UpdateStatus(ctx context.Context, id string, to orders.Status) (orders.Order, error)
	CustomerIDs(ctx context.Context) ([]int64, error)
	ListOrders(ctx context.Context) ([]orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
	PaymentSettings(ctx context.Context) (orders.PaymentSettings, error)
}

type Config struct {
	OperatorID     int64
	ShopURL        string
	AdminURL       string
	ContactURL     string
	BroadcastDelay time.Duration
}

// Runner запускает долгие задания (рассылку) вне обработки webhook.
type Runner func(job jobs.Job) error

type Option func(*OrderBot)

func WithEvents(p events.Publisher) Option { return func(b *OrderBot) { b.events = p } }

func WithRunner(r Runner) Option { return func(b *OrderBot) { b.run = r } }

func WithLogger(l *zap.Logger) Option { return func(b *OrderBot) { b.log = l } }

func WithClock(now func() time.Time) Option { return func(b *OrderBot) { b.now = now } }

type OrderBot struct {
	cfg    Config
	store  Store
	reg    *registry.Registry
	notify *notifier.Notifier
	events events.Publisher
	run    Runner
	log    *zap.Logger
	now    func() time.Time
	seen   *updateLog
}

func New(cfg Config, store Store, reg *registry.Registry, n *notifier.Notifier, opts ...Option) *OrderBot {
	b := &OrderBot{
		cfg:    cfg,
		store:  store,
		reg:    reg,
		notify: n,
		events: events.Nop{},
		log:    zap.NewNop(),
		now:    time.Now,
		seen:   newUpdateLog(1024),
	}
	b.run = func(job jobs.Job) error {
		job(context.Background())
		return nil
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// isOperator - единственная проверка прав во всём боте.
func (b *OrderBot) isOperator(userID int64) bool {
	return b.cfg.OperatorID != 0 && userID == b.cfg.OperatorID
}

// HandleUpdate обрабатывает одно входящее обновление. Ошибки и паники только логируются:
// Telegram должен получить ответ "ok" в любом случае.
func (b *OrderBot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("паника при обработке обновления", zap.Int("update_id", u.UpdateID), zap.Any("panic", r))
		}
	}()

	if u.UpdateID != 0 && b.seen.check(u.UpdateID) {
		b.log.Info("повторное обновление пропущено", zap.Int("update_id", u.UpdateID))
		return
	}

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

// Poll читает обновления long polling и обрабатывает их по одному.
func (b *OrderBot) Poll(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

func (b *OrderBot) publish(ctx context.Context, t events.Type, o orders.Order) {
	e := events.OrderEvent{
		Type:           t,
		OrderID:        o.ID,
		Status:         string(o.Status),
		CustomerUserID: o.TelegramUserID,
		Total:          o.Total,
		At:             b.now().UTC(),
	}
	if err := b.events.Publish(ctx, e); err != nil {
		b.log.Warn("событие не опубликовано", zap.String("type", string(t)), zap.String("order_id", o.ID), zap.Error(err))
	}
}

// updateLog помнит последние update_id, чтобы повторная доставка не обрабатывалась дважды.
type updateLog struct {
	mu   sync.Mutex
	ids  map[int]struct{}
	ring []int
	next int
}

func newUpdateLog(size int) *updateLog {
	return &updateLog{ids: make(map[int]struct{}, size), ring: make([]int, 0, size)}
}

// check возвращает true, если id уже встречался, иначе запоминает его.
func (l *updateLog) check(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return true
	}
	if len(l.ring) < cap(l.ring) {
		l.ring = append(l.ring, id)
	} else {
		delete(l.ids, l.ring[l.next])
		l.ring[l.next] = id
		l.next = (l.next + 1) % len(l.ring)
	}
	l.ids[id] = struct{}{}
	return false
}
