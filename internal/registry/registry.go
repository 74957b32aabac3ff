package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind разделяет записи по смыслу, чтобы ключи разных видов не пересекались.
type Kind int

const (
	OrderSummary Kind = iota + 1
	AwaitingReceipt
	AwaitingBroadcast
)

func (k Kind) prefix() string {
	switch k {
	case OrderSummary:
		return "order"
	case AwaitingReceipt:
		return "awaiting-receipt"
	case AwaitingBroadcast:
		return "awaiting-broadcast"
	}
	return "unknown"
}

type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string { return k.Kind.prefix() + ":" + k.ID }

func OrderKey(orderID string) Key { return Key{Kind: OrderSummary, ID: orderID} }

func ReceiptKey(chatID int64) Key {
	return Key{Kind: AwaitingReceipt, ID: strconv.FormatInt(chatID, 10)}
}

func BroadcastKey(chatID int64) Key {
	return Key{Kind: AwaitingBroadcast, ID: strconv.FormatInt(chatID, 10)}
}

// Store - низкоуровневое хранилище состояний диалога.
// Take обязан быть атомарным: из двух конкурентных вызовов значение получает только один.
type Store interface {
	Set(ctx context.Context, key Key, value string) error
	Get(ctx context.Context, key Key) (string, bool, error)
	Has(ctx context.Context, key Key) (bool, error)
	Delete(ctx context.Context, key Key) error
	Take(ctx context.Context, key Key) (string, bool, error)
}

// Summary кэширует данные заказа, чтобы подписать чек без запроса к базе.
type Summary struct {
	CustomerUserID int64  `json:"customerUserId"`
	ShortCode      string `json:"shortCode"`
	Total          int64  `json:"total"`
	CustomerName   string `json:"customerName"`
}

// Registry - типизированная обёртка над Store.
// Записи не имеют срока жизни: незавершённый диалог держит запись до рестарта.
type Registry struct {
	store Store
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) RememberOrder(ctx context.Context, orderID string, s Summary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return r.store.Set(ctx, OrderKey(orderID), string(raw))
}

func (r *Registry) OrderSummary(ctx context.Context, orderID string) (Summary, bool, error) {
	raw, ok, err := r.store.Get(ctx, OrderKey(orderID))
	if err != nil || !ok {
		return Summary{}, ok, err
	}
	var s Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Summary{}, false, fmt.Errorf("unmarshal summary %s: %w", orderID, err)
	}
	return s, true, nil
}

func (r *Registry) ForgetOrder(ctx context.Context, orderID string) error {
	return r.store.Delete(ctx, OrderKey(orderID))
}

// AwaitReceipt перезаписывает ожидание: у чата всегда не больше одного заказа в ожидании чека.
func (r *Registry) AwaitReceipt(ctx context.Context, chatID int64, orderID string) error {
	if orderID == "" {
		return errors.New("empty order id")
	}
	return r.store.Set(ctx, ReceiptKey(chatID), orderID)
}

func (r *Registry) AwaitingReceipt(ctx context.Context, chatID int64) (string, bool, error) {
	return r.store.Get(ctx, ReceiptKey(chatID))
}

// TakeReceipt забирает ожидание чека и удаляет его за одну операцию.
func (r *Registry) TakeReceipt(ctx context.Context, chatID int64) (string, bool, error) {
	return r.store.Take(ctx, ReceiptKey(chatID))
}

func (r *Registry) AwaitBroadcast(ctx context.Context, chatID int64) error {
	return r.store.Set(ctx, BroadcastKey(chatID), "1")
}

func (r *Registry) AwaitingBroadcast(ctx context.Context, chatID int64) (bool, error) {
	return r.store.Has(ctx, BroadcastKey(chatID))
}

func (r *Registry) TakeBroadcast(ctx context.Context, chatID int64) (bool, error) {
	_, ok, err := r.store.Take(ctx, BroadcastKey(chatID))
	return ok, err
}
