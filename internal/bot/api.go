package bot

import (
	"context"
	"errors"
	"fmt"

	"shop-order-bridge/internal/events"
	"shop-order-bridge/internal/orders"

	"go.uber.org/zap"
)

// SubmitOrder сохраняет заказ и запускает уведомления. payment == nil - настройки оплаты
// читаются из базы. Если заказ сохранён, а оператор не уведомлён, возвращается
// ErrNotifyOperator: заказ при этом не откатывается.
func (b *OrderBot) SubmitOrder(ctx context.Context, o *orders.Order, payment *orders.PaymentSettings) error {
	ps := b.resolvePayment(ctx, payment)
	if o.ID == "" {
		o.ID = orders.NewID(b.now())
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = b.now()
	}
	switch {
	case ps.Enabled:
		o.Status = orders.StatusPendingPayment
	case o.Status == "":
		o.Status = orders.StatusNew
	}

	if err := b.store.CreateOrder(ctx, o); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	b.publish(ctx, events.OrderCreated, *o)
	return b.notifyNewOrder(ctx, *o, ps)
}

// SendOrder - те же уведомления для заказа, который уже сохранён витриной.
func (b *OrderBot) SendOrder(ctx context.Context, o orders.Order, payment *orders.PaymentSettings) error {
	if o.ID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	ps := b.resolvePayment(ctx, payment)
	if ps.Enabled {
		o.Status = orders.StatusPendingPayment
	}
	return b.notifyNewOrder(ctx, o, ps)
}

func (b *OrderBot) notifyNewOrder(ctx context.Context, o orders.Order, ps orders.PaymentSettings) error {
	awaiting := o.Status == orders.StatusPendingPayment
	operatorErr := b.notify.NewOrder(o, awaiting)

	if awaiting && o.TelegramUserID != 0 {
		// сводка пишется до запроса оплаты, чтобы чек не опередил её
		b.rememberOrder(ctx, o)
		if err := b.notify.PaymentRequest(o, ps); err != nil {
			b.log.Warn("клиент не получил реквизиты", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if operatorErr != nil {
		b.log.Error("оператор не уведомлён о заказе", zap.String("order_id", o.ID), zap.Error(operatorErr))
		return fmt.Errorf("%w: %v", ErrNotifyOperator, operatorErr)
	}
	b.log.Info("заказ отправлен", zap.String("order_id", o.ID), zap.Bool("awaiting_payment", awaiting))
	return nil
}

func (b *OrderBot) resolvePayment(ctx context.Context, payment *orders.PaymentSettings) orders.PaymentSettings {
	if payment != nil {
		return *payment
	}
	return b.paymentSettings(ctx)
}

// NotifyStatus отправляет клиенту шаблон статуса без изменения заказа.
func (b *OrderBot) NotifyStatus(ctx context.Context, userID int64, status orders.Status, orderNumber, shopPhone string) error {
	if userID == 0 {
		return ErrNoCustomerChat
	}
	return b.notify.StatusUpdate(userID, status, orderNumber, shopPhone)
}

// UpdateStatus переводит заказ в новый статус и сообщает клиенту, если для статуса есть шаблон.
func (b *OrderBot) UpdateStatus(ctx context.Context, orderID string, status orders.Status, shopPhone string) (orders.Order, error) {
	if !status.Valid() {
		return orders.Order{}, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	o, err := b.store.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return o, err
	}
	b.publish(ctx, events.StatusChanged, o)

	if o.TelegramUserID != 0 {
		err := b.notify.StatusUpdate(o.TelegramUserID, status, o.ShortCode(), shopPhone)
		if err != nil && !errors.Is(err, ErrUnknownStatus) {
			b.log.Warn("клиент не уведомлён о статусе", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return o, nil
}

// ConfirmOrder - разовое сообщение клиенту о принятии заказа, без смены состояния.
func (b *OrderBot) ConfirmOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := b.customerOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := b.notify.OrderConfirmed(o); err != nil {
		return o, fmt.Errorf("notify customer: %w", err)
	}
	return o, nil
}

// ProposeChanges сохраняет новую цену и отправляет клиенту предложение с кнопками.
func (b *OrderBot) ProposeChanges(ctx context.Context, orderID, comment string, price int64) (orders.Order, error) {
	if price <= 0 {
		return orders.Order{}, fmt.Errorf("%w: price must be positive", ErrInvalidRequest)
	}
	if _, err := b.customerOrder(ctx, orderID); err != nil {
		return orders.Order{}, err
	}
	o, err := b.store.SetProposal(ctx, orderID, price)
	if err != nil {
		return o, err
	}
	b.publish(ctx, events.ProposalSent, o)
	if err := b.notify.Proposal(o, comment, price, b.cfg.ContactURL); err != nil {
		return o, fmt.Errorf("notify customer: %w", err)
	}
	return o, nil
}

// RejectOrder - разовое сообщение клиенту об отказе, без смены состояния.
func (b *OrderBot) RejectOrder(ctx context.Context, orderID, reason string) (orders.Order, error) {
	o, err := b.customerOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := b.notify.OrderRejected(o, reason); err != nil {
		return o, fmt.Errorf("notify customer: %w", err)
	}
	return o, nil
}

func (b *OrderBot) customerOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := b.store.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if o.TelegramUserID == 0 {
		return o, fmt.Errorf("%w: %s", ErrNoCustomerChat, orderID)
	}
	return o, nil
}

func (b *OrderBot) SetupWebhook(url string) error {
	if url == "" {
		return fmt.Errorf("%w: webhook url is required", ErrInvalidRequest)
	}
	return b.notify.SetWebhook(url)
}
