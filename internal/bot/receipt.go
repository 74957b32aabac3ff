package bot

import (
	"context"
	"errors"

	"shop-order-bridge/internal/events"
	"shop-order-bridge/internal/format"
	"shop-order-bridge/internal/orders"
	"shop-order-bridge/internal/registry"
	"shop-order-bridge/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	ackNoRights        = "⛔ Нет прав"
	ackReceiptRequest  = "📸 Отправьте фото чека следующим сообщением"
	ackOrderNotFound   = "❌ Заказ не найден"
	ackOrderClosed     = "Заказ уже закрыт"
	ackAlreadyPaid     = "✅ Оплата уже подтверждена"
	ackConfirmed       = "✅ Оплата подтверждена!"
	ackRejected        = "❌ Чек отклонён. Клиент может отправить новый."
	ackAlreadyRejected = "Чек уже отклонён"
	ackProposalGone    = "Предложение уже неактуально"
	ackProposalOK      = "✅ Заказ подтверждён"
	ackOrderCancelled  = "❌ Заказ отменён"
	ackFailed          = "⚠️ Ошибка, попробуйте ещё раз"
)

// handlePhoto принимает фото как чек: сначала по ожиданию чата, затем по последнему
// неоплаченному заказу отправителя.
func (b *OrderBot) handlePhoto(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	fileID := m.Photo[len(m.Photo)-1].FileID

	orderID, taken, err := b.reg.TakeReceipt(ctx, chatID)
	if err != nil {
		b.log.Warn("не удалось прочитать ожидание чека", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if !taken {
		o, err := b.store.LatestPayableOrder(ctx, senderID(m))
		if errors.Is(err, store.ErrOrderNotFound) {
			b.reply(chatID, format.NoPayableOrder())
			return
		}
		if err != nil {
			b.log.Error("ошибка поиска заказа для чека", zap.Int64("chat_id", chatID), zap.Error(err))
			b.reply(chatID, format.SomethingWrong())
			return
		}
		orderID = o.ID
	}
	b.acceptReceipt(ctx, chatID, orderID, fileID, taken)
}

// acceptReceipt привязывает чек к заказу и пересылает его оператору.
// Если ожидание было забрано, а чек не дошёл до оператора, ожидание возвращается.
func (b *OrderBot) acceptReceipt(ctx context.Context, chatID int64, orderID, fileID string, taken bool) {
	log := b.log.With(zap.Int64("chat_id", chatID), zap.String("order_id", orderID))
	fail := func(msg string, err error) {
		log.Error(msg, zap.Error(err))
		if taken {
			b.rearmReceipt(ctx, chatID, orderID)
		}
		b.reply(chatID, format.SomethingWrong())
	}

	url, err := b.notify.FileURL(fileID)
	if err != nil {
		fail("не удалось получить ссылку на чек", err)
		return
	}

	o, err := b.store.AttachReceipt(ctx, orderID, url)
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		b.forwardLegacyReceipt(ctx, chatID, orderID, fileID, taken)
		return
	case errors.Is(err, store.ErrReceiptExists):
		b.reply(chatID, format.ReceiptAlreadyReceived(orders.ShortCode(orderID)))
		return
	case errors.Is(err, store.ErrAlreadyConfirmed):
		b.reply(chatID, format.PaymentAlreadyConfirmed(orders.ShortCode(orderID)))
		return
	case errors.Is(err, store.ErrIllegalTransition):
		b.reply(chatID, format.NoPayableOrder())
		return
	case err != nil:
		fail("не удалось сохранить чек", err)
		return
	}

	if err := b.notify.ReceiptForReview(fileID, format.ReceiptCaption(o, b.now()), o.ID); err != nil {
		// оператор не увидит чек: откатываем, чтобы клиент мог отправить его снова
		if _, rerr := b.store.RejectReceipt(ctx, o.ID); rerr != nil {
			log.Error("не удалось откатить чек", zap.Error(rerr))
		}
		fail("чек не отправлен оператору", err)
		return
	}
	if err := b.notify.ReceiptReceived(chatID); err != nil {
		log.Warn("клиент не получил подтверждение чека", zap.Error(err))
	}
	b.publish(ctx, events.ReceiptAttached, o)
	log.Info("чек получен")
}

// forwardLegacyReceipt - заказ не сохранён в базе, подпись строится по сводке из реестра.
func (b *OrderBot) forwardLegacyReceipt(ctx context.Context, chatID int64, orderID, fileID string, taken bool) {
	summary, ok, err := b.reg.OrderSummary(ctx, orderID)
	if err != nil {
		b.log.Warn("не удалось прочитать сводку заказа", zap.String("order_id", orderID), zap.Error(err))
	}
	if !ok {
		b.reply(chatID, format.NoPayableOrder())
		return
	}
	err = b.notify.ReceiptSummaryForReview(fileID, orderID, summary.CustomerUserID, summary.Total, summary.ShortCode, summary.CustomerName)
	if err != nil {
		b.log.Error("чек не отправлен оператору", zap.String("order_id", orderID), zap.Error(err))
		if taken {
			b.rearmReceipt(ctx, chatID, orderID)
		}
		b.reply(chatID, format.SomethingWrong())
		return
	}
	if err := b.notify.ReceiptReceived(chatID); err != nil {
		b.log.Warn("клиент не получил подтверждение чека", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *OrderBot) rearmReceipt(ctx context.Context, chatID int64, orderID string) {
	if err := b.reg.AwaitReceipt(ctx, chatID, orderID); err != nil {
		b.log.Error("не удалось вернуть ожидание чека", zap.Int64("chat_id", chatID), zap.String("order_id", orderID), zap.Error(err))
	}
}

// handleCallback отвечает на нажатие ровно один раз, что бы ни случилось дальше.
func (b *OrderBot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	ack := ""
	defer func() {
		if err := b.notify.AnswerCallback(q.ID, ack); err != nil {
			b.log.Warn("ошибка ответа на нажатие", zap.Error(err))
		}
	}()

	var userID int64
	if q.From != nil {
		userID = q.From.ID
	}
	chatID := userID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}

	cb := ParseCallback(q.Data)
	if cb.Kind.OperatorOnly() && !b.isOperator(userID) {
		b.log.Warn("действие оператора от другого пользователя", zap.Int64("user_id", userID), zap.String("data", q.Data))
		ack = ackNoRights
		return
	}

	switch cb.Kind {
	case CallbackReceipt:
		ack = b.requestReceipt(ctx, userID, chatID, cb.OrderID)
	case CallbackConfirmPayment:
		ack = b.confirmPayment(ctx, q, cb.OrderID)
	case CallbackRejectPayment:
		ack = b.rejectPayment(ctx, q, cb.OrderID)
	case CallbackAcceptProposal:
		ack = b.acceptProposal(ctx, userID, cb.OrderID)
	case CallbackCancelOrder:
		ack = b.cancelOrder(ctx, userID, cb.OrderID)
	default:
		b.log.Info("неизвестная кнопка", zap.String("data", q.Data))
	}
}

// requestReceipt включает ожидание чека. Заказ не меняется.
func (b *OrderBot) requestReceipt(ctx context.Context, userID, chatID int64, orderID string) string {
	o, err := b.store.GetOrder(ctx, orderID)
	switch {
	case err == nil:
		if o.TelegramUserID != 0 && o.TelegramUserID != userID && !b.isOperator(userID) {
			return ackNoRights
		}
		if o.PaymentConfirmedAt != nil {
			return ackAlreadyPaid
		}
		if o.Status.Terminal() {
			return ackOrderClosed
		}
	case !errors.Is(err, store.ErrOrderNotFound):
		b.log.Warn("ошибка чтения заказа", zap.String("order_id", orderID), zap.Error(err))
	}

	if err := b.reg.AwaitReceipt(ctx, chatID, orderID); err != nil {
		b.log.Error("не удалось включить ожидание чека", zap.String("order_id", orderID), zap.Error(err))
		return ackFailed
	}
	if err := b.notify.ReceiptRequest(chatID); err != nil {
		b.log.Warn("ошибка отправки запроса чека", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return ackReceiptRequest
}

func (b *OrderBot) confirmPayment(ctx context.Context, q *tgbotapi.CallbackQuery, orderID string) string {
	o, err := b.store.ConfirmPayment(ctx, orderID)
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		summary, ok := b.legacySummary(ctx, orderID)
		if !ok {
			return ackOrderNotFound
		}
		if err := b.notify.PaymentConfirmed(summary.CustomerUserID, summary.ShortCode); err != nil {
			b.log.Warn("клиент не уведомлён о подтверждении", zap.String("order_id", orderID), zap.Error(err))
		}
		b.markReviewed(q, format.ConfirmedMarker)
		b.forgetOrder(ctx, orderID)
		return ackConfirmed
	case errors.Is(err, store.ErrAlreadyConfirmed):
		b.markReviewed(q, format.ConfirmedMarker)
		return ackAlreadyPaid
	case errors.Is(err, store.ErrIllegalTransition):
		return ackOrderClosed
	case err != nil:
		b.log.Error("ошибка подтверждения оплаты", zap.String("order_id", orderID), zap.Error(err))
		return ackFailed
	}

	if err := b.notify.PaymentConfirmed(o.TelegramUserID, o.ShortCode()); err != nil {
		b.log.Warn("клиент не уведомлён о подтверждении", zap.String("order_id", orderID), zap.Error(err))
	}
	b.markReviewed(q, format.ConfirmedMarker)
	b.forgetOrder(ctx, orderID)
	b.publish(ctx, events.PaymentConfirmed, o)
	b.log.Info("оплата подтверждена", zap.String("order_id", orderID))
	return ackConfirmed
}

func (b *OrderBot) rejectPayment(ctx context.Context, q *tgbotapi.CallbackQuery, orderID string) string {
	o, err := b.store.RejectReceipt(ctx, orderID)
	var customer int64
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		summary, ok := b.legacySummary(ctx, orderID)
		if !ok {
			return ackOrderNotFound
		}
		customer = summary.CustomerUserID
	case errors.Is(err, store.ErrNoReceipt):
		b.markReviewed(q, format.RejectedMarker)
		return ackAlreadyRejected
	case errors.Is(err, store.ErrAlreadyConfirmed):
		return ackAlreadyPaid
	case errors.Is(err, store.ErrIllegalTransition):
		return ackOrderClosed
	case err != nil:
		b.log.Error("ошибка отклонения чека", zap.String("order_id", orderID), zap.Error(err))
		return ackFailed
	default:
		customer = o.TelegramUserID
		b.publish(ctx, events.PaymentRejected, o)
	}

	if customer != 0 {
		b.rearmReceipt(ctx, customer, orderID)
		if err := b.notify.ReceiptRejected(customer, orderID); err != nil {
			b.log.Warn("клиент не уведомлён об отклонении", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	b.markReviewed(q, format.RejectedMarker)
	b.log.Info("чек отклонён", zap.String("order_id", orderID))
	return ackRejected
}

func (b *OrderBot) acceptProposal(ctx context.Context, userID int64, orderID string) string {
	if ack, ok := b.checkOwner(ctx, userID, orderID); !ok {
		return ack
	}
	o, err := b.store.AcceptProposal(ctx, orderID)
	switch {
	case errors.Is(err, store.ErrNoProposal), errors.Is(err, store.ErrIllegalTransition):
		return ackProposalGone
	case err != nil:
		b.log.Error("ошибка принятия предложения", zap.String("order_id", orderID), zap.Error(err))
		return ackFailed
	}

	ps := b.paymentSettings(ctx)
	b.rememberOrder(ctx, o)
	if err := b.notify.ProposalAccepted(o, ps); err != nil {
		b.log.Warn("клиент не получил реквизиты", zap.String("order_id", orderID), zap.Error(err))
	}
	if err := b.notify.Operator(format.ProposalAcceptedOperator(o)); err != nil {
		b.log.Warn("оператор не уведомлён о принятии", zap.String("order_id", orderID), zap.Error(err))
	}
	b.publish(ctx, events.ProposalAccepted, o)
	return ackProposalOK
}

func (b *OrderBot) cancelOrder(ctx context.Context, userID int64, orderID string) string {
	if ack, ok := b.checkOwner(ctx, userID, orderID); !ok {
		return ack
	}
	o, err := b.store.CancelProposal(ctx, orderID)
	switch {
	case errors.Is(err, store.ErrNoProposal), errors.Is(err, store.ErrIllegalTransition):
		return ackProposalGone
	case err != nil:
		b.log.Error("ошибка отмены заказа", zap.String("order_id", orderID), zap.Error(err))
		return ackFailed
	}

	if err := b.notify.ProposalCancelled(o); err != nil {
		b.log.Warn("уведомление об отмене не доставлено", zap.String("order_id", orderID), zap.Error(err))
	}
	b.forgetOrder(ctx, orderID)
	b.publish(ctx, events.ProposalCancelled, o)
	return ackOrderCancelled
}

// checkOwner - на предложение отвечает только клиент заказа или оператор.
func (b *OrderBot) checkOwner(ctx context.Context, userID int64, orderID string) (string, bool) {
	o, err := b.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return ackOrderNotFound, false
	}
	if err != nil {
		b.log.Error("ошибка чтения заказа", zap.String("order_id", orderID), zap.Error(err))
		return ackFailed, false
	}
	if o.TelegramUserID != userID && !b.isOperator(userID) {
		return ackNoRights, false
	}
	return "", true
}

func (b *OrderBot) legacySummary(ctx context.Context, orderID string) (registry.Summary, bool) {
	summary, ok, err := b.reg.OrderSummary(ctx, orderID)
	if err != nil {
		b.log.Warn("не удалось прочитать сводку заказа", zap.String("order_id", orderID), zap.Error(err))
		return registry.Summary{}, false
	}
	return summary, ok && summary.CustomerUserID != 0
}

func (b *OrderBot) rememberOrder(ctx context.Context, o orders.Order) {
	s := registry.Summary{
		CustomerUserID: o.TelegramUserID,
		ShortCode:      o.ShortCode(),
		Total:          o.Total,
		CustomerName:   o.CustomerName,
	}
	if err := b.reg.RememberOrder(ctx, o.ID, s); err != nil {
		b.log.Warn("не удалось сохранить сводку заказа", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (b *OrderBot) forgetOrder(ctx context.Context, orderID string) {
	if err := b.reg.ForgetOrder(ctx, orderID); err != nil {
		b.log.Warn("не удалось удалить сводку заказа", zap.String("order_id", orderID), zap.Error(err))
	}
}

// markReviewed дописывает отметку к подписи чека у оператора.
func (b *OrderBot) markReviewed(q *tgbotapi.CallbackQuery, marker string) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	if err := b.notify.MarkCaption(q.Message.Chat.ID, q.Message.MessageID, q.Message.Caption, marker); err != nil {
		b.log.Warn("не удалось отметить чек", zap.Int("message_id", q.Message.MessageID), zap.Error(err))
	}
}

func (b *OrderBot) paymentSettings(ctx context.Context) orders.PaymentSettings {
	ps, err := b.store.PaymentSettings(ctx)
	if err != nil {
		b.log.Warn("не удалось прочитать настройки оплаты", zap.Error(err))
	}
	return ps
}
