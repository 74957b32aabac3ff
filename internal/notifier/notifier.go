package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-order-bridge/internal/format"
	"shop-order-bridge/internal/orders"
	"shop-order-bridge/internal/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	ErrNoOperator    = errors.New("operator chat id is not configured")
	ErrUnknownStatus = errors.New("unknown status")
)

// Transport - операции Bot API, через которые идут все исходящие сообщения.
// *tgbotapi.BotAPI удовлетворяет интерфейсу.
type Transport interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Notifier только отправляет. Обязательна ли доставка, решает вызывающий код:
// ошибка всегда возвращается, а глотать её или нет - его выбор.
type Notifier struct {
	tg         Transport
	operatorID int64
	log        *zap.Logger
}

func New(tg Transport, operatorID int64, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{tg: tg, operatorID: operatorID, log: log}
}

func (n *Notifier) OperatorID() int64 { return n.operatorID }

func (n *Notifier) Text(chatID int64, text string) error {
	return n.send(chatID, text, nil)
}

func (n *Notifier) TextWithMarkup(chatID int64, text string, markup interface{}) error {
	return n.send(chatID, text, markup)
}

func (n *Notifier) Operator(text string) error {
	if n.operatorID == 0 {
		return ErrNoOperator
	}
	return n.send(n.operatorID, text, nil)
}

// NewOrder уведомляет оператора о заказе. Для создания заказа это обязательная доставка.
func (n *Notifier) NewOrder(o orders.Order, awaitingPayment bool) error {
	if err := n.Operator(format.NewOrder(o, awaitingPayment)); err != nil {
		return fmt.Errorf("notify operator about order %s: %w", o.ID, err)
	}
	return nil
}

func (n *Notifier) PaymentRequest(o orders.Order, ps orders.PaymentSettings) error {
	return n.send(o.TelegramUserID, format.PaymentRequest(o, ps), format.PaymentKeyboard(o.ID, ps.KaspiLink))
}

// StatusUpdate отправляет клиенту шаблон смены статуса. Для статуса без шаблона - ErrUnknownStatus.
func (n *Notifier) StatusUpdate(chatID int64, status orders.Status, orderNumber, shopPhone string) error {
	text, ok := format.StatusMessage(status, orderNumber, shopPhone)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return n.Text(chatID, text)
}

func (n *Notifier) ReceiptRequest(chatID int64) error {
	return n.Text(chatID, format.ReceiptRequest())
}

func (n *Notifier) ReceiptReceived(chatID int64) error {
	return n.Text(chatID, format.ReceiptReceived())
}

// ReceiptForReview пересылает фото чека оператору с кнопками подтверждения и отклонения.
func (n *Notifier) ReceiptForReview(fileID, caption, orderID string) error {
	if n.operatorID == 0 {
		return ErrNoOperator
	}
	photo := tgbotapi.NewPhoto(n.operatorID, tgbotapi.FileID(fileID))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyMarkup = format.ReviewKeyboard(orderID)
	if _, err := n.tg.Send(photo); err != nil {
		return fmt.Errorf("send receipt %s to operator: %w", orderID, err)
	}
	return nil
}

// ReceiptSummaryForReview - то же, но подпись строится по сводке заказа, которого нет в базе.
func (n *Notifier) ReceiptSummaryForReview(fileID, orderID string, customerUserID, total int64, shortCode, customerName string) error {
	return n.ReceiptForReview(fileID, format.ReceiptSummaryCaption(shortCode, customerName, total, customerUserID), orderID)
}

func (n *Notifier) PaymentConfirmed(chatID int64, shortCode string) error {
	return n.Text(chatID, format.PaymentConfirmed(shortCode))
}

func (n *Notifier) ReceiptRejected(chatID int64, orderID string) error {
	return n.send(chatID, format.ReceiptRejected(orders.ShortCode(orderID)), format.RetryKeyboard(orderID))
}

func (n *Notifier) Proposal(o orders.Order, comment string, price int64, contactURL string) error {
	return n.send(o.TelegramUserID, format.Proposal(o, comment, price), format.ProposalKeyboard(o.ID, contactURL))
}

// ProposalAccepted благодарит клиента и сразу предлагает кнопку подтверждения оплаты.
func (n *Notifier) ProposalAccepted(o orders.Order, ps orders.PaymentSettings) error {
	return n.send(o.TelegramUserID, format.ProposalAccepted(o.ShortCode(), o.Total), format.PaymentKeyboard(o.ID, ps.KaspiLink))
}

// ProposalCancelled сообщает об отмене обеим сторонам. Ошибки обеих отправок объединяются.
func (n *Notifier) ProposalCancelled(o orders.Order) error {
	return errors.Join(
		n.Text(o.TelegramUserID, format.ProposalCancelled(o.ShortCode())),
		n.Operator(format.ProposalCancelledOperator(o)),
	)
}

func (n *Notifier) OrderConfirmed(o orders.Order) error {
	return n.Text(o.TelegramUserID, format.OrderConfirmed(o))
}

func (n *Notifier) OrderRejected(o orders.Order, reason string) error {
	return n.Text(o.TelegramUserID, format.OrderRejected(o, reason))
}

// AnswerCallback снимает индикатор загрузки с кнопки у пользователя.
func (n *Notifier) AnswerCallback(callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	if _, err := n.tg.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// MarkCaption дописывает отметку к подписи сообщения. Повторная правка без изменений - не ошибка.
func (n *Notifier) MarkCaption(chatID int64, messageID int, caption, marker string) error {
	if format.HasMarker(caption, marker) {
		return nil
	}
	edit := tgbotapi.NewEditMessageCaption(chatID, messageID, format.MarkCaption(caption, marker))
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := n.tg.Request(edit); err != nil {
		if telegram.IsNotModified(err) {
			return nil
		}
		return fmt.Errorf("edit caption: %w", err)
	}
	return nil
}

// FileURL возвращает ссылку на скачивание файла по его file_id.
func (n *Notifier) FileURL(fileID string) (string, error) {
	u, err := n.tg.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file %s: %w", fileID, err)
	}
	return u, nil
}

func (n *Notifier) SetWebhook(url string) error {
	return telegram.SetWebhook(n.tg, url)
}

type BroadcastResult struct {
	Total  int
	Sent   int
	Failed int
}

// Broadcast отправляет text каждому получателю отдельно. Ошибка одного получателя
// считается и не прерывает рассылку. Между отправками - пауза delay.
// При отмене ctx неотправленные получатели записываются в Failed.
func (n *Notifier) Broadcast(ctx context.Context, ids []int64, text string, delay time.Duration) BroadcastResult {
	res := BroadcastResult{Total: len(ids)}
	for i, id := range ids {
		if ctx.Err() != nil {
			res.Failed += len(ids) - i
			n.log.Warn("рассылка прервана", zap.Int("remaining", len(ids)-i))
			return res
		}
		if err := n.Text(id, text); err != nil {
			res.Failed++
			n.log.Warn("ошибка отправки рассылки", zap.Int64("chat_id", id), zap.Error(err))
		} else {
			res.Sent++
		}
		if delay > 0 && i < len(ids)-1 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
	return res
}

func (n *Notifier) send(chatID int64, text string, markup interface{}) error {
	if chatID == 0 {
		return errors.New("empty chat id")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := n.tg.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}
