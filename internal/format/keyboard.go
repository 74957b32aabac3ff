package format

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	BroadcastButton = "📢 Рассылка"

	PrefixReceipt        = "receipt_"
	PrefixConfirmPayment = "confirm_payment_"
	PrefixRejectPayment  = "reject_payment_"
	PrefixAcceptProposal = "accept_proposal_"
	PrefixCancelOrder    = "cancel_order_"
)

// ShopKeyboard - ссылки на витрину (и админку для оператора).
func ShopKeyboard(shopURL, adminURL string, operator bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("📦 Кондитерская", shopURL)),
	}
	if operator && adminURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("⚙️ Админ-панель", adminURL)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func OperatorKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(BroadcastButton)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// PaymentKeyboard - кнопка Kaspi (если есть ссылка) и кнопка подтверждения оплаты.
func PaymentKeyboard(orderID, kaspiLink string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if kaspiLink != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Оплатить через Kaspi", kaspiLink)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📤 Подтвердить оплату", PrefixReceipt+orderID),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func ReviewKeyboard(orderID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить оплату", PrefixConfirmPayment+orderID),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить оплату", PrefixRejectPayment+orderID),
	))
}

func RetryKeyboard(orderID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📸 Отправить чек заново", PrefixReceipt+orderID),
	))
}

// ProposalKeyboard - принять, обсудить (ссылка на оператора) или отменить.
func ProposalKeyboard(orderID, contactURL string) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Принять", PrefixAcceptProposal+orderID)),
	}
	if contactURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💬 Обсудить", contactURL)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❌ Отменить заказ", PrefixCancelOrder+orderID)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
