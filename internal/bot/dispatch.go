package bot

import (
	"context"
	"strings"

	"shop-order-bridge/internal/format"
	"shop-order-bridge/internal/stats"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const topCustomers = 20

func (b *OrderBot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.Chat == nil {
		return
	}
	switch {
	case m.Text != "":
		b.handleText(ctx, m)
	case len(m.Photo) > 0:
		b.handlePhoto(ctx, m)
	}
}

func senderID(m *tgbotapi.Message) int64 {
	if m.From != nil {
		return m.From.ID
	}
	return m.Chat.ID
}

// handleText: сначала команды, затем ожидание текста рассылки, иначе подсказка.
// Команды оператора от остальных пользователей попадают в подсказку.
func (b *OrderBot) handleText(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	text := strings.TrimSpace(m.Text)
	op := b.isOperator(senderID(m))

	switch {
	case text == "/start":
		b.welcome(chatID, m.From, op)
		return
	case text == "/help":
		b.reply(chatID, format.Help(op))
		return
	case text == "/contact":
		b.reply(chatID, format.Contact())
		return
	case text == "/cancel":
		if _, err := b.reg.TakeBroadcast(ctx, chatID); err != nil {
			b.log.Warn("не удалось сбросить ожидание рассылки", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		if _, _, err := b.reg.TakeReceipt(ctx, chatID); err != nil {
			b.log.Warn("не удалось сбросить ожидание чека", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		b.reply(chatID, format.Cancelled())
		return
	case op && text == "/admin":
		b.replyWithMarkup(chatID, format.AdminPanel(), format.OperatorKeyboard())
		return
	case op && text == "/stats":
		b.sendStats(ctx, chatID)
		return
	case op && text == "/detailed_stats":
		b.sendDetailedStats(ctx, chatID)
		return
	case op && text == "/customers":
		b.sendCustomers(ctx, chatID)
		return
	case op && isBroadcastCommand(text):
		body := strings.TrimSpace(strings.TrimPrefix(text, "/broadcast"))
		if body == "" {
			b.reply(chatID, format.BroadcastHowTo())
			return
		}
		b.Broadcast(ctx, chatID, body)
		return
	case op && text == format.BroadcastButton:
		if err := b.reg.AwaitBroadcast(ctx, chatID); err != nil {
			b.log.Error("не удалось включить ожидание рассылки", zap.Error(err))
			b.reply(chatID, format.SomethingWrong())
			return
		}
		b.reply(chatID, format.BroadcastPrompt())
		return
	}

	if op {
		armed, err := b.reg.TakeBroadcast(ctx, chatID)
		if err != nil {
			b.log.Error("не удалось прочитать ожидание рассылки", zap.Error(err))
		}
		if armed {
			b.Broadcast(ctx, chatID, text)
			return
		}
	}
	b.reply(chatID, format.Fallback())
}

func isBroadcastCommand(text string) bool {
	if !strings.HasPrefix(text, "/broadcast") {
		return false
	}
	rest := strings.TrimPrefix(text, "/broadcast")
	return rest == "" || rest[0] == ' ' || rest[0] == '\n'
}

func (b *OrderBot) welcome(chatID int64, from *tgbotapi.User, op bool) {
	firstName := ""
	if from != nil {
		firstName = from.FirstName
	}
	if b.cfg.ShopURL != "" {
		b.replyWithMarkup(chatID, format.Welcome(firstName), format.ShopKeyboard(b.cfg.ShopURL, b.cfg.AdminURL, op))
	} else {
		b.reply(chatID, format.Welcome(firstName))
	}
	if op {
		b.replyWithMarkup(chatID, format.AdminPanel(), format.OperatorKeyboard())
	}
}

func (b *OrderBot) sendStats(ctx context.Context, chatID int64) {
	list, err := b.store.ListOrders(ctx)
	if err != nil {
		b.log.Error("ошибка получения заказов", zap.Error(err))
		b.reply(chatID, format.StatsFailed(err))
		return
	}
	b.reply(chatID, format.Stats(stats.Summarize(list)))
}

func (b *OrderBot) sendDetailedStats(ctx context.Context, chatID int64) {
	list, err := b.store.ListOrders(ctx)
	if err != nil {
		b.log.Error("ошибка получения заказов", zap.Error(err))
		b.reply(chatID, format.StatsFailed(err))
		return
	}
	products, err := b.store.ListProducts(ctx)
	if err != nil {
		b.log.Warn("ошибка получения товаров", zap.Error(err))
	}
	b.reply(chatID, format.DetailedStats(stats.Details(list, products, b.now())))
}

func (b *OrderBot) sendCustomers(ctx context.Context, chatID int64) {
	list, err := b.store.ListOrders(ctx)
	if err != nil {
		b.log.Error("ошибка получения клиентов", zap.Error(err))
		b.reply(chatID, format.CustomersFailed(err))
		return
	}
	b.reply(chatID, format.Customers(stats.TopCustomers(list, topCustomers)))
}

// reply - ответ без гарантии доставки: ошибка только логируется.
func (b *OrderBot) reply(chatID int64, text string) {
	if err := b.notify.Text(chatID, text); err != nil {
		b.log.Warn("ошибка отправки сообщения", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *OrderBot) replyWithMarkup(chatID int64, text string, markup interface{}) {
	if err := b.notify.TextWithMarkup(chatID, text, markup); err != nil {
		b.log.Warn("ошибка отправки сообщения", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
