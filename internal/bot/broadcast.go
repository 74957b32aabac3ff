package bot

import (
	"context"

	"shop-order-bridge/internal/format"

	"go.uber.org/zap"
)

// Broadcast ставит рассылку в очередь и сразу отвечает оператору.
// Отчёт о доставке приходит в chatID после завершения.
func (b *OrderBot) Broadcast(ctx context.Context, chatID int64, text string) {
	b.reply(chatID, format.BroadcastStarted())
	err := b.run(func(jobCtx context.Context) {
		b.runBroadcast(jobCtx, chatID, text)
	})
	if err != nil {
		b.log.Error("рассылка не запущена", zap.Error(err))
		b.reply(chatID, format.BroadcastFailed(err))
	}
}

func (b *OrderBot) runBroadcast(ctx context.Context, chatID int64, text string) {
	ids, err := b.store.CustomerIDs(ctx)
	if err != nil {
		b.log.Error("ошибка получения получателей рассылки", zap.Error(err))
		b.reply(chatID, format.BroadcastFailed(err))
		return
	}
	if len(ids) == 0 {
		b.reply(chatID, format.BroadcastNoRecipients())
		return
	}

	res := b.notify.Broadcast(ctx, ids, text, b.cfg.BroadcastDelay)
	b.log.Info("рассылка завершена",
		zap.Int("total", res.Total),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	b.reply(chatID, format.BroadcastReport(res.Total, res.Sent, res.Failed))
}
