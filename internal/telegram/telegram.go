package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var ErrNotConfigured = errors.New("telegram bot token is not configured")

// NewClient создаёт клиент Bot API, у которого каждый вызов ограничен timeout.
func NewClient(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, ErrNotConfigured
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return api, nil
}

// Disabled подставляется вместо клиента, когда токен не задан: процесс работает,
// а каждая отправка завершается ErrNotConfigured.
type Disabled struct{}

func (Disabled) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, ErrNotConfigured
}

func (Disabled) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return nil, ErrNotConfigured
}

func (Disabled) GetFileDirectURL(string) (string, error) {
	return "", ErrNotConfigured
}

type Requester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// WebhookAPI - часть Bot API, нужная для установки webhook.
type WebhookAPI interface {
	Requester
	GetWebhookInfo() (tgbotapi.WebhookInfo, error)
}

// EnsureWebhook ставит webhook, только если текущий адрес отличается. Возвращает true, если адрес изменён.
func EnsureWebhook(api WebhookAPI, url string) (bool, error) {
	info, err := api.GetWebhookInfo()
	if err != nil {
		return false, fmt.Errorf("get webhook info: %w", err)
	}
	if info.URL == url {
		return false, nil
	}
	if err := SetWebhook(api, url); err != nil {
		return false, err
	}
	return true, nil
}

func SetWebhook(api Requester, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook нужен перед long polling: Telegram не отдаёт getUpdates при активном webhook.
func DeleteWebhook(api Requester) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// IsNotModified - Telegram отвечает ошибкой, если новая подпись совпадает со старой.
func IsNotModified(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return strings.Contains(tgErr.Message, "message is not modified")
	}
	return false
}
