// Package notifiertest содержит записывающую подделку Bot API для тестов.
package notifiertest

import (
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var ErrSendFailed = errors.New("fake: send failed")

type Sent struct {
	ChatID int64
	Text   string
	Photo  string
	Markup interface{}
}

// CallbackData возвращает данные всех inline-кнопок сообщения.
func (s Sent) CallbackData() []string {
	kb, ok := s.Markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out = append(out, *b.CallbackData)
			}
		}
	}
	return out
}

type Transport struct {
	mu        sync.Mutex
	sent      []Sent
	callbacks []tgbotapi.CallbackConfig
	edits     []tgbotapi.EditMessageCaptionConfig
	webhooks  []string
	failChats map[int64]bool
	failEdit  error
	nextID    int
}

func New() *Transport {
	return &Transport{failChats: make(map[int64]bool)}
}

// FailFor заставляет отправки в chatID завершаться ошибкой.
func (t *Transport) FailFor(chatIDs ...int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range chatIDs {
		t.failChats[id] = true
	}
}

func (t *Transport) FailEdits(err error) {
	t.mu.Lock()
	t.failEdit = err
	t.mu.Unlock()
}

func (t *Transport) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Sent
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		s = Sent{ChatID: m.ChatID, Text: m.Text, Markup: m.ReplyMarkup}
	case tgbotapi.PhotoConfig:
		photo := ""
		if id, ok := m.File.(tgbotapi.FileID); ok {
			photo = string(id)
		}
		s = Sent{ChatID: m.ChatID, Text: m.Caption, Photo: photo, Markup: m.ReplyMarkup}
	default:
		return tgbotapi.Message{}, errors.New("fake: unsupported chattable")
	}
	if t.failChats[s.ChatID] {
		return tgbotapi.Message{}, ErrSendFailed
	}
	t.sent = append(t.sent, s)
	t.nextID++
	return tgbotapi.Message{MessageID: t.nextID, Chat: &tgbotapi.Chat{ID: s.ChatID}}, nil
}

func (t *Transport) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch r := c.(type) {
	case tgbotapi.CallbackConfig:
		t.callbacks = append(t.callbacks, r)
	case tgbotapi.EditMessageCaptionConfig:
		if t.failEdit != nil {
			return nil, t.failEdit
		}
		t.edits = append(t.edits, r)
	case tgbotapi.WebhookConfig:
		t.webhooks = append(t.webhooks, r.URL.String())
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (t *Transport) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// SentTo - сообщения, отправленные в chatID.
func (t *Transport) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range t.Sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Last - последнее сообщение в chatID, ok=false если его нет.
func (t *Transport) Last(chatID int64) (Sent, bool) {
	list := t.SentTo(chatID)
	if len(list) == 0 {
		return Sent{}, false
	}
	return list[len(list)-1], true
}

// Contains сообщает, было ли отправлено в chatID сообщение с подстрокой sub.
func (t *Transport) Contains(chatID int64, sub string) bool {
	for _, s := range t.SentTo(chatID) {
		if strings.Contains(s.Text, sub) {
			return true
		}
	}
	return false
}

func (t *Transport) Callbacks() []tgbotapi.CallbackConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tgbotapi.CallbackConfig(nil), t.callbacks...)
}

func (t *Transport) Edits() []tgbotapi.EditMessageCaptionConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tgbotapi.EditMessageCaptionConfig(nil), t.edits...)
}

func (t *Transport) Webhooks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.webhooks...)
}

func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
	t.callbacks = nil
	t.edits = nil
}
