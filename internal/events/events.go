package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Type string

const (
	OrderCreated      Type = "order.created"
	ReceiptAttached   Type = "order.receipt_attached"
	PaymentConfirmed  Type = "order.payment_confirmed"
	PaymentRejected   Type = "order.payment_rejected"
	StatusChanged     Type = "order.status_changed"
	ProposalSent      Type = "order.proposal_sent"
	ProposalAccepted  Type = "order.proposal_accepted"
	ProposalCancelled Type = "order.proposal_cancelled"
)

const Exchange = "order_events"

type OrderEvent struct {
	Type           Type      `json:"type"`
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status,omitempty"`
	CustomerUserID int64     `json:"customerUserId,omitempty"`
	Total          int64     `json:"total,omitempty"`
	At             time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e OrderEvent) error
}

// Nop используется, когда брокер не настроен.
type Nop struct{}

func (Nop) Publish(context.Context, OrderEvent) error { return nil }

// AMQP публикует события в fanout exchange, чтобы любой подписчик получил копию.
type AMQP struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func DialAMQP(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", Exchange, err)
	}
	return &AMQP{conn: conn, ch: ch}, nil
}

// Publish сериализует доступ к каналу: amqp.Channel нельзя использовать из нескольких горутин.
func (p *AMQP) Publish(ctx context.Context, e OrderEvent) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, Exchange, string(e.Type), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		ContentType:  "application/json",
		Body:         body,
	})
}

func (p *AMQP) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Recorder запоминает события в памяти.
type Recorder struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *Recorder) Publish(_ context.Context, e OrderEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderEvent(nil), r.events...)
}

// Types - типы записанных событий по порядку.
func (r *Recorder) Types() []Type {
	var out []Type
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
