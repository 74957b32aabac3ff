package orders

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusNew            Status = "new"
	StatusPendingPayment Status = "pending_payment"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Допустимые переходы: ключ - целевой статус, значение - откуда в него можно попасть.
var allowedFrom = map[Status][]Status{
	StatusPendingPayment: {StatusNew},
	StatusProcessing:     {StatusNew, StatusPendingPayment},
	StatusCompleted:      {StatusProcessing},
	StatusCancelled:      {StatusNew, StatusPendingPayment, StatusProcessing},
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPendingPayment, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal сообщает, что из статуса уже нельзя выйти.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedFrom возвращает статусы, из которых разрешён переход в to.
func AllowedFrom(to Status) []Status {
	from := allowedFrom[to]
	out := make([]Status, len(from))
	copy(out, from)
	return out
}

func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

type NegotiationStatus string

const (
	NegotiationProposed NegotiationStatus = "proposed"
	NegotiationAccepted NegotiationStatus = "accepted"
	NegotiationRejected NegotiationStatus = "rejected"
)

// CustomCake - детали торта на заказ.
type CustomCake struct {
	Size           string `json:"size,omitempty"`
	Filling        string `json:"filling,omitempty"`
	Decor          string `json:"decor,omitempty"`
	Inscription    string `json:"inscription,omitempty"`
	ReferencePhoto string `json:"referencePhoto,omitempty"`
	Wishes         string `json:"wishes,omitempty"`
}

type Item struct {
	Name       string      `json:"name"`
	Price      int64       `json:"price"`
	Quantity   int         `json:"quantity"`
	CustomCake *CustomCake `json:"customCake,omitempty"`
}

// Sum - стоимость позиции. Количество 0 считается как 1.
func (i Item) Sum() int64 {
	return i.Price * int64(i.Qty())
}

func (i Item) Qty() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

type Order struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	CreatedAt time.Time `json:"date"`
	UpdatedAt time.Time `json:"updatedAt"`

	CustomerName     string `gorm:"not null" json:"customerName"`
	CustomerPhone    string `gorm:"not null" json:"customerPhone"`
	CustomerComment  string `json:"customerComment,omitempty"`
	TelegramUserID   int64  `gorm:"index" json:"telegramUserId,omitempty"`
	TelegramUsername string `json:"telegramUsername,omitempty"`

	Items datatypes.JSONSlice[Item] `gorm:"not null" json:"items"`
	Total int64                     `gorm:"not null" json:"total"`

	Status             Status            `gorm:"size:32;not null;default:'new';index" json:"status"`
	ReceiptPhoto       string            `json:"receiptPhoto,omitempty"`
	NegotiatedPrice    *int64            `json:"negotiatedPrice,omitempty"`
	NegotiationStatus  NegotiationStatus `gorm:"size:16" json:"negotiationStatus,omitempty"`
	PaymentConfirmedAt *time.Time        `json:"paymentConfirmedAt,omitempty"`
}

func (Order) TableName() string { return "orders" }

func (o Order) ShortCode() string { return ShortCode(o.ID) }

// NewID генерирует идентификатор заказа из времени создания (миллисекунды).
func NewID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ShortCode - последние 6 символов идентификатора, их видит клиент.
func ShortCode(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}

type Product struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"not null" json:"name"`
	Price     int64  `json:"price"`
	Category  string `json:"category,omitempty"`
	Available bool   `gorm:"default:true" json:"available"`
}

func (Product) TableName() string { return "products" }

// Customer - агрегат по заказам одного пользователя, только для чтения.
type Customer struct {
	TelegramUserID int64
	Name           string
	Username       string
	Phone          string
	OrderCount     int
	TotalSpent     int64
	LastOrderAt    time.Time
}

type PaymentSettings struct {
	Enabled    bool   `json:"paymentEnabled"`
	KaspiPhone string `json:"kaspiPhone,omitempty"`
	KaspiLink  string `json:"kaspiLink,omitempty"`
	ShopPhone  string `json:"shopPhone,omitempty"`
}
