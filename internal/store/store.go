package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shop-order-bridge/internal/orders"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrReceiptExists     = errors.New("receipt already attached")
	ErrNoReceipt         = errors.New("order has no receipt")
	ErrAlreadyConfirmed  = errors.New("payment already confirmed")
	ErrNoProposal        = errors.New("no open proposal")
)

// Setting - строка таблицы settings (ключ-значение).
type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string
}

func (Setting) TableName() string { return "settings" }

const (
	SettingPaymentEnabled = "payment_enabled"
	SettingKaspiPhone     = "kaspi_phone"
	SettingKaspiLink      = "kaspi_link"
	SettingShopPhone      = "shop_phone"
)

// Store - доступ к таблицам заказов, товаров и настроек.
// Каждое изменение заказа - один условный UPDATE одной строки.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open выбирает драйвер по DSN: postgres:// - Postgres, иначе путь к файлу SQLite.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	return New(db), nil
}

// OpenInMemory открывает именованную SQLite базу в памяти с одним соединением.
func OpenInMemory(name string) (*Store, error) {
	s, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		return nil, err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return s, nil
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&orders.Order{}, &orders.Product{}, &Setting{}); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) error {
	if o.ID == "" {
		o.ID = orders.NewID(s.now())
	}
	if o.Status == "" {
		o.Status = orders.StatusNew
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || errorsLikeUnique(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	var o orders.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orders.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// LatestPayableOrder - самый свежий заказ пользователя, который ещё ждёт оплаты.
func (s *Store) LatestPayableOrder(ctx context.Context, userID int64) (orders.Order, error) {
	var o orders.Order
	err := s.db.WithContext(ctx).
		Where("telegram_user_id = ? AND status IN ?", userID, statusList(orders.StatusNew, orders.StatusPendingPayment)).
		Order("created_at DESC").
		Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orders.Order{}, fmt.Errorf("%w: user %d", ErrOrderNotFound, userID)
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("latest payable order: %w", err)
	}
	return o, nil
}

// AttachReceipt сохраняет ссылку на чек. Второй чек к тому же заказу не примется,
// пока первый не отклонён. Заказ в работе остаётся в работе.
func (s *Store) AttachReceipt(ctx context.Context, id, photoURL string) (orders.Order, error) {
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND COALESCE(receipt_photo, '') = '' AND payment_confirmed_at IS NULL AND status IN ?",
			id, statusList(orders.StatusNew, orders.StatusPendingPayment, orders.StatusProcessing)).
		Updates(map[string]any{
			"receipt_photo": photoURL,
			"status": gorm.Expr("CASE WHEN status = ? THEN status ELSE ? END",
				string(orders.StatusProcessing), string(orders.StatusPendingPayment)),
		})
	return s.applied(ctx, id, res, func(o orders.Order) error {
		switch {
		case o.PaymentConfirmedAt != nil:
			return ErrAlreadyConfirmed
		case o.ReceiptPhoto != "":
			return ErrReceiptExists
		}
		return ErrIllegalTransition
	})
}

func (s *Store) ConfirmPayment(ctx context.Context, id string) (orders.Order, error) {
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND payment_confirmed_at IS NULL AND status IN ?", id, statusList(orders.StatusNew, orders.StatusPendingPayment, orders.StatusProcessing)).
		Updates(map[string]any{
			"status":               string(orders.StatusProcessing),
			"payment_confirmed_at": s.now(),
		})
	return s.applied(ctx, id, res, func(o orders.Order) error {
		if o.PaymentConfirmedAt != nil {
			return ErrAlreadyConfirmed
		}
		return ErrIllegalTransition
	})
}

// RejectReceipt очищает ссылку на чек, чтобы клиент мог прислать новый.
// Закрытый заказ не трогается: повторно оплатить его нельзя.
func (s *Store) RejectReceipt(ctx context.Context, id string) (orders.Order, error) {
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND COALESCE(receipt_photo, '') <> '' AND payment_confirmed_at IS NULL AND status IN ?",
			id, statusList(orders.StatusNew, orders.StatusPendingPayment, orders.StatusProcessing)).
		Update("receipt_photo", "")
	return s.applied(ctx, id, res, func(o orders.Order) error {
		switch {
		case o.PaymentConfirmedAt != nil:
			return ErrAlreadyConfirmed
		case o.Status.Terminal():
			return ErrIllegalTransition
		}
		return ErrNoReceipt
	})
}

func (s *Store) SetProposal(ctx context.Context, id string, price int64) (orders.Order, error) {
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND status IN ?", id, statusList(orders.StatusNew, orders.StatusPendingPayment)).
		Updates(map[string]any{
			"negotiated_price":   price,
			"negotiation_status": string(orders.NegotiationProposed),
		})
	return s.applied(ctx, id, res, func(orders.Order) error { return ErrIllegalTransition })
}

// AcceptProposal переводит заказ в работу и заменяет сумму на предложенную цену.
func (s *Store) AcceptProposal(ctx context.Context, id string) (orders.Order, error) {
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND negotiation_status = ? AND status IN ?",
			id, string(orders.NegotiationProposed), statusList(orders.StatusNew, orders.StatusPendingPayment)).
		Updates(map[string]any{
			"status":             string(orders.StatusProcessing),
			"negotiation_status": string(orders.NegotiationAccepted),
			"total":              gorm.Expr("COALESCE(negotiated_price, total)"),
		})
	return s.applied(ctx, id, res, proposalError)
}

func (s *Store) CancelProposal(ctx context.Context, id string) (orders.Order, error) {
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND negotiation_status = ? AND status IN ?",
			id, string(orders.NegotiationProposed), statusList(orders.StatusNew, orders.StatusPendingPayment)).
		Updates(map[string]any{
			"status":             string(orders.StatusCancelled),
			"negotiation_status": string(orders.NegotiationRejected),
		})
	return s.applied(ctx, id, res, proposalError)
}

// UpdateStatus применяет переход по таблице orders.AllowedFrom. Повтор текущего статуса - не ошибка.
func (s *Store) UpdateStatus(ctx context.Context, id string, to orders.Status) (orders.Order, error) {
	if !to.Valid() {
		return orders.Order{}, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, to)
	}
	from := orders.AllowedFrom(to)
	if len(from) == 0 {
		return s.sameStatus(ctx, id, to)
	}
	res := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND status IN ?", id, statusList(from...)).
		Update("status", string(to))
	o, err := s.applied(ctx, id, res, func(o orders.Order) error {
		if o.Status == to {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	})
	return o, err
}

func (s *Store) sameStatus(ctx context.Context, id string, to orders.Status) (orders.Order, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Status != to {
		return orders.Order{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	return o, nil
}

// CustomerIDs - все различные идентификаторы клиентов, когда-либо оформлявших заказ.
func (s *Store) CustomerIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&orders.Order{}).
		Where("telegram_user_id IS NOT NULL AND telegram_user_id <> 0").
		Distinct("telegram_user_id").
		Order("telegram_user_id").
		Pluck("telegram_user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("customer ids: %w", err)
	}
	return ids, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]orders.Order, error) {
	var list []orders.Order
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	var list []orders.Product
	if err := s.db.WithContext(ctx).Order("id").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return list, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *orders.Product) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Save(&Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// PaymentSettings читает реквизиты оплаты из таблицы settings. Отсутствующие ключи - пустые значения.
func (s *Store) PaymentSettings(ctx context.Context) (orders.PaymentSettings, error) {
	var rows []Setting
	err := s.db.WithContext(ctx).
		Where("key IN ?", []string{SettingPaymentEnabled, SettingKaspiPhone, SettingKaspiLink, SettingShopPhone}).
		Find(&rows).Error
	if err != nil {
		return orders.PaymentSettings{}, fmt.Errorf("payment settings: %w", err)
	}
	var ps orders.PaymentSettings
	for _, r := range rows {
		switch r.Key {
		case SettingPaymentEnabled:
			ps.Enabled, _ = strconv.ParseBool(strings.TrimSpace(r.Value))
		case SettingKaspiPhone:
			ps.KaspiPhone = r.Value
		case SettingKaspiLink:
			ps.KaspiLink = r.Value
		case SettingShopPhone:
			ps.ShopPhone = r.Value
		}
	}
	return ps, nil
}

// applied возвращает заказ после условного UPDATE. Если ни одна строка не изменилась,
// перечитывает заказ и объясняет причину через explain.
func (s *Store) applied(ctx context.Context, id string, res *gorm.DB, explain func(orders.Order) error) (orders.Order, error) {
	if res.Error != nil {
		return orders.Order{}, fmt.Errorf("update order %s: %w", id, res.Error)
	}
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if res.RowsAffected == 0 {
		if err := explain(o); err != nil {
			return o, err
		}
	}
	return o, nil
}

func proposalError(o orders.Order) error {
	if o.NegotiationStatus != orders.NegotiationProposed {
		return ErrNoProposal
	}
	return ErrIllegalTransition
}

func statusList(statuses ...orders.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
