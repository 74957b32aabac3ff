package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"shop-order-bridge/internal/bot"
	"shop-order-bridge/internal/orders"
	"shop-order-bridge/internal/store"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot - операции бота, которые вызывает HTTP-слой.
type Bot interface {
	HandleUpdate(ctx context.Context, u tgbotapi.Update)
	SubmitOrder(ctx context.Context, o *orders.Order, payment *orders.PaymentSettings) error
	SendOrder(ctx context.Context, o orders.Order, payment *orders.PaymentSettings) error
	NotifyStatus(ctx context.Context, userID int64, status orders.Status, orderNumber, shopPhone string) error
	UpdateStatus(ctx context.Context, orderID string, status orders.Status, shopPhone string) (orders.Order, error)
	ConfirmOrder(ctx context.Context, orderID string) (orders.Order, error)
	ProposeChanges(ctx context.Context, orderID, comment string, price int64) (orders.Order, error)
	RejectOrder(ctx context.Context, orderID, reason string) (orders.Order, error)
	SetupWebhook(url string) error
}

// Pinger проверяет доступность базы для health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	BotToken    string
	OperatorID  int64
	PublicURL   string
	SupabaseURL string
	SupabaseKey string
}

type handlers struct {
	bot Bot
	db  Pinger
	cfg Config
	log *zap.Logger
}

// Setup регистрирует все HTTP-маршруты. db может быть nil.
func Setup(r *gin.Engine, b Bot, db Pinger, cfg Config, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{bot: b, db: db, cfg: cfg, log: log}

	r.Use(cors())

	api := r.Group("/api")
	api.POST("/create-order", h.createOrder)
	api.POST("/send-order", h.sendOrder)
	api.POST("/notify-status", h.notifyStatus)
	api.POST("/update-status", h.updateStatus)
	api.POST("/confirm-order", h.confirmOrder)
	api.POST("/propose-changes", h.proposeChanges)
	api.POST("/reject-order", h.rejectOrder)
	api.POST("/setup-webhook", h.setupWebhook)
	api.GET("/config", h.publicConfig)
	api.GET("/health", h.health)

	r.GET("/health", h.liveness)
	r.POST("/webhook", h.webhook)
	// токен содержит ':', поэтому путь /bot<token> сравнивается вручную
	r.NoRoute(h.botPath)
}

// cors разрешает запросы витрины с любого origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type orderRequest struct {
	OrderID          string        `json:"orderId"`
	Date             string        `json:"date"`
	CustomerName     string        `json:"customerName"`
	CustomerPhone    string        `json:"customerPhone"`
	CustomerComment  string        `json:"customerComment"`
	TelegramUserID   int64         `json:"telegramUserId"`
	TelegramUsername string        `json:"telegramUsername"`
	Items            []orders.Item `json:"items" binding:"required,min=1"`
	Total            int64         `json:"total" binding:"required,min=1"`
	Status           string        `json:"status"`
	PaymentEnabled   *bool         `json:"paymentEnabled"`
	KaspiPhone       string        `json:"kaspiPhone"`
	KaspiLink        string        `json:"kaspiLink"`
	ShopPhone        string        `json:"shopPhone"`
}

func (r orderRequest) order() orders.Order {
	o := orders.Order{
		ID:               strings.TrimSpace(r.OrderID),
		CustomerName:     strings.TrimSpace(r.CustomerName),
		CustomerPhone:    strings.TrimSpace(r.CustomerPhone),
		CustomerComment:  r.CustomerComment,
		TelegramUserID:   r.TelegramUserID,
		TelegramUsername: strings.TrimPrefix(r.TelegramUsername, "@"),
		Items:            r.Items,
		Total:            r.Total,
		Status:           orders.Status(r.Status),
	}
	if t, err := time.Parse(time.RFC3339, r.Date); err == nil {
		o.CreatedAt = t
	}
	return o
}

// payment - настройки из тела запроса, nil если витрина их не передала.
func (r orderRequest) payment() *orders.PaymentSettings {
	if r.PaymentEnabled == nil {
		return nil
	}
	return &orders.PaymentSettings{
		Enabled:    *r.PaymentEnabled,
		KaspiPhone: r.KaspiPhone,
		KaspiLink:  r.KaspiLink,
		ShopPhone:  r.ShopPhone,
	}
}

func (r orderRequest) validStatus() bool {
	return r.Status == "" || orders.Status(r.Status).Valid()
}

func (h *handlers) createOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные заказа", err)
		return
	}
	o := req.order()
	if o.CustomerName == "" || o.CustomerPhone == "" || !req.validStatus() {
		badRequest(c, "Неверные данные заказа", nil)
		return
	}

	err := h.bot.SubmitOrder(c.Request.Context(), &o, req.payment())
	if errors.Is(err, bot.ErrNotifyOperator) {
		// заказ сохранён, но оператор о нём не знает
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Заказ сохранён, но уведомление не отправлено",
			"details": err.Error(),
			"orderId": o.ID,
		})
		return
	}
	if err != nil {
		h.fail(c, "Ошибка создания заказа", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orderId": o.ID})
}

func (h *handlers) sendOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные заказа", err)
		return
	}
	o := req.order()
	if o.ID == "" || !req.validStatus() {
		badRequest(c, "Неверные данные заказа", nil)
		return
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if err := h.bot.SendOrder(c.Request.Context(), o, req.payment()); err != nil {
		h.fail(c, "Ошибка отправки заказа", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Заказ успешно отправлен"})
}

func (h *handlers) notifyStatus(c *gin.Context) {
	var req struct {
		UserID      int64  `json:"userId" binding:"required"`
		Status      string `json:"status" binding:"required"`
		OrderNumber string `json:"orderNumber"`
		ShopPhone   string `json:"shopPhone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные", err)
		return
	}
	err := h.bot.NotifyStatus(c.Request.Context(), req.UserID, orders.Status(req.Status), req.OrderNumber, req.ShopPhone)
	if errors.Is(err, bot.ErrUnknownStatus) {
		badRequest(c, "Неверный статус", nil)
		return
	}
	if err != nil {
		h.fail(c, "Ошибка отправки уведомления", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) updateStatus(c *gin.Context) {
	var req struct {
		OrderID   string `json:"orderId" binding:"required"`
		Status    string `json:"status" binding:"required"`
		ShopPhone string `json:"shopPhone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные", err)
		return
	}
	o, err := h.bot.UpdateStatus(c.Request.Context(), req.OrderID, orders.Status(req.Status), req.ShopPhone)
	if err != nil {
		h.fail(c, "Ошибка смены статуса", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": o})
}

func (h *handlers) confirmOrder(c *gin.Context) {
	var req struct {
		OrderID string `json:"orderId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные", err)
		return
	}
	if _, err := h.bot.ConfirmOrder(c.Request.Context(), req.OrderID); err != nil {
		h.fail(c, "Ошибка подтверждения заказа", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) proposeChanges(c *gin.Context) {
	var req struct {
		OrderID  string `json:"orderId" binding:"required"`
		Comment  string `json:"comment"`
		NewPrice int64  `json:"newPrice" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные", err)
		return
	}
	if _, err := h.bot.ProposeChanges(c.Request.Context(), req.OrderID, req.Comment, req.NewPrice); err != nil {
		h.fail(c, "Ошибка отправки предложения", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) rejectOrder(c *gin.Context) {
	var req struct {
		OrderID string `json:"orderId" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверные данные", err)
		return
	}
	if _, err := h.bot.RejectOrder(c.Request.Context(), req.OrderID, req.Reason); err != nil {
		h.fail(c, "Ошибка отклонения заказа", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// setupWebhook регистрирует PUBLIC_URL/webhook, а без него адрес самого запроса.
// Адрес из тела не принимается: ручка открыта, и чужой URL увёл бы обновления бота.
func (h *handlers) setupWebhook(c *gin.Context) {
	url := requestScheme(c) + "://" + c.Request.Host + "/webhook"
	if h.cfg.PublicURL != "" {
		url = strings.TrimRight(h.cfg.PublicURL, "/") + "/webhook"
	}
	if err := h.bot.SetupWebhook(url); err != nil {
		h.fail(c, "Ошибка настройки webhook", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "webhookUrl": url})
}

func requestScheme(c *gin.Context) string {
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

func (h *handlers) publicConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supabaseUrl": h.cfg.SupabaseURL,
		"supabaseKey": h.cfg.SupabaseKey,
	})
}

func (h *handlers) health(c *gin.Context) {
	resp := gin.H{
		"status":             "ok",
		"botConfigured":      h.cfg.BotToken != "",
		"supabaseConfigured": h.cfg.SupabaseURL != "" && h.cfg.SupabaseKey != "",
		"adminConfigured":    h.cfg.OperatorID != 0,
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn("база недоступна", zap.Error(err))
			resp["database"] = "unavailable"
		} else {
			resp["database"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "botConfigured": h.cfg.BotToken != ""})
}

// webhook всегда отвечает ok, иначе Telegram будет повторять доставку.
func (h *handlers) webhook(c *gin.Context) {
	var u tgbotapi.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		h.log.Warn("некорректное обновление", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	h.bot.HandleUpdate(context.WithoutCancel(c.Request.Context()), u)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) botPath(c *gin.Context) {
	if c.Request.Method == http.MethodPost && h.cfg.BotToken != "" {
		want := "/bot" + h.cfg.BotToken
		if subtle.ConstantTimeCompare([]byte(c.Request.URL.Path), []byte(want)) == 1 {
			h.webhook(c)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

func badRequest(c *gin.Context, msg string, err error) {
	resp := gin.H{"error": msg}
	if err != nil {
		resp["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

// fail переводит ошибку бота в HTTP-код.
func (h *handlers) fail(c *gin.Context, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, bot.ErrInvalidRequest), errors.Is(err, bot.ErrUnknownStatus), errors.Is(err, bot.ErrNoCustomerChat):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrOrderNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrIllegalTransition), errors.Is(err, store.ErrDuplicateOrder), errors.Is(err, store.ErrNoProposal):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		h.log.Error(msg, zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": msg, "details": err.Error()})
}
