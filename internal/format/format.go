package format

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"shop-order-bridge/internal/orders"
	"shop-order-bridge/internal/stats"
)

const (
	ConfirmedMarker = "✅ <b>ОПЛАТА ПОДТВЕРЖДЕНА</b>"
	RejectedMarker  = "❌ <b>ЧЕК ОТКЛОНЁН</b>\n(Клиент может отправить новый)"

	dateLayout = "02.01.2006, 15:04:05"
	dayLayout  = "02.01.2006"
)

// Money группирует разряды пробелом: 1234567 -> "1 234 567".
func Money(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func esc(s string) string { return html.EscapeString(s) }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// NewOrder - уведомление оператору о новом заказе.
func NewOrder(o orders.Order, awaitingPayment bool) string {
	var b strings.Builder
	b.WriteString("🆕 <b>НОВЫЙ ЗАКАЗ!</b>\n\n")
	fmt.Fprintf(&b, "📋 Заказ #%s\n", o.ShortCode())
	fmt.Fprintf(&b, "📅 %s\n\n", o.CreatedAt.Format(dateLayout))

	b.WriteString("<b>👤 Клиент:</b>\n")
	fmt.Fprintf(&b, "Имя: %s\n", esc(o.CustomerName))
	fmt.Fprintf(&b, "Телефон: %s\n", esc(o.CustomerPhone))
	if o.TelegramUsername != "" {
		fmt.Fprintf(&b, "Telegram: @%s\n", esc(o.TelegramUsername))
	}
	if o.TelegramUserID != 0 {
		fmt.Fprintf(&b, "ID: %d\n", o.TelegramUserID)
	}
	if o.CustomerComment != "" {
		fmt.Fprintf(&b, "\nКомментарий: %s\n", esc(o.CustomerComment))
	}

	b.WriteString("\n<b>🛒 Товары:</b>\n")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "• %s x%d = %d ₸\n", esc(it.Name), it.Qty(), it.Sum())
		if it.CustomCake != nil {
			writeCake(&b, it.CustomCake)
		}
	}
	fmt.Fprintf(&b, "\n<b>💰 Итого: %d ₸</b>", o.Total)

	if awaitingPayment {
		b.WriteString("\n\n⏰ <b>Статус:</b> Ожидает оплаты")
	}
	return b.String()
}

func writeCake(b *strings.Builder, c *orders.CustomCake) {
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(b, "   %s: %s\n", label, esc(v))
		}
	}
	line("Размер", c.Size)
	line("Начинка", c.Filling)
	line("Декор", c.Decor)
	line("Надпись", c.Inscription)
	line("Пожелания", c.Wishes)
	if c.ReferencePhoto != "" {
		fmt.Fprintf(b, "   <a href=\"%s\">Фото-референс</a>\n", esc(c.ReferencePhoto))
	}
}

// PaymentRequest - реквизиты для оплаты клиенту.
func PaymentRequest(o orders.Order, ps orders.PaymentSettings) string {
	var b strings.Builder
	b.WriteString("💳 <b>Реквизиты для оплаты / Төлем деректемелері</b>\n\n")
	fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n", o.ShortCode())
	fmt.Fprintf(&b, "💰 Сумма / Сомасы: <b>%d ₸</b>\n\n", o.Total)
	if ps.KaspiPhone != "" {
		fmt.Fprintf(&b, "📱 <b>Kaspi номер:</b>\n+7%s\n\n", esc(strings.TrimPrefix(ps.KaspiPhone, "+7")))
	}
	b.WriteString("После оплаты нажмите кнопку ниже и отправьте скриншот чека.\n")
	b.WriteString("Төлегеннен кейін төмендегі батырманы басып, чектің скриншотын жіберіңіз.")
	return b.String()
}

// StatusMessage - шаблон уведомления о смене статуса. false для неизвестного статуса.
func StatusMessage(status orders.Status, orderNumber, shopPhone string) (string, bool) {
	var b strings.Builder
	switch status {
	case orders.StatusProcessing:
		b.WriteString("⏳ <b>Ваш заказ принят в работу! / Тапсырысыңыз орындалуда!</b>\n\n")
		fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n", esc(orderNumber))
		b.WriteString("Мы начали готовить ваш заказ. Скоро он будет готов! 👨‍🍳\n")
		b.WriteString("Тапсырысыңызды дайындай бастадық. Жақында дайын болады!")
	case orders.StatusCompleted:
		b.WriteString("🎉 <b>Ваш заказ готов! / Тапсырысыңыз дайын!</b>\n\n")
		fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n", esc(orderNumber))
		b.WriteString("Можете забирать или ожидайте курьера! 🚗\n")
		b.WriteString("Алып кетуге болады немесе курьерді күтіңіз!")
	case orders.StatusCancelled:
		b.WriteString("❌ <b>Ваш заказ отменён / Тапсырысыңыз жойылды</b>\n\n")
		fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n", esc(orderNumber))
		b.WriteString("К сожалению, мы не можем выполнить ваш заказ. Приносим извинения.\n")
		b.WriteString("Өкінішке орай, тапсырысыңызды орындай алмаймыз. Кешірім сұраймыз.")
		if shopPhone != "" {
			fmt.Fprintf(&b, "\n\nЕсли у вас есть вопросы, свяжитесь с нами: %s", esc(shopPhone))
		}
	case orders.StatusPendingPayment:
		b.WriteString("⏰ <b>Ожидаем оплату / Төлемді күтуде</b>\n\n")
		fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n", esc(orderNumber))
		b.WriteString("Пожалуйста, оплатите заказ и отправьте чек.\n")
		b.WriteString("Тапсырысты төлеп, чекті жіберіңіз.")
	default:
		return "", false
	}
	return b.String(), true
}

func ReceiptRequest() string {
	return "📸 <b>Отправьте фото чека об оплате</b>\n\n" +
		"Просто отправьте скриншот или фото чека следующим сообщением.\n\n" +
		"🇰🇿 <b>Төлем чегінің фотосын жіберіңіз</b>"
}

func ReceiptReceived() string {
	return "✅ <b>Чек получен!</b>\n\nМы проверим оплату и скоро свяжемся с вами.\n\n" +
		"🇰🇿 <b>Чек алынды!</b>\n\nТөлемді тексереміз және жақында хабарласамыз."
}

func ReceiptAlreadyReceived(shortCode string) string {
	return fmt.Sprintf("ℹ️ Чек по заказу #%s уже на проверке. Дождитесь ответа.\n\n"+
		"🇰🇿 #%s тапсырысының чегі тексерілуде.", esc(shortCode), esc(shortCode))
}

func PaymentAlreadyConfirmed(shortCode string) string {
	return fmt.Sprintf("✅ Оплата заказа #%s уже подтверждена.\n\n"+
		"🇰🇿 #%s тапсырысының төлемі расталған.", esc(shortCode), esc(shortCode))
}

func NoPayableOrder() string {
	return "🤔 Не нашли заказ, ожидающий оплаты.\n\n" +
		"Оформите заказ в '📦 Кондитерская' или нажмите «📤 Подтвердить оплату» в сообщении с реквизитами.\n\n" +
		"🇰🇿 Төлем күтіп тұрған тапсырыс табылмады."
}

func SomethingWrong() string {
	return "⚠️ Что-то пошло не так. Мы свяжемся с вами.\n\n🇰🇿 Бірдеңе дұрыс болмады. Біз сізбен хабарласамыз."
}

// Подпись к фото ограничена 1024 символами, длинный состав заказа обрезается.
const captionItems = 15

// ReceiptCaption - подпись к чеку для оператора с полным составом заказа.
func ReceiptCaption(o orders.Order, received time.Time) string {
	var items []string
	for i, it := range o.Items {
		if i == captionItems {
			items = append(items, fmt.Sprintf("… и ещё %d", len(o.Items)-captionItems))
			break
		}
		items = append(items, fmt.Sprintf("• %s x%d - %s₸", esc(it.Name), it.Qty(), Money(it.Sum())))
	}
	itemsList := strings.Join(items, "\n")

	var b strings.Builder
	b.WriteString("📸 <b>ЧЕК ОПЛАТЫ</b>\n\n")
	fmt.Fprintf(&b, "📋 Заказ #%s\n", o.ShortCode())
	fmt.Fprintf(&b, "👤 Клиент: %s\n", esc(orDefault(o.CustomerName, "Не указано")))
	fmt.Fprintf(&b, "📱 Телефон: %s\n", esc(orDefault(o.CustomerPhone, "Не указано")))
	fmt.Fprintf(&b, "💰 Сумма: %s₸\n\n", Money(o.Total))
	fmt.Fprintf(&b, "📦 <b>Состав заказа:</b>\n%s\n\n", orDefault(itemsList, "Нет товаров"))
	fmt.Fprintf(&b, "💬 Комментарий: %s\n\n", esc(orDefault(o.CustomerComment, "Нет")))
	fmt.Fprintf(&b, "🕐 %s", received.Format(dateLayout))
	return b.String()
}

// ReceiptSummaryCaption - подпись по кэшированной сводке, когда строки заказа нет в базе.
func ReceiptSummaryCaption(shortCode, customerName string, total, userID int64) string {
	var b strings.Builder
	b.WriteString("📸 <b>ЧЕК ОБ ОПЛАТЕ</b>\n\n")
	fmt.Fprintf(&b, "📋 Заказ #%s\n", esc(shortCode))
	fmt.Fprintf(&b, "👤 %s\n", esc(customerName))
	fmt.Fprintf(&b, "💰 %d ₸\n", total)
	fmt.Fprintf(&b, "ID: %d", userID)
	return b.String()
}

// MarkCaption дописывает отметку к подписи. Исходная подпись приходит без разметки,
// поэтому экранируется перед повторной отправкой в HTML.
func MarkCaption(caption, marker string) string {
	if strings.TrimSpace(caption) == "" {
		return marker
	}
	return esc(caption) + "\n\n" + marker
}

// HasMarker сообщает, что подпись уже отмечена. Telegram возвращает подпись без разметки,
// поэтому сравнение идёт с текстом отметки без тегов.
func HasMarker(caption, marker string) bool {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return false
	}
	return strings.HasSuffix(caption, marker) || strings.HasSuffix(caption, stripTags(marker))
}

func stripTags(s string) string {
	return strings.NewReplacer("<b>", "", "</b>", "").Replace(s)
}

func PaymentConfirmed(shortCode string) string {
	return fmt.Sprintf("✅ <b>Оплата подтверждена!</b>\n\n📋 Заказ #%s\n\nМы приняли ваш заказ в работу! 👨‍🍳\n\n"+
		"🇰🇿 <b>Төлем расталды!</b> Тапсырысыңыз орындалуда.", esc(shortCode))
}

func ReceiptRejected(shortCode string) string {
	return fmt.Sprintf("❌ <b>Чек не принят</b>\n\n📋 Заказ #%s\n\n"+
		"Пожалуйста, отправьте корректный чек или свяжитесь с нами.\n\n"+
		"🇰🇿 <b>Чек қабылданбады</b>\n\nДұрыс чекті жіберіңіз немесе бізбен хабарласыңыз.", esc(shortCode))
}

// Proposal - встречное предложение оператора по заказу.
func Proposal(o orders.Order, comment string, price int64) string {
	var b strings.Builder
	b.WriteString("💬 <b>Уточнение по заказу / Тапсырыс бойынша нақтылау</b>\n\n")
	fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n\n", o.ShortCode())
	if comment != "" {
		fmt.Fprintf(&b, "%s\n\n", esc(comment))
	}
	if price != o.Total {
		fmt.Fprintf(&b, "Было: <s>%d ₸</s>\n", o.Total)
	}
	fmt.Fprintf(&b, "💰 Новая цена / Жаңа баға: <b>%d ₸</b>\n\n", price)
	b.WriteString("Подтвердите, обсудите или отмените заказ.\nТапсырысты растаңыз, талқылаңыз немесе бас тартыңыз.")
	return b.String()
}

func ProposalAccepted(shortCode string, total int64) string {
	return fmt.Sprintf("🤝 <b>Спасибо! Заказ #%s подтверждён</b>\n\n💰 К оплате: <b>%d ₸</b>\n\n"+
		"После оплаты нажмите кнопку ниже и отправьте скриншот чека.\n"+
		"Төлегеннен кейін төмендегі батырманы басып, чектің скриншотын жіберіңіз.", esc(shortCode), total)
}

func ProposalAcceptedOperator(o orders.Order) string {
	return fmt.Sprintf("🤝 Клиент %s принял предложение по заказу #%s\n💰 Итого: %d ₸",
		esc(o.CustomerName), o.ShortCode(), o.Total)
}

func ProposalCancelled(shortCode string) string {
	return fmt.Sprintf("❌ <b>Заказ #%s отменён</b>\n\nЖаль! Будем рады видеть вас снова.\n\n"+
		"🇰🇿 Тапсырыс жойылды.", esc(shortCode))
}

func ProposalCancelledOperator(o orders.Order) string {
	return fmt.Sprintf("🚫 Клиент %s отказался от заказа #%s", esc(o.CustomerName), o.ShortCode())
}

// OrderConfirmed - подтверждение заказа без изменений.
func OrderConfirmed(o orders.Order) string {
	return fmt.Sprintf("✅ <b>Ваш заказ подтверждён! / Тапсырысыңыз расталды!</b>\n\n📋 Заказ / Тапсырыс #%s\n"+
		"💰 Сумма / Сомасы: <b>%d ₸</b>\n\nМы свяжемся с вами, когда заказ будет готов.", o.ShortCode(), o.Total)
}

// OrderRejected - отказ оператора с причиной.
func OrderRejected(o orders.Order, reason string) string {
	var b strings.Builder
	b.WriteString("😔 <b>Не можем принять заказ / Тапсырысты қабылдай алмаймыз</b>\n\n")
	fmt.Fprintf(&b, "📋 Заказ / Тапсырыс #%s\n", o.ShortCode())
	if reason != "" {
		fmt.Fprintf(&b, "\nПричина: %s\n", esc(reason))
	}
	b.WriteString("\nПриносим извинения. / Кешірім сұраймыз.")
	return b.String()
}

func Welcome(firstName string) string {
	return fmt.Sprintf("Привет, %s! 👋\n\nДобро пожаловать в нашу кондитерскую! 🎂\n\n"+
		"Нажми на кнопку ниже, чтобы посмотреть наши вкусности:", esc(orDefault(firstName, "друг")))
}

func AdminPanel() string {
	return "⚙️ <b>Панель администратора</b>\n\nКнопка '📢 Рассылка' внизу экрана запускает рассылку клиентам."
}

func Help(operator bool) string {
	text := "🤖 <b>Команды бота:</b>\n\n/start - Главное меню\n/help - Помощь\n/contact - Контакты\n\n"
	if operator {
		text += "<b>Команды администратора:</b>\n/broadcast [текст] - Рассылка всем клиентам\n" +
			"/stats - Статистика заказов\n/detailed_stats - Подробная статистика\n/customers - База клиентов\n\n"
	}
	return text + "Для заказа нажмите на кнопку '📦 Кондитерская'"
}

func Contact() string {
	return "📞 <b>Наши контакты:</b>\n\nТелефон: +7 (777) 888-88-88\nEmail: info@bakery.kz\n" +
		"Адрес: г. Астана, ул. Астана 8\n\nГрафик работы:\nПн-Вс: 09:00 - 21:00"
}

func Fallback() string {
	return "Я бот-помощник кондитерской! 🤖\nНажмите '📦 Кондитерская' чтобы сделать заказ."
}

func Cancelled() string { return "✅ Действие отменено" }

func BroadcastHowTo() string {
	return "📢 <b>Как сделать рассылку:</b>\n\nИспользуйте команду:\n<code>/broadcast Ваше сообщение</code>\n\n" +
		"Пример:\n<code>/broadcast 🎉 Скидка 20% на все торты до конца недели!</code>\n\n" +
		"Или просто нажмите кнопку '📢 Рассылка' и следуйте инструкциям."
}

func BroadcastPrompt() string {
	return "📝 <b>Создание рассылки</b>\n\nОтправьте текст для рассылки всем клиентам.\n" +
		"Поддерживается форматирование HTML.\n\nЧтобы отменить - напишите /cancel"
}

func BroadcastStarted() string { return "📤 Начинаю рассылку..." }

func BroadcastNoRecipients() string { return "❌ Нет клиентов для рассылки" }

func BroadcastReport(total, sent, failed int) string {
	return fmt.Sprintf("✅ <b>Рассылка завершена!</b>\n\n👥 Всего клиентов: %d\n✅ Успешно отправлено: %d\n❌ Ошибок: %d",
		total, sent, failed)
}

func BroadcastFailed(err error) string {
	return "❌ Ошибка рассылки: " + esc(err.Error())
}

func StatsFailed(err error) string {
	return "❌ Ошибка получения статистики: " + esc(err.Error())
}

func CustomersFailed(err error) string {
	return "❌ Ошибка получения базы клиентов: " + esc(err.Error())
}

func Stats(s stats.Summary) string {
	return fmt.Sprintf("📊 <b>Статистика магазина</b>\n\n📦 Всего заказов: %d\n💰 Общая выручка: %s ₸\n"+
		"👥 Уникальных клиентов: %d\n\n<b>По статусам:</b>\n🆕 Новые: %d\n⏳ В работе: %d\n✅ Выполнено: %d\n\n"+
		"💵 Средний чек: %s ₸\n\n<i>Для подробной статистики: /detailed_stats</i>",
		s.Orders, Money(s.Revenue), s.UniqueClients, s.New, s.Processing, s.Completed, Money(s.AvgCheck))
}

func DetailedStats(d stats.Detail) string {
	top := make([]string, 0, len(d.TopProducts))
	for i, p := range d.TopProducts {
		top = append(top, fmt.Sprintf("%d. %s - %d шт. (%s₸)", i+1, esc(p.Name), p.Count, Money(p.Revenue)))
	}
	topText := orDefault(strings.Join(top, "\n"), "Нет данных")

	var b strings.Builder
	b.WriteString("📊 <b>ДЕТАЛЬНАЯ СТАТИСТИКА</b>\n\n")
	b.WriteString("📈 <b>ВЫРУЧКА:</b>\n")
	fmt.Fprintf(&b, "💰 Всего: %s ₸\n", Money(d.Revenue))
	fmt.Fprintf(&b, "✅ Завершено: %s ₸\n", Money(d.CompletedRevenue))
	fmt.Fprintf(&b, "📅 Сегодня: %s ₸\n", Money(d.Today.Revenue))
	fmt.Fprintf(&b, "📅 За неделю: %s ₸\n", Money(d.Week.Revenue))
	fmt.Fprintf(&b, "📅 За месяц: %s ₸\n\n", Money(d.Month.Revenue))
	b.WriteString("📦 <b>ЗАКАЗЫ:</b>\n")
	fmt.Fprintf(&b, "📊 Всего: %d\n", d.Orders)
	fmt.Fprintf(&b, "📅 Сегодня: %d\n", d.Today.Orders)
	fmt.Fprintf(&b, "📅 За неделю: %d\n", d.Week.Orders)
	fmt.Fprintf(&b, "📅 За месяц: %d\n", d.Month.Orders)
	fmt.Fprintf(&b, "💵 Средний чек: %s ₸\n\n", Money(d.AvgCheck))
	b.WriteString("🎯 <b>КОНВЕРСИЯ:</b>\n")
	fmt.Fprintf(&b, "✅ Выполнено: %d (%d%%)\n", d.Completed, d.ConversionRate)
	fmt.Fprintf(&b, "⏳ Ожидают оплаты: %d\n", d.PendingPayment)
	fmt.Fprintf(&b, "❌ Отменено: %d\n\n", d.Cancelled)
	b.WriteString("👥 <b>КЛИЕНТЫ:</b>\n")
	fmt.Fprintf(&b, "👤 Уникальных: %d\n", d.UniqueClients)
	fmt.Fprintf(&b, "🔄 Повторных: %d (%d%%)\n", d.RepeatClients, d.RepeatRate)
	fmt.Fprintf(&b, "📊 Заказов на клиента: %.1f\n\n", d.OrdersPerUser)
	fmt.Fprintf(&b, "🏆 <b>ТОП-5 ТОВАРОВ:</b>\n%s\n\n", topText)
	b.WriteString("📦 <b>ТОВАРЫ В КАТАЛОГЕ:</b>\n")
	fmt.Fprintf(&b, "Всего: %d\n", d.CatalogTotal)
	fmt.Fprintf(&b, "Доступно: %d", d.CatalogInStock)
	return b.String()
}

func Customers(list []orders.Customer) string {
	if len(list) == 0 {
		return "📊 База клиентов пуста.\n\nКлиенты появятся после первого заказа через Mini App."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>БАЗА КЛИЕНТОВ</b>\n\nТоп-%d по сумме покупок:\n\n", len(list))
	for i, c := range list {
		username := ""
		if c.Username != "" {
			username = "@" + esc(c.Username)
		}
		last := "Неизвестно"
		if !c.LastOrderAt.IsZero() {
			last = c.LastOrderAt.Format(dayLayout)
		}
		fmt.Fprintf(&b, "%d. <b>%s</b> %s\n", i+1, esc(orDefault(c.Name, "Аноним")), username)
		fmt.Fprintf(&b, "   📱 %s\n", esc(orDefault(c.Phone, "Нет номера")))
		fmt.Fprintf(&b, "   📦 Заказов: %d | 💰 %s₸\n", c.OrderCount, Money(c.TotalSpent))
		fmt.Fprintf(&b, "   📅 Последний: %s\n\n", last)
	}
	return strings.TrimRight(b.String(), "\n")
}
