package stats

import (
	"sort"
	"time"

	"shop-order-bridge/internal/orders"
)

type Summary struct {
	Orders        int
	Revenue       int64
	UniqueClients int
	New           int
	Processing    int
	Completed     int
	AvgCheck      int64
}

func Summarize(list []orders.Order) Summary {
	s := Summary{Orders: len(list)}
	clients := make(map[int64]struct{})
	for _, o := range list {
		s.Revenue += o.Total
		if o.TelegramUserID != 0 {
			clients[o.TelegramUserID] = struct{}{}
		}
		switch o.Status {
		case orders.StatusNew:
			s.New++
		case orders.StatusProcessing:
			s.Processing++
		case orders.StatusCompleted:
			s.Completed++
		}
	}
	s.UniqueClients = len(clients)
	if s.Orders > 0 {
		s.AvgCheck = s.Revenue / int64(s.Orders)
	}
	return s
}

type Period struct {
	Orders  int
	Revenue int64
}

type ProductSales struct {
	Name    string
	Count   int
	Revenue int64
}

type Detail struct {
	Summary

	CompletedRevenue int64
	Today            Period
	Week             Period
	Month            Period

	PendingPayment int
	Cancelled      int
	ConversionRate int

	RepeatClients  int
	RepeatRate     int
	OrdersPerUser  float64
	TopProducts    []ProductSales
	CatalogTotal   int
	CatalogInStock int
}

const topProductsLimit = 5

// Details считает развёрнутую статистику. Периоды отсчитываются от начала текущего дня.
func Details(list []orders.Order, products []orders.Product, now time.Time) Detail {
	d := Detail{Summary: Summarize(list)}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := today.AddDate(0, 0, -7)
	monthAgo := today.AddDate(0, 0, -30)

	perClient := make(map[int64]int)
	sales := make(map[string]*ProductSales)

	for _, o := range list {
		switch o.Status {
		case orders.StatusCompleted:
			d.CompletedRevenue += o.Total
		case orders.StatusPendingPayment:
			d.PendingPayment++
		case orders.StatusCancelled:
			d.Cancelled++
		}
		if !o.CreatedAt.Before(today) {
			d.Today.add(o.Total)
		}
		if !o.CreatedAt.Before(weekAgo) {
			d.Week.add(o.Total)
		}
		if !o.CreatedAt.Before(monthAgo) {
			d.Month.add(o.Total)
		}
		if o.TelegramUserID != 0 {
			perClient[o.TelegramUserID]++
		}
		for _, it := range o.Items {
			name := it.Name
			if name == "" {
				name = "Неизвестный товар"
			}
			ps, ok := sales[name]
			if !ok {
				ps = &ProductSales{Name: name}
				sales[name] = ps
			}
			ps.Count += it.Qty()
			ps.Revenue += it.Sum()
		}
	}

	if d.Orders > 0 {
		d.ConversionRate = percent(d.Completed, d.Orders)
	}
	for _, n := range perClient {
		if n > 1 {
			d.RepeatClients++
		}
	}
	if d.UniqueClients > 0 {
		d.RepeatRate = percent(d.RepeatClients, d.UniqueClients)
		d.OrdersPerUser = float64(d.Orders) / float64(d.UniqueClients)
	}

	top := make([]ProductSales, 0, len(sales))
	for _, ps := range sales {
		top = append(top, *ps)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Name < top[j].Name
	})
	if len(top) > topProductsLimit {
		top = top[:topProductsLimit]
	}
	d.TopProducts = top

	d.CatalogTotal = len(products)
	for _, p := range products {
		if p.Available {
			d.CatalogInStock++
		}
	}
	return d
}

func (p *Period) add(total int64) {
	p.Orders++
	p.Revenue += total
}

// TopCustomers группирует заказы по клиенту и сортирует по сумме покупок.
func TopCustomers(list []orders.Order, limit int) []orders.Customer {
	byID := make(map[int64]*orders.Customer)
	for _, o := range list {
		if o.TelegramUserID == 0 {
			continue
		}
		c, ok := byID[o.TelegramUserID]
		if !ok {
			c = &orders.Customer{TelegramUserID: o.TelegramUserID}
			byID[o.TelegramUserID] = c
		}
		c.OrderCount++
		c.TotalSpent += o.Total
		if !o.CreatedAt.Before(c.LastOrderAt) {
			c.LastOrderAt = o.CreatedAt
			c.Name = o.CustomerName
			c.Phone = o.CustomerPhone
			if o.TelegramUsername != "" {
				c.Username = o.TelegramUsername
			}
		}
		if c.Username == "" {
			c.Username = o.TelegramUsername
		}
	}

	out := make([]orders.Customer, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSpent != out[j].TotalSpent {
			return out[i].TotalSpent > out[j].TotalSpent
		}
		return out[i].TelegramUserID < out[j].TelegramUserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func percent(part, whole int) int {
	return int(float64(part)/float64(whole)*100 + 0.5)
}
