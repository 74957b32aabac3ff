package bot

import (
	"strings"

	"shop-order-bridge/internal/format"
)

type CallbackKind int

const (
	CallbackUnknown CallbackKind = iota
	CallbackReceipt
	CallbackConfirmPayment
	CallbackRejectPayment
	CallbackAcceptProposal
	CallbackCancelOrder
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackReceipt:
		return "receipt"
	case CallbackConfirmPayment:
		return "confirm_payment"
	case CallbackRejectPayment:
		return "reject_payment"
	case CallbackAcceptProposal:
		return "accept_proposal"
	case CallbackCancelOrder:
		return "cancel_order"
	}
	return "unknown"
}

// OperatorOnly - действия, которые может выполнять только оператор.
func (k CallbackKind) OperatorOnly() bool {
	return k == CallbackConfirmPayment || k == CallbackRejectPayment
}

type Callback struct {
	Kind    CallbackKind
	OrderID string
}

var callbackPrefixes = []struct {
	prefix string
	kind   CallbackKind
}{
	{format.PrefixConfirmPayment, CallbackConfirmPayment},
	{format.PrefixRejectPayment, CallbackRejectPayment},
	{format.PrefixAcceptProposal, CallbackAcceptProposal},
	{format.PrefixCancelOrder, CallbackCancelOrder},
	{format.PrefixReceipt, CallbackReceipt},
}

// ParseCallback разбирает данные кнопки один раз на входе. Пустой id заказа - неизвестная кнопка.
func ParseCallback(data string) Callback {
	for _, p := range callbackPrefixes {
		if strings.HasPrefix(data, p.prefix) {
			id := strings.TrimPrefix(data, p.prefix)
			if id == "" {
				break
			}
			return Callback{Kind: p.kind, OrderID: id}
		}
	}
	return Callback{Kind: CallbackUnknown}
}
