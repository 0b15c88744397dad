// Package dedupe реализует Duplicate Guard: durable множество ключей «уже
// отправлено», обеспечивающее доставку не более одного раза на (заказ, тип
// сообщения) (P1/P5). Проверка должна доминировать над отправкой: ничто не
// уходит транспорту без предварительного Check.
package dedupe

import "context"

// Guard проверяет, помечает и снимает отметку об отправке для тройки
// (orderID, phone, name) и типа сообщения msgType. Реализации хранят три
// независимых семейства ключей (по заказу, по телефону, по имени) — сработавший
// любой из них уже означает «отправлено», чтобы один и тот же получатель не
// получил то же сообщение дважды под другим orderID.
type Guard interface {
	// Check сообщает true, если сообщение этого типа уже было отправлено
	// этому заказу/телефону/имени.
	Check(ctx context.Context, orderID, phone, name, msgType string) (bool, error)

	// Mark отмечает сообщение как отправленное. Вызывается до фактической
	// доставки (optimistic claim); при перманентной ошибке доставки вызывается Clear.
	Mark(ctx context.Context, orderID, phone, name, msgType string) error

	// Clear снимает отметку, сделанную Mark. Используется только при
	// перманентном сбое доставки, чтобы не блокировать повторную попытку
	// в следующем цикле опроса (резолюция Open Question «mark только при
	// успешном clear»).
	Clear(ctx context.Context, orderID, phone, name, msgType string) error
}

var (
	bucketOrder = []byte("msg_order")
	bucketPhone = []byte("msg_phone")
	bucketName  = []byte("msg_name")
)

// guardKey is one derived key family, carrying both its bbolt bucket
// (BoltGuard) and its string form (both backends).
type guardKey struct {
	bucket []byte
	value  string
}

// keys derives the guard-key families actually present for this
// (orderID, phone, name, msgType) input. A family whose field is empty is
// omitted rather than keyed on an empty suffix — otherwise two distinct
// orderID-less orders of the same type would collide on "msg:order:{type}:".
func keys(orderID, phone, name, msgType string) []guardKey {
	var out []guardKey
	if orderID != "" {
		out = append(out, guardKey{bucket: bucketOrder, value: "msg:order:" + msgType + ":" + orderID})
	}
	if phone != "" {
		out = append(out, guardKey{bucket: bucketPhone, value: "msg:phone:" + msgType + ":" + phone})
	}
	if name != "" {
		out = append(out, guardKey{bucket: bucketName, value: "msg:name:" + msgType + ":" + name})
	}
	return out
}
