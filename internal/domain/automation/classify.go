package automation

import (
	"time"

	"github.com/shopspring/decimal"

	"order-messaging-automation/internal/domain/sheet"
)

// Message-type names a status maps to (§6.2). Reminder and rejected-offer
// follow-ups are not statuses themselves: they are schedule-time
// consequences of a row currently classifying as one of these two.
const (
	MessageTypeNewOrder      = "newOrder"
	MessageTypeNoAnswer      = "noAnswer"
	MessageTypeShipped       = "shipped"
	MessageTypeRejectedOffer = "rejectedOffer"
)

// StatusMessageType maps an order's Arabic status string to the message type
// name used as a Duplicate Guard / Job Queue key.
type StatusMessageType map[string]string

// Classifier applies StatusMessageType and the enabled-status flags to decide
// whether a row is message-worthy, pure per P2: its result depends only on
// the current row and the previous Observation, never on hidden state.
type Classifier struct {
	StatusTypes  StatusMessageType
	EnabledTypes map[string]bool
	// Cooldowns holds the minimum elapsed time since the last recorded send
	// for a given message type before another is attempted, independent of
	// the Duplicate Guard's own existence check (§6.2 table).
	Cooldowns map[string]time.Duration
}

// CooldownFor returns the configured minimum-resend cooldown for msgType, if any.
func (c Classifier) CooldownFor(msgType string) (time.Duration, bool) {
	d, ok := c.Cooldowns[msgType]
	return d, ok
}

// Classify compares row against its previous Observation (ok=false if the row
// is new) and returns the classification outcome.
func (c Classifier) Classify(row sheet.OrderRow, prev Observation, hadPrev bool) ClassifiedRow {
	out := ClassifiedRow{Row: row}

	switch {
	case !hadPrev:
		out.Transition = TransitionNew
	case prev.Status != row.Status:
		out.Transition = TransitionStatusChanged
	default:
		out.Transition = TransitionNone
		return out
	}

	msgType, mapped := c.StatusTypes[row.Status]
	if !mapped || !c.EnabledTypes[row.Status] {
		out.Transition = TransitionNone
		return out
	}
	out.MessageType = msgType
	out.IsReminderTrigger = msgType == MessageTypeNewOrder
	out.IsRejectedOffer = msgType == MessageTypeRejectedOffer
	return out
}

// DiscountedAmount applies a percentage discount (0-100) to amount and
// returns the discounted total alongside the amount saved. Uses
// decimal.Decimal rather than float64 so order-amount arithmetic never loses
// cents to binary floating-point rounding.
func DiscountedAmount(amount decimal.Decimal, percent int) (discounted, saved decimal.Decimal) {
	factor := decimal.NewFromInt(int64(percent)).Div(decimal.NewFromInt(100))
	saved = amount.Mul(factor).Round(2)
	discounted = amount.Sub(saved).Round(2)
	return discounted, saved
}
