package automation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-messaging-automation/internal/domain/sheet"
)

func testClassifier() Classifier {
	return Classifier{
		StatusTypes: StatusMessageType{
			"جديد":     MessageTypeNewOrder,
			"تم الشحن": MessageTypeShipped,
			"تم الرفض": MessageTypeRejectedOffer,
		},
		EnabledTypes: map[string]bool{
			"جديد":     true,
			"تم الشحن": true,
			"تم الرفض": true,
		},
		Cooldowns: map[string]time.Duration{
			MessageTypeNewOrder: 30 * time.Minute,
		},
	}
}

func TestClassify_NewRow(t *testing.T) {
	c := testClassifier()
	row := sheet.OrderRow{RowIndex: 1, Status: "جديد"}

	got := c.Classify(row, Observation{}, false)

	if got.Transition != TransitionNew {
		t.Fatalf("Transition = %v, want TransitionNew", got.Transition)
	}
	if got.MessageType != MessageTypeNewOrder {
		t.Fatalf("MessageType = %q, want %q", got.MessageType, MessageTypeNewOrder)
	}
	if !got.IsReminderTrigger {
		t.Fatal("expected IsReminderTrigger = true")
	}
}

func TestClassify_UnchangedRow(t *testing.T) {
	c := testClassifier()
	row := sheet.OrderRow{RowIndex: 1, Status: "تم الشحن"}
	prev := Observation{Status: "تم الشحن"}

	got := c.Classify(row, prev, true)

	if got.Transition != TransitionNone {
		t.Fatalf("Transition = %v, want TransitionNone", got.Transition)
	}
}

func TestClassify_StatusChanged(t *testing.T) {
	c := testClassifier()
	row := sheet.OrderRow{RowIndex: 1, Status: "تم الرفض"}
	prev := Observation{Status: "تم الشحن"}

	got := c.Classify(row, prev, true)

	if got.Transition != TransitionStatusChanged {
		t.Fatalf("Transition = %v, want TransitionStatusChanged", got.Transition)
	}
	if got.MessageType != MessageTypeRejectedOffer {
		t.Fatalf("MessageType = %q, want %q", got.MessageType, MessageTypeRejectedOffer)
	}
	if !got.IsRejectedOffer {
		t.Fatal("expected IsRejectedOffer = true")
	}
}

func TestClassifier_CooldownFor(t *testing.T) {
	c := testClassifier()

	d, ok := c.CooldownFor(MessageTypeNewOrder)
	if !ok || d != 30*time.Minute {
		t.Fatalf("CooldownFor(newOrder) = %v, %v; want 30m, true", d, ok)
	}

	if _, ok := c.CooldownFor(MessageTypeShipped); ok {
		t.Fatal("expected no configured cooldown for shipped")
	}
}

func TestClassify_UnmappedStatusIsNoOp(t *testing.T) {
	c := testClassifier()
	row := sheet.OrderRow{RowIndex: 1, Status: "قيد الانتظار"}

	got := c.Classify(row, Observation{}, false)

	if got.Transition != TransitionNone {
		t.Fatalf("Transition = %v, want TransitionNone for unmapped status", got.Transition)
	}
}

func TestClassify_DisabledStatusTypeIsNoOp(t *testing.T) {
	c := testClassifier()
	c.EnabledTypes["تم الشحن"] = false
	row := sheet.OrderRow{RowIndex: 1, Status: "تم الشحن"}

	got := c.Classify(row, Observation{}, false)

	if got.Transition != TransitionNone {
		t.Fatalf("Transition = %v, want TransitionNone for disabled status", got.Transition)
	}
}

func TestDiscountedAmount(t *testing.T) {
	amount := decimal.NewFromFloat(199.99)

	discounted, saved := DiscountedAmount(amount, 20)

	wantSaved := decimal.NewFromFloat(40.00)
	wantDiscounted := decimal.NewFromFloat(159.99)

	if !saved.Equal(wantSaved) {
		t.Fatalf("saved = %s, want %s", saved, wantSaved)
	}
	if !discounted.Equal(wantDiscounted) {
		t.Fatalf("discounted = %s, want %s", discounted, wantDiscounted)
	}
}

func TestDiscountedAmount_ZeroPercentIsNoOp(t *testing.T) {
	amount := decimal.NewFromFloat(50)

	discounted, saved := DiscountedAmount(amount, 0)

	if !saved.IsZero() {
		t.Fatalf("saved = %s, want 0", saved)
	}
	if !discounted.Equal(amount) {
		t.Fatalf("discounted = %s, want %s", discounted, amount)
	}
}
