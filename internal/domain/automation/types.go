// Package automation implements the polling/classification loop (Automation
// Engine): it fetches the order book on a fixed interval, classifies each row
// against the previous poll's observations, and turns message-worthy status
// transitions into Job Queue entries.
package automation

import (
	"fmt"
	"strings"
	"time"

	"order-messaging-automation/internal/domain/sheet"
)

// Observation is the previous-poll snapshot of one row, keyed by its stable
// order key (see StableOrderKey), used to detect status transitions (P2:
// classification is a pure function of (current row, previous observation)).
type Observation struct {
	Status     string
	ObservedAt time.Time
}

// History is the full Observation snapshot across all rows, persisted after
// each iteration completes fully (a crash mid-iteration
// reprocesses the same rows next cycle — the Duplicate Guard, not this
// snapshot, is what prevents a resend).
type History map[string]Observation

// Clone returns an independent copy of h.
func (h History) Clone() History {
	out := make(History, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Transition is the outcome of classifying one OrderRow against History.
type Transition int

const (
	// TransitionNone means no message-worthy change: unchanged row, or a
	// status with no mapped message type (resolved Open Question: unmapped
	// statuses are a no-op, not an error).
	TransitionNone Transition = iota
	// TransitionNew means the row was not present in the previous snapshot.
	TransitionNew
	// TransitionStatusChanged means the row's status differs from the
	// previous observation.
	TransitionStatusChanged
)

// ClassifiedRow bundles an OrderRow with its classification outcome and the
// message type it maps to, if any.
type ClassifiedRow struct {
	Row               sheet.OrderRow
	OrderKey          string
	Transition        Transition
	MessageType       string
	IsReminderTrigger bool
	IsRejectedOffer   bool
}

// StableOrderKey derives the persistent identity of row (§3 of the data
// model): the explicit OrderID if present, else a composite of a name
// prefix, phone suffix and timestamp suffix, else a row-index fallback. Used
// to index Observation History so a row inserted above an order, or a
// re-sort of the sheet, does not remap that order's tracked status.
func StableOrderKey(row sheet.OrderRow) string {
	if id := strings.TrimSpace(row.OrderID); id != "" {
		return id
	}

	namePrefix := runePrefix(row.CustomerName, 3)
	phoneSuffix := digitSuffix(row.Phone, 4)
	if phoneSuffix == "" {
		phoneSuffix = digitSuffix(row.AlternatePhone, 4)
	}
	timestampSuffix := runeSuffix(row.Timestamp, 6)

	if namePrefix != "" && phoneSuffix != "" && timestampSuffix != "" {
		return namePrefix + "-" + phoneSuffix + "-" + timestampSuffix
	}

	return fmt.Sprintf("row_%d_%s", row.RowIndex, namePrefix)
}

// runePrefix returns the first n runes of the trimmed s (or the whole string
// if shorter).
func runePrefix(s string, n int) string {
	trimmed := strings.TrimSpace(s)
	runes := []rune(trimmed)
	if len(runes) <= n {
		return trimmed
	}
	return string(runes[:n])
}

// runeSuffix returns the last n runes of the trimmed s (or the whole string
// if shorter).
func runeSuffix(s string, n int) string {
	trimmed := strings.TrimSpace(s)
	runes := []rune(trimmed)
	if len(runes) <= n {
		return trimmed
	}
	return string(runes[len(runes)-n:])
}

// digitSuffix returns the last n digits found in s (non-digit runes
// discarded), or every digit found if fewer than n are present.
func digitSuffix(s string, n int) string {
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= n {
		return string(digits)
	}
	return string(digits[len(digits)-n:])
}
