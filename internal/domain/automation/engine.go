package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"order-messaging-automation/internal/domain/dedupe"
	"order-messaging-automation/internal/domain/notifications"
	"order-messaging-automation/internal/domain/phone"
	"order-messaging-automation/internal/domain/sheet"
	"order-messaging-automation/internal/domain/transport"
	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/resilience"
	"order-messaging-automation/internal/infra/storage"
)

// EngineOptions bundles every collaborator the Automation Engine's polling
// loop depends on.
type EngineOptions struct {
	Sheet        sheet.SheetSource
	Transport    transport.ChatTransport
	Resilience   *resilience.Wrapper
	Guard        dedupe.Guard
	Queue        notifications.JobQueue
	Classifier   Classifier
	Templates    notifications.TemplateSet
	Phone        phone.Canonicalizer
	CompanyName  string
	HistoryPath  string

	CheckInterval                time.Duration
	ReminderDelay                time.Duration
	RejectedOfferDelay           time.Duration
	RejectedOfferDiscountPercent int

	Clock func() time.Time
}

// Engine runs the polling/classification loop against one order book.
type Engine struct {
	opts EngineOptions
	now  func() time.Time

	historyMu sync.RWMutex
	history   History

	templatesMu sync.RWMutex
	templates   notifications.TemplateSet

	lastSentMu sync.Mutex
	lastSent   map[string]time.Time // key: orderKey+"|"+msgType, value: last recorded send
}

// NewEngine loads any persisted History from opts.HistoryPath and returns a
// ready-to-run Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	history, err := loadHistory(opts.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("load observation history: %w", err)
	}
	return &Engine{
		opts:      opts,
		now:       opts.Clock,
		history:   history,
		templates: opts.Templates,
		lastSent:  make(map[string]time.Time),
	}, nil
}

// ReloadTemplates re-reads the template set from path and swaps it in,
// atomically with respect to concurrent RunOnce iterations. Used by the
// admin console's "reload-templates" command.
func (e *Engine) ReloadTemplates(path string) error {
	set, err := notifications.LoadTemplateSet(path)
	if err != nil {
		return fmt.Errorf("reload templates: %w", err)
	}
	e.templatesMu.Lock()
	e.templates = set
	e.templatesMu.Unlock()
	return nil
}

func (e *Engine) templateFor(msgType string) (string, bool) {
	e.templatesMu.RLock()
	defer e.templatesMu.RUnlock()
	tmpl, ok := e.templates[notifications.MessageType(msgType)]
	return tmpl, ok
}

// Run ticks every CheckInterval until ctx is done, calling RunOnce and
// logging (not propagating) per-iteration errors so a single bad poll never
// kills the service.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				logger.Errorf("automation: iteration failed: %v", err)
			}
		}
	}
}

// RunOnce executes one full polling/classification iteration: fetch rows,
// classify each against its prior observation, enqueue/schedule messages for
// anything message-worthy, and persist the updated history.
func (e *Engine) RunOnce(ctx context.Context) error {
	// Step 1: liveness gate.
	if !e.opts.Transport.IsOnline() {
		logger.Debugf("automation: transport offline, skipping iteration")
		return nil
	}

	// Step 2: fetch rows through the resilience wrapper.
	var rows []sheet.OrderRow
	err := e.opts.Resilience.Do(ctx, resilience.FamilySheetRead, func() error {
		fetched, fetchErr := e.opts.Sheet.FetchRows(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		rows = fetched
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch order rows: %w", err)
	}

	e.historyMu.RLock()
	current := e.history
	e.historyMu.RUnlock()

	nextHistory := make(History, len(rows))
	for _, row := range rows {
		orderKey := StableOrderKey(row)
		prev, hadPrev := current[orderKey]

		// Step 3: classify against the previous observation.
		classified := e.opts.Classifier.Classify(row, prev, hadPrev)
		classified.OrderKey = orderKey
		nextHistory[orderKey] = Observation{Status: row.Status, ObservedAt: e.now().UTC()}

		if classified.Transition == TransitionNone {
			continue
		}

		if err := e.handleClassifiedRow(ctx, classified); err != nil {
			logger.Errorf("automation: row %d (order %s): %v", row.RowIndex, row.OrderID, err)
		}
	}

	// Step 6: persist the new snapshot only after the whole iteration completes.
	if err := saveHistory(e.opts.HistoryPath, nextHistory); err != nil {
		return fmt.Errorf("persist observation history: %w", err)
	}
	e.historyMu.Lock()
	e.history = nextHistory
	e.historyMu.Unlock()
	return nil
}

// ResetTracking wipes the in-memory/persisted Observation History and the
// per-type resend cooldown bookkeeping, forcing the next iteration to treat
// every row as freshly observed. Used by the admin console's
// "reset-tracking" command after a sheet has been manually reconciled.
func (e *Engine) ResetTracking() {
	e.historyMu.Lock()
	e.history = make(History)
	e.historyMu.Unlock()

	e.lastSentMu.Lock()
	e.lastSent = make(map[string]time.Time)
	e.lastSentMu.Unlock()

	if err := saveHistory(e.opts.HistoryPath, make(History)); err != nil {
		logger.Errorf("automation: failed to persist reset history: %v", err)
	}
}

// TriggerOnce runs a single polling/classification iteration outside of the
// regular ticker cadence. Used by the admin console's "trigger-once" command.
func (e *Engine) TriggerOnce(ctx context.Context) error {
	return e.RunOnce(ctx)
}

// ForceProcessNewOrders re-evaluates every row currently classified as
// newOrder regardless of whether its status changed since the last
// observation. Only the transition check is bypassed: the per-type resend
// cooldown and the Duplicate Guard still apply, so an order already marked
// as sent is not sent again. It reports how many rows it attempted to (re)send.
// Used by the admin console's "force-process-new-orders" command to recover
// from a stuck sheet without wiping the whole Observation History.
func (e *Engine) ForceProcessNewOrders(ctx context.Context) (int, error) {
	if !e.opts.Transport.IsOnline() {
		return 0, fmt.Errorf("transport offline")
	}

	var rows []sheet.OrderRow
	err := e.opts.Resilience.Do(ctx, resilience.FamilySheetRead, func() error {
		fetched, fetchErr := e.opts.Sheet.FetchRows(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		rows = fetched
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fetch order rows: %w", err)
	}

	processed := 0
	for _, row := range rows {
		msgType, mapped := e.opts.Classifier.StatusTypes[row.Status]
		if !mapped || msgType != MessageTypeNewOrder {
			continue
		}
		if !e.opts.Classifier.EnabledTypes[row.Status] {
			continue
		}
		classified := ClassifiedRow{
			Row:               row,
			OrderKey:          StableOrderKey(row),
			MessageType:       msgType,
			Transition:        TransitionStatusChanged,
			IsReminderTrigger: true,
		}
		processed++
		if err := e.handleClassifiedRow(ctx, classified); err != nil {
			logger.Errorf("automation: force-process row %d (order %s): %v", row.RowIndex, row.OrderID, err)
		}
	}
	return processed, nil
}

func (e *Engine) handleClassifiedRow(ctx context.Context, row ClassifiedRow) error {
	resolvedPhone, ok := phone.Choose(e.opts.Phone, row.Row.Phone, row.Row.AlternatePhone)
	if !ok {
		return fmt.Errorf("no usable phone number for order %s", row.Row.OrderID)
	}

	// Step 4: per-type minimum-resend cooldown, checked before the Duplicate
	// Guard since it is cheaper and guards against the same order flapping
	// between synonym statuses of the same message type across polls.
	if cooldown, hasCooldown := e.opts.Classifier.CooldownFor(row.MessageType); hasCooldown && e.cooldownActive(row.OrderKey, row.MessageType, cooldown) {
		logger.Debugf("automation: order %s type %s within resend cooldown, skipping", row.Row.OrderID, row.MessageType)
	} else {
		// Step 4 (cont.): Duplicate Guard check + mark + render + enqueue.
		already, err := e.opts.Guard.Check(ctx, row.Row.OrderID, resolvedPhone, row.Row.CustomerName, row.MessageType)
		if err != nil {
			return fmt.Errorf("duplicate guard check: %w", err)
		}
		if already {
			logger.Debugf("automation: order %s type %s already sent, skipping", row.Row.OrderID, row.MessageType)
		} else {
			if err := e.enqueueMessage(ctx, row, resolvedPhone); err != nil {
				return err
			}
			e.recordSent(row.OrderKey, row.MessageType)
		}
	}

	// Step 5: schedule a delayed follow-up where applicable.
	if row.IsReminderTrigger {
		e.scheduleReminder(row, resolvedPhone, e.opts.ReminderDelay, "reminder", 0)
	}
	if row.IsRejectedOffer {
		e.scheduleReminder(row, resolvedPhone, e.opts.RejectedOfferDelay, "rejected_offer_followup", e.opts.RejectedOfferDiscountPercent)
	}
	return nil
}

func (e *Engine) enqueueMessage(ctx context.Context, row ClassifiedRow, resolvedPhone string) error {
	tmpl, ok := e.templateFor(row.MessageType)
	if !ok {
		return fmt.Errorf("no template for message type %q", row.MessageType)
	}

	text := notifications.RenderTemplate(tmpl, notifications.TemplateData{
		Name:           row.Row.CustomerName,
		OrderID:        row.Row.OrderID,
		Amount:         row.Row.Amount,
		ProductName:    row.Row.ProductName,
		TrackingNumber: row.Row.TrackingNumber,
		CompanyName:    e.opts.CompanyName,
	})

	if err := e.opts.Guard.Mark(ctx, row.Row.OrderID, resolvedPhone, row.Row.CustomerName, row.MessageType); err != nil {
		return fmt.Errorf("duplicate guard mark: %w", err)
	}

	job := notifications.Job{
		OrderID: row.Row.OrderID,
		Phone:   resolvedPhone,
		Name:    row.Row.CustomerName,
		Type:    notifications.MessageType(row.MessageType),
		Text:    text,
	}
	e.opts.Queue.Enqueue(job)
	return nil
}

// scheduleReminder hands the queue only the raw fields needed to re-evaluate
// and render the follow-up at FireAt: the order's status at scheduling time,
// so Resolve can detect a stale precondition (P3) instead of firing
// a message built from data that no longer matches the sheet.
func (e *Engine) scheduleReminder(row ClassifiedRow, resolvedPhone string, delay time.Duration, msgType string, discountPercent int) {
	e.opts.Queue.ScheduleReminder(notifications.ReminderJob{
		OrderID:         row.Row.OrderID,
		RowIndex:        row.Row.RowIndex,
		Phone:           resolvedPhone,
		CustomerName:    row.Row.CustomerName,
		OrderStatus:     row.Row.Status,
		MessageType:     notifications.MessageType(msgType),
		DiscountPercent: discountPercent,
		FireAt:          e.now().UTC().Add(delay),
	})
}

// Resolve implements notifications.ReminderResolver. It re-fetches
// the order book, re-checks the reminder's precondition (the order's status
// must be unchanged since scheduling, P3), and — only if it still holds —
// renders the message and runs it past the Duplicate Guard under the
// reminder's own message type, distinct from the primary message's Guard key.
func (e *Engine) Resolve(ctx context.Context, reminder notifications.ReminderJob) (notifications.Job, bool, error) {
	var rows []sheet.OrderRow
	err := e.opts.Resilience.Do(ctx, resilience.FamilySheetRead, func() error {
		fetched, fetchErr := e.opts.Sheet.FetchRows(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		rows = fetched
		return nil
	})
	if err != nil {
		return notifications.Job{}, false, fmt.Errorf("fetch order rows: %w", err)
	}

	row, found := findReminderRow(rows, reminder.OrderID, reminder.RowIndex)
	if !found || row.Status != reminder.OrderStatus {
		logger.Debugf("automation: reminder for order %s precondition no longer holds, dropping", reminder.OrderID)
		return notifications.Job{}, false, nil
	}

	msgType := string(reminder.MessageType)
	tmpl, ok := e.templateFor(msgType)
	if !ok {
		logger.Warnf("automation: no template for delayed message type %q, dropping reminder", msgType)
		return notifications.Job{}, false, nil
	}

	discounted, saved := DiscountedAmount(row.Amount, reminder.DiscountPercent)
	text := notifications.RenderTemplate(tmpl, notifications.TemplateData{
		Name:             row.CustomerName,
		OrderID:          row.OrderID,
		Amount:           row.Amount,
		ProductName:      row.ProductName,
		TrackingNumber:   row.TrackingNumber,
		DiscountedAmount: discounted,
		SavedAmount:      saved,
		CompanyName:      e.opts.CompanyName,
	})

	already, err := e.opts.Guard.Check(ctx, row.OrderID, reminder.Phone, row.CustomerName, msgType)
	if err != nil {
		return notifications.Job{}, false, fmt.Errorf("duplicate guard check: %w", err)
	}
	if already {
		logger.Debugf("automation: reminder for order %s type %s already sent, dropping", row.OrderID, msgType)
		return notifications.Job{}, false, nil
	}
	if err := e.opts.Guard.Mark(ctx, row.OrderID, reminder.Phone, row.CustomerName, msgType); err != nil {
		return notifications.Job{}, false, fmt.Errorf("duplicate guard mark: %w", err)
	}
	e.recordSent(StableOrderKey(row), msgType)

	return notifications.Job{
		OrderID: row.OrderID,
		Phone:   reminder.Phone,
		Name:    row.CustomerName,
		Type:    reminder.MessageType,
		Text:    text,
	}, true, nil
}

// findReminderRow locates the row a matured reminder refers to: by OrderID
// when one was recorded, else by RowIndex — mirroring the same fallback
// StableOrderKey applies when a row carries no explicit order identifier.
func findReminderRow(rows []sheet.OrderRow, orderID string, rowIndex int) (sheet.OrderRow, bool) {
	if orderID != "" {
		for _, r := range rows {
			if r.OrderID == orderID {
				return r, true
			}
		}
		return sheet.OrderRow{}, false
	}
	for _, r := range rows {
		if r.RowIndex == rowIndex {
			return r, true
		}
	}
	return sheet.OrderRow{}, false
}

func (e *Engine) cooldownActive(orderKey, msgType string, cooldown time.Duration) bool {
	e.lastSentMu.Lock()
	defer e.lastSentMu.Unlock()
	last, ok := e.lastSent[orderKey+"|"+msgType]
	if !ok {
		return false
	}
	return e.now().Sub(last) < cooldown
}

func (e *Engine) recordSent(orderKey, msgType string) {
	e.lastSentMu.Lock()
	defer e.lastSentMu.Unlock()
	if e.lastSent == nil {
		e.lastSent = make(map[string]time.Time)
	}
	e.lastSent[orderKey+"|"+msgType] = e.now().UTC()
}

func loadHistory(path string) (History, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(History), nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return make(History), nil
	}
	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		logger.Warnf("automation: failed to decode history %s: %v; starting empty", path, err)
		return make(History), nil
	}
	return h, nil
}

func saveHistory(path string, h History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return storage.AtomicWriteFile(path, data)
}
