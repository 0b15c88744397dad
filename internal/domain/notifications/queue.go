// Package notifications реализует очередь доставки: постановку задач,
// планирование отложенных напоминаний, взаимодействие с транспортом и
// персистентное хранение состояния/ошибок. Очередь рассчитана на долгую
// работу, переживает рестарты (persist/restore), соблюдает приоритет
// срочных задач и дренирует оба бэклога непрерывно — сигнал по мере
// поступления, а не по окнам расписания — плюс отдельный таймер для
// напоминаний (ReminderJob.FireAt).
package notifications

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"order-messaging-automation/internal/domain/transport"
	"order-messaging-automation/internal/infra/logger"
)

// warnIfLargeSize — эвристический порог, при превышении которого в лог пишется
// предупреждение о накоплении задач.
const warnIfLargeSize = 1000

// preSendJitterMin/Max — случайная пауза перед каждой попыткой доставки,
// чтобы не создавать всплеск нагрузки на upstream-транспорт (§4.3).
const (
	preSendJitterMin = 1 * time.Second
	preSendJitterMax = 3 * time.Second
)

// JobQueue — то, что нужно Automation Engine от очереди доставки: поставить
// задание и запланировать отложенное напоминание. У обоих бэкендов (локальная
// in-process очередь и брокер RocketMQ) одна и та же форма, что позволяет
// Engine'у не знать, какой бэкенд выбран конфигом.
type JobQueue interface {
	Enqueue(job Job) int64
	ScheduleReminder(reminder ReminderJob)
}

// ReminderResolver заново проверяет условие сработавшего ReminderJob (P3) по
// актуальному состоянию таблицы заказов и, если оно ещё выполняется,
// рендерит и возвращает готовый к отправке MessageJob. ok=false без ошибки —
// условие больше не выполняется, напоминание отбрасывается молча.
type ReminderResolver interface {
	Resolve(ctx context.Context, reminder ReminderJob) (Job, bool, error)
}

// MessageSender — транспорт доставки подготовленных заданий очереди.
// Реализации оборачивают transport.ChatTransport с ретраями/троттлингом через
// internal/infra/resilience и классифицируют ошибки в SendOutcome.
type MessageSender interface {
	Deliver(ctx context.Context, job Job) (SendOutcome, error)
}

// SendOutcome — результат попытки отправки одного задания.
//   - PermanentFailure — доставить нельзя (невалидный номер и т.п.), Duplicate
//     Guard для этой (order, type) должен быть очищен (Clear);
//   - NetworkDown — транспорт сообщил об оффлайне; очередь приостановит
//     дренирование и подождёт восстановления;
//   - Retry — рекомендовано повторить попытку позднее.
type SendOutcome struct {
	PermanentFailure bool
	PermanentError   error
	NetworkDown      bool
	Retry            bool
}

// QueueOptions — зависимости и параметры очереди: транспорт, сторы,
// таймзона и часы. Clock допускает внедрение монотонного времени в тестах;
// по умолчанию используется time.Now.
type QueueOptions struct {
	Sender    MessageSender
	Store     *QueueStore
	Failed    *FailedStore
	Location  *time.Location
	Clock     func() time.Time
	Liveness  *transport.Liveness // nil допустим: WaitOnline деградирует до no-op
	OnCleared func(job Job)       // вызывается после PermanentFailure, чтобы снять Duplicate Guard claim
}

// drainSignal — запрос на дренирование регулярной очереди.
type drainSignal struct {
	reason string
}

// QueueStats — снимок состояния для CLI/мониторинга.
type QueueStats struct {
	Urgent             int
	Regular            int
	Delayed            int
	LastRegularDrainAt time.Time
	LastFlushAt        time.Time
	NextReminderAt     time.Time // в UTC, нулевое значение если нет отложенных заданий
	Location           *time.Location
}

// Queue — основная структура очереди доставки. Хранит состояние в памяти,
// синхронизирует его с диском, управляет воркером срочных задач, непрерывным
// дренажом регулярной очереди и таймером напоминаний.
type Queue struct {
	sender    MessageSender
	store     *QueueStore
	failed    *FailedStore
	location  *time.Location
	liveness  *transport.Liveness
	onCleared func(job Job)

	mu    sync.Mutex
	state State

	resolverMu sync.RWMutex
	resolver   ReminderResolver

	urgentCh  chan struct{}
	regularCh chan drainSignal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now     func() time.Time
	runOnce sync.Once

	reminderWake chan struct{}
}

// NewQueue восстанавливает состояние из хранилища, подготавливает каналы и
// зависимости. Не запускает воркеры: для старта используйте Start().
func NewQueue(opts QueueOptions) (*Queue, error) {
	if opts.Sender == nil {
		return nil, errors.New("notifications queue: sender is nil")
	}
	if opts.Store == nil {
		return nil, errors.New("notifications queue: store is nil")
	}
	if opts.Failed == nil {
		return nil, errors.New("notifications queue: failed store is nil")
	}

	location := opts.Location
	if location == nil {
		location = time.UTC
	}

	state, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load queue state: %w", err)
	}

	nowFn := opts.Clock
	if nowFn == nil {
		nowFn = time.Now
	}

	q := &Queue{
		sender:    opts.Sender,
		store:     opts.Store,
		failed:    opts.Failed,
		location:  location,
		liveness:  opts.Liveness,
		onCleared: opts.OnCleared,
		state:     state,
		urgentCh:  make(chan struct{}, 1),
		regularCh: make(chan drainSignal, 1),
		now:       nowFn,
	}

	logger.Debugf(
		"Queue: loaded state (regular=%d urgent=%d delayed=%d next_id=%d)",
		len(state.Regular), len(state.Urgent), len(state.Delayed), state.NextID)

	return q, nil
}

// SetReminderResolver подключает компонент, заново проверяющий условие
// сработавшего напоминания и рендерящий его сообщение. Вызывается один раз
// из app-сборки после построения Automation Engine — Engine строится уже
// после Queue (ему нужен построенный JobQueue), поэтому разрешить резолвер в
// конструкторе нельзя без цикла зависимостей.
func (q *Queue) SetReminderResolver(r ReminderResolver) {
	q.resolverMu.Lock()
	q.resolver = r
	q.resolverMu.Unlock()
}

func (q *Queue) reminderResolver() ReminderResolver {
	q.resolverMu.RLock()
	defer q.resolverMu.RUnlock()
	return q.resolver
}

// Start запускает воркера и планировщики; повторный вызов безопасно
// игнорируется (runOnce). При старте восстанавливает невыполненные
// urgent-задачи и, если на диске остался regular-бэклог, сразу запускает
// дренирование вместо ожидания следующего события постановки.
func (q *Queue) Start(ctx context.Context) {
	q.runOnce.Do(func() {
		q.ctx, q.cancel = context.WithCancel(ctx)
		q.store.Start()
		q.wg.Go(q.workerLoop)
		q.wg.Go(q.reminderLoop)

		q.mu.Lock()
		hasUrgent := len(q.state.Urgent) > 0
		hasRegular := len(q.state.Regular) > 0
		q.mu.Unlock()

		if hasUrgent {
			logger.Infof("Queue: restoring %d urgent job(s) from disk", len(q.state.Urgent))
			q.signalUrgent()
		}
		if hasRegular {
			logger.Infof("Queue: restoring %d regular job(s) from disk", len(q.state.Regular))
			q.signalRegularDrain("startup backlog")
		}
	})
}

// Close останавливает воркеры и форсирует Flush/Close у стора. Блокируется
// до завершения горутин или таймаута ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.store.Start()
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := q.store.Flush(ctx); err != nil {
		logger.Errorf("Queue: flush error: %v", err)
		return err
	}
	if err := q.store.Close(ctx); err != nil {
		logger.Errorf("Queue: store close error: %v", err)
		return err
	}
	return nil
}

// Enqueue ставит готовое задание в urgent или regular очередь в зависимости
// от job.Urgent и возвращает присвоенный ID.
func (q *Queue) Enqueue(job Job) int64 {
	jobID := q.enqueue(job)
	logger.Debugf(
		"Queue: job %d enqueued (type=%s urgent=%t order=%s)",
		jobID, job.Type, job.Urgent, job.OrderID)
	return jobID
}

// ScheduleReminder ставит отложенное задание: оно будет заново проверено и,
// если условие ещё выполняется, отрендерено и отправлено не раньше
// reminder.FireAt (P3: FireAt должен быть в будущем на момент вызова).
func (q *Queue) ScheduleReminder(reminder ReminderJob) {
	q.mu.Lock()
	reminder.ID = q.state.NextID
	q.state.NextID++
	q.state.Delayed = append(q.state.Delayed, reminder)
	q.persistLocked()
	q.mu.Unlock()

	logger.Debugf(
		"Queue: reminder %d scheduled for %s (order=%s type=%s)",
		reminder.ID, reminder.FireAt.Format(time.RFC3339), reminder.OrderID, reminder.MessageType)
	q.wakeReminderLoop()
}

// enqueue присваивает job ID, сохраняет его в нужную очередь и планирует
// персист в фоне. Сигнал на дренирование отправляется немедленно независимо
// от срочности — никаких окон расписания, задание берётся в работу как
// только освобождается воркер.
func (q *Queue) enqueue(job Job) int64 {
	urgent := job.Urgent

	q.mu.Lock()
	job.ID = q.state.NextID
	job.CreatedAt = q.now().UTC()
	q.state.NextID++

	if job.Urgent {
		q.state.Urgent = append(q.state.Urgent, job)
	} else {
		q.state.Regular = append(q.state.Regular, job)
	}

	jobID := job.ID
	urgentLen := len(q.state.Urgent)
	regularLen := len(q.state.Regular)
	q.persistLocked()
	q.mu.Unlock()

	q.warnIfLarge(urgentLen, regularLen)

	if urgent {
		q.signalUrgent()
	} else {
		q.signalRegularDrain("job enqueued")
	}

	return jobID
}

// warnIfLarge логирует предупреждение при чрезмерном росте бэклогов.
func (q *Queue) warnIfLarge(urgentLen, regularLen int) {
	if urgentLen >= warnIfLargeSize {
		logger.Warnf("Queue: urgent backlog reached %d tasks", urgentLen)
	}
	if regularLen >= warnIfLargeSize {
		logger.Warnf("Queue: regular backlog reached %d tasks", regularLen)
	}
}

// Size возвращает текущие размеры urgent/regular бэклогов.
func (q *Queue) Size() (urgent, regular int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state.Urgent), len(q.state.Regular)
}

// HasPending сообщает, есть ли в очереди невыполненные задания любого типа.
func (q *Queue) HasPending() bool {
	u, r := q.Size()
	return u > 0 || r > 0
}

// Stats возвращает компактный снимок состояния очереди для CLI/мониторинга.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	urgent := len(q.state.Urgent)
	regular := len(q.state.Regular)
	delayed := len(q.state.Delayed)
	lastDrain := q.state.LastRegularDrainAt
	lastFlush := q.state.LastFlushAt
	loc := q.location
	nextReminder, hasReminder := q.earliestFireAtLocked()
	q.mu.Unlock()

	stats := QueueStats{
		Urgent:             urgent,
		Regular:            regular,
		Delayed:            delayed,
		LastRegularDrainAt: lastDrain,
		LastFlushAt:        lastFlush,
		Location:           loc,
	}
	if hasReminder {
		stats.NextReminderAt = nextReminder
	}
	return stats
}

// workerLoop — главный цикл обработки сигналов. Приоритет: сначала
// завершение контекста, затем срочные задачи, затем регулярное дренирование.
func (q *Queue) workerLoop() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.urgentCh:
			q.processUrgent()
		case signal := <-q.regularCh:
			q.processRegular(signal)
		}
	}
}

// reminderLoop ждёт наступления самого раннего FireAt среди отложенных
// заданий, передаёт созревшие задания ReminderResolver'у (актуальные попадают
// в urgent очередь) и пересчитывает следующий таймер. wake позволяет пересчитать таймер сразу
// после ScheduleReminder, не дожидаясь текущего (возможно бесконечного) sleep.
func (q *Queue) reminderLoop() {
	wake := make(chan struct{}, 1)
	q.mu.Lock()
	q.reminderWake = wake
	q.mu.Unlock()

	const idleSleep = time.Hour

	for {
		delay := idleSleep
		if nextFire, has := q.earliestFireAt(); has {
			delay = max(time.Until(nextFire), 0)
		}
		timer := time.NewTimer(delay)

		select {
		case <-q.ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			q.promoteDueReminders()
		}
	}
}

func (q *Queue) wakeReminderLoop() {
	q.mu.Lock()
	wake := q.reminderWake
	q.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// earliestFireAt возвращает самое раннее FireAt среди отложенных заданий.
func (q *Queue) earliestFireAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.earliestFireAtLocked()
}

func (q *Queue) earliestFireAtLocked() (time.Time, bool) {
	if len(q.state.Delayed) == 0 {
		return time.Time{}, false
	}
	earliest := q.state.Delayed[0].FireAt
	for _, r := range q.state.Delayed[1:] {
		if r.FireAt.Before(earliest) {
			earliest = r.FireAt
		}
	}
	return earliest, true
}

// promoteDueReminders собирает все созревшие (FireAt <= now) напоминания и
// прогоняет каждое через подключённый ReminderResolver: напоминание, чьё
// условие больше не выполняется, отбрасывается молча (P3), остальные
// становятся urgent MessageJob.
func (q *Queue) promoteDueReminders() {
	now := q.now()

	q.mu.Lock()
	remaining := q.state.Delayed[:0:0]
	var due []ReminderJob
	for _, r := range q.state.Delayed {
		if !r.FireAt.After(now) {
			due = append(due, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	q.state.Delayed = remaining
	q.persistLocked()
	q.mu.Unlock()

	if len(due) == 0 {
		return
	}
	logger.Infof("Queue: %d reminder(s) matured", len(due))
	for _, reminder := range due {
		q.resolveAndEnqueue(reminder)
	}
}

// resolveAndEnqueue заново проверяет условие одного созревшего напоминания
// через подключённый резолвер и ставит получившийся MessageJob как urgent:
// он уже отстоял свою задержку, так что должен обогнать накопившийся
// regular-бэклог.
func (q *Queue) resolveAndEnqueue(reminder ReminderJob) {
	resolver := q.reminderResolver()
	if resolver == nil {
		logger.Warnf("Queue: reminder %d matured with no resolver wired, dropping", reminder.ID)
		return
	}

	job, ok, err := resolver.Resolve(q.ctx, reminder)
	if err != nil {
		logger.Errorf("Queue: reminder %d resolve error: %v", reminder.ID, err)
		return
	}
	if !ok {
		logger.Debugf("Queue: reminder %d precondition no longer holds, dropped", reminder.ID)
		return
	}

	job.Urgent = true
	q.Enqueue(job)
}

// processUrgent дренирует срочную очередь до опустошения.
func (q *Queue) processUrgent() {
	for {
		job, hasUrgent := q.popUrgent()
		if !hasUrgent {
			return
		}
		if q.handleJob(job) {
			return
		}
	}
}

// drainUrgentOnce пытается обработать одно срочное задание перед каждым
// шагом регулярного дренирования.
func (q *Queue) drainUrgentOnce(reason string) (interrupted, processed bool) {
	job, hasUrgent := q.popUrgent()
	if !hasUrgent {
		return false, false
	}
	if q.handleJob(job) {
		logger.Debugf("Queue: regular drain interrupted by urgent job (%s)", reason)
		return true, false
	}
	return false, true
}

// processRegular дренирует регулярную очередь, учитывая возможные прерывания
// срочными задачами. При полном опустошении фиксирует LastRegularDrainAt.
func (q *Queue) processRegular(sig drainSignal) {
	reason := sig.reason
	logger.Debugf("Queue: start regular drain (%s)", reason)

	drainedAll := false
	for {
		if interrupted, processed := q.drainUrgentOnce(reason); interrupted {
			break
		} else if processed {
			continue
		}

		job, hasRegular := q.popRegular()
		if !hasRegular {
			drainedAll = true
			break
		}

		if q.handleJob(job) {
			logger.Debugf("Queue: regular drain interrupted on job %d (%s)", job.ID, reason)
			break
		}
	}

	if drainedAll {
		q.mu.Lock()
		q.state.LastRegularDrainAt = q.now().UTC()
		q.persistLocked()
		q.mu.Unlock()
	}
	logger.Debugf("Queue: regular drain finished (%s)", reason)
}

// handleJob выполняет доставку одного задания и решает, нужно ли прервать
// текущую выборку. Возвращает true, если задание было возвращено в очередь
// или потребовалось ждать online/ctx.
func (q *Queue) handleJob(job Job) bool {
	start := q.now()
	logger.Debugf("Queue: delivering job %d (urgent=%t order=%s type=%s)", job.ID, job.Urgent, job.OrderID, job.Type)

	ctx := q.ctx
	if canceled := q.preSendJitter(ctx); canceled {
		q.requeueJob(job, true)
		return true
	}

	result, err := q.sender.Deliver(ctx, job)

	if result.NetworkDown {
		logger.Warnf("Queue: network offline, requeue job %d", job.ID)
		q.requeueJob(job, true)
		if q.liveness != nil {
			if waitErr := q.liveness.WaitOnline(ctx); waitErr != nil {
				logger.Warnf("Queue: job %d wait-online aborted: %v", job.ID, waitErr)
			}
		}
		return true
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warnf("Queue: context canceled while delivering job %d, requeue", job.ID)
			q.requeueJob(job, true)
			return true
		}
		logger.Errorf("Queue: delivery error for job %d: %v", job.ID, err)
		q.requeueJob(job, false)
		return true
	}

	if result.Retry {
		logger.Warnf("Queue: sender requested retry for job %d", job.ID)
		q.requeueJob(job, false)
		return true
	}

	if result.PermanentFailure {
		errMsg := "permanent failure"
		if result.PermanentError != nil {
			errMsg = result.PermanentError.Error()
		}
		record := FailedRecord{
			Job:      job.Clone(),
			FailedAt: q.now().UTC(),
			Error:    errMsg,
		}
		if appendErr := q.failed.Append(record); appendErr != nil {
			logger.Errorf("Queue: failed store append error: %v", appendErr)
		}
		logger.Errorf("Queue: job %d permanent failure for order %s: %s", job.ID, job.OrderID, errMsg)
		if q.onCleared != nil {
			q.onCleared(job)
		}
	}

	duration := time.Since(start)
	logger.Debugf("Queue: job %d processed in %s", job.ID, duration)
	return false
}

// preSendJitter выдерживает случайную паузу 1-3с перед попыткой доставки
// (сглаживает всплеск нагрузки на транспорт); возвращает true, если ctx
// завершился раньше паузы.
func (q *Queue) preSendJitter(ctx context.Context) bool {
	delay := preSendJitterMin + rand.N(preSendJitterMax-preSendJitterMin)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// requeueJob возвращает задание обратно в соответствующую очередь. front=true
// — поставить в начало.
func (q *Queue) requeueJob(job Job, front bool) {
	q.mu.Lock()

	state := &q.state.Regular
	if job.Urgent {
		state = &q.state.Urgent
	}

	if front {
		*state = append([]Job{job.Clone()}, *state...)
	} else {
		*state = append(*state, job.Clone())
	}

	q.persistLocked()
	q.mu.Unlock()

	if job.Urgent {
		q.signalUrgent()
	} else if front {
		q.signalRegularDrain("connection recovery")
	}
}

// popUrgent снимает первое срочное задание, обновляет состояние и планирует persist.
func (q *Queue) popUrgent() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.state.Urgent) == 0 {
		return Job{}, false
	}
	job := q.state.Urgent[0]
	q.state.Urgent = q.state.Urgent[1:]
	q.persistLocked()
	return job, true
}

// popRegular снимает первое регулярное задание, обновляет состояние и планирует persist.
func (q *Queue) popRegular() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.state.Regular) == 0 {
		return Job{}, false
	}
	job := q.state.Regular[0]
	q.state.Regular = q.state.Regular[1:]
	q.persistLocked()
	return job, true
}

// persistLocked помечает время последней синхронизации и планирует запись
// состояния (без блокировки диска здесь).
func (q *Queue) persistLocked() {
	q.state.LastFlushAt = q.now().UTC()
	q.store.SchedulePersist(q.state.Clone())
}

// signalUrgent пробует неблокирующе уведомить воркер о наличии срочных задач.
func (q *Queue) signalUrgent() {
	select {
	case q.urgentCh <- struct{}{}:
	default:
	}
}

// signalRegularDrain отправляет неблокирующий сигнал на дренирование регулярной очереди.
func (q *Queue) signalRegularDrain(reason string) {
	req := drainSignal{reason: reason}
	select {
	case q.regularCh <- req:
	default:
	}
}

// FlushImmediately инициирует внеплановый слив регулярной очереди из
// CLI/оператора (неблокирующе).
func (q *Queue) FlushImmediately(reason string) {
	if reason == "" {
		reason = "manual flush"
	}
	q.signalRegularDrain(reason)
}

