// Package app собирает верхний уровень сервиса автоматизации исходящих
// сообщений по заказам: конфигурацию, Duplicate Guard, Job Queue,
// Automation Engine, Network-Resilience Wrapper, admin-консоль и опциональный
// admin HTTP API. Отсюда стартует цикл обработки и обеспечивается корректный
// shutdown через internal/infra/lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"order-messaging-automation/internal/adapters/cli"
	"order-messaging-automation/internal/adapters/external"
	"order-messaging-automation/internal/domain/automation"
	"order-messaging-automation/internal/domain/dedupe"
	"order-messaging-automation/internal/domain/notifications"
	"order-messaging-automation/internal/domain/phone"
	"order-messaging-automation/internal/domain/sheet"
	"order-messaging-automation/internal/domain/transport"
	"order-messaging-automation/internal/infra/config"
	"order-messaging-automation/internal/infra/lifecycle"
	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/resilience"
	infratransport "order-messaging-automation/internal/infra/transport"
	"order-messaging-automation/internal/web"
)

// statusMessageTypes — фиксированная таблица статус → тип сообщения (§6.2).
// Сервис оперирует каноническими строками статуса ровно так, как их ожидает
// EnabledStatusTypes в конфиге: оператор включает/выключает рассылку по
// каждому конкретному статусу, а не по типу сообщения. Несколько статусов
// могут делить один тип сообщения (например, все варианты "подтверждён"
// маппятся в shipped) — это намеренный синоним, а не дублирование.
var statusMessageTypes = automation.StatusMessageType{
	"":             automation.MessageTypeNewOrder,
	"جديد":         automation.MessageTypeNewOrder,
	"طلب جديد":     automation.MessageTypeNewOrder,
	"قيد المراجعة": automation.MessageTypeNewOrder,
	"قيد المراجعه": automation.MessageTypeNewOrder,
	"غير محدد":     automation.MessageTypeNewOrder,

	"لم يتم الرد": automation.MessageTypeNoAnswer,
	"لم يرد":      automation.MessageTypeNoAnswer,
	"لا يرد":      automation.MessageTypeNoAnswer,
	"عدم الرد":    automation.MessageTypeNoAnswer,

	"تم التأكيد": automation.MessageTypeShipped,
	"تم التاكيد": automation.MessageTypeShipped,
	"مؤكد":       automation.MessageTypeShipped,
	"تم الشحن":   automation.MessageTypeShipped,
	"قيد الشحن":  automation.MessageTypeShipped,

	"تم الرفض":        automation.MessageTypeRejectedOffer,
	"مرفوض":           automation.MessageTypeRejectedOffer,
	"رفض الاستلام":    automation.MessageTypeRejectedOffer,
	"رفض الأستلام":    automation.MessageTypeRejectedOffer,
	"لم يتم الاستلام": automation.MessageTypeRejectedOffer,
}

// messageTypeCooldowns — минимальный интервал между повторными отправками
// одного типа сообщения одному заказу (§6.2), независимо от Duplicate Guard.
var messageTypeCooldowns = map[string]time.Duration{
	automation.MessageTypeNewOrder:      30 * time.Minute,
	automation.MessageTypeNoAnswer:      time.Hour,
	automation.MessageTypeShipped:       4 * time.Hour,
	automation.MessageTypeRejectedOffer: 24 * time.Hour,
}

const queueStoreDebounce = 500 * time.Millisecond

// App агрегирует собранные компоненты и управляет их жизненным циклом через
// lifecycle.Manager.
type App struct {
	lc     *lifecycle.Manager
	engine *automation.Engine
	queue  *notifications.Queue
	broker notifications.JobQueue
	guard  dedupe.Guard
	wrap   *resilience.Wrapper
	cli    *cli.Service
	web    *web.Server

	templatesPath string
	ctx           context.Context
	stop          context.CancelFunc
}

// NewApp создаёт пустой каркас приложения. Фактическая сборка выполняется в Init().
func NewApp() *App {
	return &App{}
}

// Init связывает все компоненты сервиса и подготавливает их к запуску:
//  1. поднимает Network-Resilience Wrapper с семействами sheet-read/transport-send
//     (и broker-publish при бэкенде rocketmq),
//  2. инициализирует Duplicate Guard (bbolt или файл),
//  3. собирает Job Queue (локальную, опционально обёрнутую брокером RocketMQ),
//  4. загружает набор шаблонов и строит Automation Engine,
//  5. регистрирует узлы admin-консоли и, если включён, admin HTTP API в lifecycle.Manager.
func (a *App) Init(ctx context.Context, stop context.CancelFunc) error {
	logger.Info("order-messaging-automation: initializing...")

	a.ctx = ctx
	a.stop = stop
	a.lc = lifecycle.New(ctx)
	env := config.Env()
	a.templatesPath = env.TemplatesFile

	a.wrap = buildResilience(env)

	guard, err := buildGuard(env)
	if err != nil {
		return fmt.Errorf("init duplicate guard: %w", err)
	}
	a.guard = guard

	liveness := infratransport.NewLiveness()
	chatTransport := transport.ChatTransport(external.UnconfiguredTransport{})
	// UnconfiguredTransport reports IsOnline()==false forever, so the queue's
	// wait-online gate must start in the offline state too: a real chat-transport
	// session's connection watcher would call MarkConnected once it pairs.
	liveness.MarkDisconnected()
	sheetSource := sheet.SheetSource(external.UnconfiguredSheetSource{})
	canonicalizer := phone.Canonicalizer(external.UnconfiguredCanonicalizer{})

	sender := notifications.NewTransportSender(chatTransport, a.wrap)

	queueStore, err := notifications.NewQueueStore(env.QueueStateFile, queueStoreDebounce)
	if err != nil {
		return fmt.Errorf("init queue store: %w", err)
	}
	failedStore, err := notifications.NewFailedStore(env.QueueFailedFile)
	if err != nil {
		return fmt.Errorf("init failed store: %w", err)
	}
	loc, err := time.LoadLocation(env.AppTimezone)
	if err != nil {
		return fmt.Errorf("load app timezone: %w", err)
	}

	queue, err := notifications.NewQueue(notifications.QueueOptions{
		Sender:   sender,
		Store:    queueStore,
		Failed:   failedStore,
		Location: loc,
		Clock:    time.Now,
		Liveness: liveness,
		OnCleared: func(job notifications.Job) {
			if err := a.guard.Clear(ctx, job.OrderID, job.Phone, job.Name, string(job.Type)); err != nil {
				logger.Errorf("clear duplicate guard claim for order %s: %v", job.OrderID, err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init notifications queue: %w", err)
	}
	a.queue = queue

	jobQueue, err := buildJobQueue(env, queue, sender, failedStore, a.wrap)
	if err != nil {
		return fmt.Errorf("init job queue backend: %w", err)
	}
	a.broker = jobQueue

	templates, err := notifications.LoadTemplateSet(env.TemplatesFile)
	if err != nil {
		return fmt.Errorf("load template set: %w", err)
	}

	engine, err := automation.NewEngine(automation.EngineOptions{
		Sheet:      sheetSource,
		Transport:  chatTransport,
		Resilience: a.wrap,
		Guard:      a.guard,
		Queue:      jobQueue,
		Classifier: automation.Classifier{
			StatusTypes:  statusMessageTypes,
			EnabledTypes: env.EnabledStatusTypes,
			Cooldowns:    messageTypeCooldowns,
		},
		Templates:                    templates,
		Phone:                        canonicalizer,
		CompanyName:                  env.CompanyName,
		HistoryPath:                  env.ObservationHistoryFile,
		CheckInterval:                time.Duration(env.CheckIntervalSeconds) * time.Second,
		ReminderDelay:                time.Duration(env.ReminderDelayHours) * time.Hour,
		RejectedOfferDelay:           time.Duration(env.RejectedOfferDelayHours) * time.Hour,
		RejectedOfferDiscountPercent: env.RejectedOfferDiscountPercent,
		Clock:                        time.Now,
	})
	if err != nil {
		return fmt.Errorf("init automation engine: %w", err)
	}
	a.engine = engine
	queue.SetReminderResolver(engine)

	a.cli = cli.NewService(a.engine, a.queue, a.wrap, a.templatesPath, a.stop)

	if env.WebServerEnable {
		a.web = web.NewServer(env.WebServerAddress, a.engine, a.queue, a.wrap, a.templatesPath)
	}

	a.registerLifecycle()

	return nil
}

// WebAuthToken выпускает одноразовый токен для первого входа в admin API.
// Возвращает пустую строку, если admin HTTP API отключён конфигом.
func (a *App) WebAuthToken() string {
	if a.web == nil {
		return ""
	}
	return a.web.GenerateAuthToken()
}

// buildResilience регистрирует семейства Network-Resilience Wrapper'а по
// конфигу: чтение таблицы заказов и отправку через чат-транспорт всегда,
// публикацию в брокер — только при бэкенде очереди "rocketmq".
func buildResilience(env config.EnvConfig) *resilience.Wrapper {
	w := resilience.NewWrapper()
	w.Register(resilience.FamilySheetRead, resilience.FamilyConfig{
		RatePerSecond:     5,
		Burst:             5,
		MaxRetries:        env.SheetReadMaxRetries,
		BaseDelay:         2 * time.Second,
		MaxDelay:          10 * time.Second,
		BreakerThreshold:  env.BreakerFailureThreshold,
		BreakerCooldown:   time.Duration(env.BreakerCooldownSeconds) * time.Second,
		HalfOpenMaxProbes: 3,
	})
	w.Register(resilience.FamilyTransportSend, resilience.FamilyConfig{
		RatePerSecond:     2,
		Burst:             2,
		MaxRetries:        env.TransportSendMaxRetries,
		BaseDelay:         3 * time.Second,
		MaxDelay:          15 * time.Second,
		BreakerThreshold:  env.BreakerFailureThreshold,
		BreakerCooldown:   time.Duration(env.BreakerCooldownSeconds) * time.Second,
		HalfOpenMaxProbes: 3,
	})
	if env.QueueBackend == "rocketmq" {
		w.Register(resilience.FamilyBrokerPublish, resilience.FamilyConfig{
			RatePerSecond:     10,
			Burst:             10,
			MaxRetries:        2,
			BaseDelay:         time.Second,
			MaxDelay:          5 * time.Second,
			BreakerThreshold:  env.BreakerFailureThreshold,
			BreakerCooldown:   time.Duration(env.BreakerCooldownSeconds) * time.Second,
			HalfOpenMaxProbes: 3,
		})
	}
	return w
}

// buildGuard выбирает бэкенд Duplicate Guard по конфигу.
func buildGuard(env config.EnvConfig) (dedupe.Guard, error) {
	switch env.DedupeBackend {
	case "bbolt":
		return dedupe.NewBoltGuard(env.DedupeBoltFile)
	case "file":
		return dedupe.NewFileGuard(env.DedupeFile)
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", env.DedupeBackend)
	}
}

// buildJobQueue выбирает бэкенд Job Queue: локальную очередь напрямую или
// брокер RocketMQ, оборачивающий её как запасной путь и приёмник
// отложенных напоминаний.
func buildJobQueue(
	env config.EnvConfig,
	local *notifications.Queue,
	sender notifications.MessageSender,
	failed *notifications.FailedStore,
	wrap *resilience.Wrapper,
) (notifications.JobQueue, error) {
	switch env.QueueBackend {
	case "local":
		return local, nil
	case "rocketmq":
		return notifications.NewRocketMQBroker(notifications.RocketMQBrokerOptions{
			Endpoint:   env.RocketMQEndpoint,
			Topic:      env.RocketMQTopic,
			Group:      env.RocketMQGroup,
			MaxRetries: env.RocketMQMaxRetries,
			Sender:     sender,
			Failed:     failed,
			Resilience: wrap,
			Local:      local,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", env.QueueBackend)
	}
}
