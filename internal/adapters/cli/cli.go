// Package cli — интерактивная командная консоль для управления сервисом
// автоматизации исходящих сообщений. Стартует фоном, читает команды из
// readline и взаимодействует с остальными подсистемами: Automation Engine,
// Job Queue и Network-Resilience Wrapper. Поддерживается корректная
// интеграция в lifecycle: Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"order-messaging-automation/internal/domain/automation"
	"order-messaging-automation/internal/domain/notifications"
	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/pr"
	"order-messaging-automation/internal/infra/resilience"
	versioninfo "order-messaging-automation/internal/support/version"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "status", description: "Show queue status (sizes, last drain, next reminder)"},
	{name: "flush", description: "Drain regular queue immediately"},
	{name: "health", description: "Show resilience health per operation family"},
	{name: "reload-templates", description: "Reload the message template set from disk"},
	{name: "trigger-once", description: "Run one polling/classification iteration now"},
	{name: "force-process-new-orders", description: "Re-evaluate newOrder rows ignoring status transitions (cooldown and Duplicate Guard still apply)"},
	{name: "reset-tracking", description: "Wipe Observation History and resend cooldowns"},
	{name: "resilience-reset-stats", description: "Clear accumulated resilience retry/error counters"},
	{name: "version", description: "Print service version"},
	{name: "exit", description: "Stop CLI and terminate the service"},
}

// Service инкапсулирует admin-консоль и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop(). Потокобезопасность обеспечивается
// дисциплиной запуска/остановки и отсутствием внешних мутаций.
type Service struct {
	engine        *automation.Engine   // полный доступ к шаблонам (reload-templates)
	queue         *notifications.Queue // нужна для status/flush; локальный бэкенд даже при брокере RocketMQ
	resilience    *resilience.Wrapper  // нужна для health
	templatesPath string

	stopApp   context.CancelFunc // внешняя отмена приложения (команда exit, Ctrl-C на пустой строке)
	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup     // ожидание завершения фоновой горутины run
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт CLI-сервис admin-консоли. stopApp используется как
// «глобальная» остановка приложения (команда exit, Ctrl-C на пустой строке).
func NewService(
	engine *automation.Engine,
	queue *notifications.Queue,
	wrapper *resilience.Wrapper,
	templatesPath string,
	stopApp context.CancelFunc,
) *Service {
	return &Service{
		engine:        engine,
		queue:         queue,
		resilience:    wrapper,
		templatesPath: templatesPath,
		stopApp:       stopApp,
	}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются. Контекст используется как родительский для run-цикла.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения (если предусмотрено),
// прерывает readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI. Печатает подсказки, устанавливает
// обработчики клавиш и в цикле читает команды построчно.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения (stopApp) и прерывание readline;
//   - Ctrl-C на непустой строке — очистка текущей строки.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую команду и выполняет соответствующее
// действие. Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, cmd string) bool {
	switch cmd {
	case "help":
		printCommandHelp()
	case "status":
		s.handleStatus()
	case "flush":
		if s.queue != nil {
			s.queue.FlushImmediately("cli flush")
			pr.Println("Queue flush requested.")
		} else {
			pr.ErrPrintln("queue is not available")
		}
	case "health":
		s.handleHealth()
	case "reload-templates":
		s.handleReloadTemplates()
	case "trigger-once":
		s.handleTriggerOnce(ctx)
	case "force-process-new-orders":
		s.handleForceProcessNewOrders(ctx)
	case "reset-tracking":
		s.handleResetTracking()
	case "resilience-reset-stats":
		s.handleResilienceResetStats()
	case "version":
		pr.ErrPrintln(fmt.Sprintf("%s v%s", versioninfo.Name, versioninfo.Version))
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	case "":
		// ignore
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

// handleStatus печатает агрегированное состояние очереди доставки: размеры,
// метки времени последнего дренирования/флаша и срок ближайшего напоминания.
func (s *Service) handleStatus() {
	if s.queue == nil {
		pr.ErrPrintln("queue is not available")
		return
	}
	st := s.queue.Stats()
	pr.Printf("Queue status: urgent=%d regular=%d delayed=%d\n", st.Urgent, st.Regular, st.Delayed)
	if !st.LastRegularDrainAt.IsZero() {
		pr.Printf("Last regular drain: %s\n", st.LastRegularDrainAt.In(st.Location).Format(time.RFC3339))
	} else {
		pr.Println("Last regular drain: <never>")
	}
	if !st.LastFlushAt.IsZero() {
		pr.Printf("Last persist: %s\n", st.LastFlushAt.In(st.Location).Format(time.RFC3339))
	} else {
		pr.Println("Last persist: <never>")
	}
	if !st.NextReminderAt.IsZero() {
		pr.Printf("Next reminder due: %s\n", st.NextReminderAt.In(st.Location).Format(time.RFC3339))
	} else {
		pr.Println("Next reminder due: <none pending>")
	}
}

// handleHealth печатает, по каждому семейству операций Network-Resilience
// Wrapper'а, состояние его круглого размыкателя и накопленную статистику.
func (s *Service) handleHealth() {
	if s.resilience == nil {
		pr.ErrPrintln("resilience wrapper is not available")
		return
	}
	overview := s.resilience.HealthOverview()
	if len(overview) == 0 {
		pr.Println("No operation families registered.")
		return
	}
	for family, health := range overview {
		pr.Printf("[%s] breaker=%s retries=%d successfulRetries=%d breakerRejects=%d lastError=%q\n",
			family, health.BreakerState, health.Stats.TotalRetries, health.Stats.SuccessfulRetries,
			health.Stats.BreakerRejects, health.Stats.LastError)
	}
}

// handleReloadTemplates перечитывает набор шаблонов сообщений с диска и
// подменяет его в Automation Engine без остановки опроса.
func (s *Service) handleReloadTemplates() {
	if s.engine == nil {
		pr.ErrPrintln("automation engine is not available")
		return
	}
	if err := s.engine.ReloadTemplates(s.templatesPath); err != nil {
		pr.ErrPrintln("reload-templates error:", err)
		return
	}
	pr.Println("Templates reloaded from", s.templatesPath)
}

// handleTriggerOnce запускает одну итерацию опроса/классификации вне
// обычного тикера.
func (s *Service) handleTriggerOnce(ctx context.Context) {
	if s.engine == nil {
		pr.ErrPrintln("automation engine is not available")
		return
	}
	if err := s.engine.TriggerOnce(ctx); err != nil {
		pr.ErrPrintln("trigger-once error:", err)
		return
	}
	pr.Println("Triggered one polling iteration.")
}

// handleForceProcessNewOrders принудительно переоценивает newOrder-строки без
// проверки смены статуса; cooldown и Duplicate Guard при этом продолжают действовать.
func (s *Service) handleForceProcessNewOrders(ctx context.Context) {
	if s.engine == nil {
		pr.ErrPrintln("automation engine is not available")
		return
	}
	n, err := s.engine.ForceProcessNewOrders(ctx)
	if err != nil {
		pr.ErrPrintln("force-process-new-orders error:", err)
		return
	}
	pr.Printf("Force-processed %d newOrder row(s).\n", n)
}

// handleResetTracking сбрасывает Observation History и bookkeeping cooldown'ов.
func (s *Service) handleResetTracking() {
	if s.engine == nil {
		pr.ErrPrintln("automation engine is not available")
		return
	}
	s.engine.ResetTracking()
	pr.Println("Observation History and resend cooldowns reset.")
}

// handleResilienceResetStats очищает накопленные счётчики ретраев/ошибок
// Network-Resilience Wrapper'а, не трогая состояние размыкателей.
func (s *Service) handleResilienceResetStats() {
	if s.resilience == nil {
		pr.ErrPrintln("resilience wrapper is not available")
		return
	}
	s.resilience.ResetStats()
	pr.Println("Resilience stats reset.")
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-16s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
