package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"order-messaging-automation/internal/infra/logger"
)

const webShutdownTimeout = 10 * time.Second

// registerLifecycle регистрирует все подсистемы сервиса в lifecycle.Manager
// в порядке их реальных зависимостей: Duplicate Guard запускается первым и
// гасится последним (Job Queue должна успеть дренироваться, пока guard ещё
// доступен для Clear при перманентном сбое), следом очередь доставки,
// затем, если выбран бэкенд rocketmq, брокер поверх неё, затем Automation
// Engine, и, опционально, admin-консоль и admin HTTP API поверх него.
func (a *App) registerLifecycle() {
	deps := a.registerGuardNode()
	deps = a.registerQueueNode(deps)
	deps = a.registerBrokerNode(deps)
	deps = a.registerEngineNode(deps)
	a.registerCLINode(deps)
	a.registerWebNode(deps)
}

func (a *App) registerGuardNode() []string {
	closer, ok := a.guard.(interface{ Close() error })
	if !ok {
		return nil
	}
	_ = a.lc.Register("guard", "", nil,
		func(ctx context.Context) (context.Context, error) { return nil, nil },
		func(ctx context.Context) error { return closer.Close() },
	)
	return []string{"guard"}
}

func (a *App) registerQueueNode(deps []string) []string {
	_ = a.lc.Register("queue", "", deps,
		func(ctx context.Context) (context.Context, error) {
			a.queue.Start(ctx)
			return nil, nil
		},
		func(ctx context.Context) error {
			closeCtx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
			defer cancel()
			return a.queue.Close(closeCtx)
		},
	)
	return []string{"queue"}
}

func (a *App) registerBrokerNode(deps []string) []string {
	broker, isBroker := a.broker.(interface {
		Start(context.Context) error
		Close() error
	})
	if !isBroker {
		return deps
	}
	_ = a.lc.Register("broker", "", deps,
		func(ctx context.Context) (context.Context, error) { return nil, broker.Start(ctx) },
		func(ctx context.Context) error { return broker.Close() },
	)
	return append(deps, "broker")
}

func (a *App) registerEngineNode(deps []string) []string {
	var wg sync.WaitGroup
	_ = a.lc.Register("engine", "", deps,
		func(ctx context.Context) (context.Context, error) {
			wg.Go(func() { a.engine.Run(ctx) })
			return nil, nil
		},
		func(ctx context.Context) error {
			wg.Wait()
			return nil
		},
	)
	return []string{"engine"}
}

func (a *App) registerCLINode(deps []string) {
	_ = a.lc.Register("cli", "", deps,
		func(ctx context.Context) (context.Context, error) {
			a.cli.Start(ctx)
			return nil, nil
		},
		func(ctx context.Context) error {
			a.cli.Stop()
			return nil
		},
	)
}

func (a *App) registerWebNode(deps []string) {
	if a.web == nil {
		return
	}
	_ = a.lc.Register("web", "", deps,
		func(ctx context.Context) (context.Context, error) {
			go func() {
				if err := a.web.Start(); err != nil {
					logger.Errorf("admin web server: %v", err)
				}
			}()
			return nil, nil
		},
		func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
			defer cancel()
			return a.web.Shutdown(shutdownCtx)
		},
	)
}

// Run запускает все зарегистрированные подсистемы и блокируется до отмены
// контекста приложения (сигнал/CLI "exit"), затем останавливает их в
// обратном порядке запуска.
func (a *App) Run() error {
	if err := a.lc.StartAll(); err != nil {
		return errors.Join(err, a.lc.Shutdown())
	}

	logger.Info("order-messaging-automation: running")
	<-a.ctx.Done()

	logger.Info("order-messaging-automation: shutting down")
	return a.lc.Shutdown()
}
