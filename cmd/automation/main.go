// Package main — точка входа CLI сервиса автоматизации исходящих сообщений
// по заказам. Здесь парсим флаги, загружаем конфигурацию, настраиваем
// логирование и организуем корректное завершение по системным сигналам
// (Ctrl+C/SIGTERM). Главная задача: инициализировать App и отдать ему
// управление, обеспечив graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-messaging-automation/internal/app"
	"order-messaging-automation/internal/infra/config"
	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/pr"
)

// main поднимает окружение, стартует приложение и блокируется до завершения.
// Порядок:
//  1. bootstrap: stdout/stderr → pr, базовый log с префиксом времени,
//  2. flags/env: путь к .env,
//  3. config: загрузка и предупреждения,
//  4. logger: уровень, ротация файла и перенаправление вывода в pr,
//  5. signals: контекст с отменой по Ctrl+C/SIGTERM (stop обязателен к вызову),
//  6. app: Init(ctx, stop) и Run().
func main() {
	log.SetFlags(0)
	log.SetPrefix(time.Now().Format("2006-01-02 15:04:05 "))
	// Префикс времени на уровне bootstrap до инициализации внутреннего logger; далее пишем через logger.
	if err := pr.Init(); err != nil {
		log.Fatalf("failed to assigning stdout and stderr: %v", err)
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	// config.Load загружает конфигурацию из .env и других источников.
	if err := config.Load(*envPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	env := config.Env()

	// logger.Init задаёт уровень, InitFileRotation поднимает ротацию лог-файла
	// (нужна процессу, который крутится без присмотра сутками между рестартами),
	// а SetWriters перенаправляет вывод в подсистему pr, чтобы видеть логи в CLI UI.
	logger.Init(env.LogLevel)
	logger.InitFileRotation(logger.FileConfig{
		Path:       env.LogFile,
		MaxSizeMB:  env.LogMaxSizeMB,
		MaxBackups: env.LogMaxBackups,
		MaxAgeDays: env.LogMaxAgeDays,
	})
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM). Важно: stop() нужно вызвать, чтобы снять подписку.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение и передаём ему контекст жизненного цикла и stop как внешнюю CancelFunc.
	a := app.NewApp()
	if iniErr := a.Init(ctx, stop); iniErr != nil {
		stop()
		log.Fatalf("app init failed: %v", iniErr)
	}

	if env.WebServerEnable {
		// Одноразовый admin API токен печатаем прямо в консоль запуска — это
		// единственный момент, когда он существует в открытом виде.
		pr.Printf("admin API auth token: %s\n", a.WebAuthToken())
	}

	// Запускаем основной цикл; блокируется до shutdown. Ошибки — фатальны, инициируем остановку и выходим.
	if runErr := a.Run(); runErr != nil {
		stop()
		log.Fatalf("app run failed: %v", runErr)
	}
	// Освобождаем обработчик сигналов и закрываем ресурсы bootstrap-уровня.
	stop()
	log.Println("Graceful shutdown complete")
}
