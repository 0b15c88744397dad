// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (сервиса автоматизации исходящих сообщений по заказам). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. кеширует производные структуры (часовой пояс приложения),
//  4. предоставляет потокобезопасный доступ к результатам через R/W мьютекс.
//
// Бизнес-контекст: сервис опрашивает таблицу заказов на фиксированном интервале,
// классифицирует строки по смене статуса, рассылает клиентам сообщения через единственную
// сессию чат-транспорта и планирует отложенные напоминания. Конфиг управляет интервалом
// опроса, задержками напоминаний, включёнными типами сообщений, файлами хранения состояния,
// выбором бэкенда очереди/guard'а и параметрами устойчивости к сети.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"order-messaging-automation/internal/infra/timeutil"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
type EnvConfig struct {
	// Sheet source
	SheetCredentialsFile string // путь к учётным данным листа — непрозрачен для этого сервиса
	SheetID              string
	SheetRange           string
	CheckIntervalSeconds int

	// Automation timing
	ReminderDelayHours           int
	RejectedOfferDelayHours      int
	RejectedOfferDiscountPercent int

	// Enabled message types (order-status -> message-type map)
	EnabledStatusTypes map[string]bool

	// Chat transport (external collaborator; only connection knobs live here)
	TransportSessionFile string

	// Duplicate guard
	DedupeBackend  string // "bbolt" | "file"
	DedupeBoltFile string
	DedupeFile     string

	// Job queue
	QueueBackend       string // "local" | "rocketmq"
	QueueStateFile     string
	QueueFailedFile    string
	RocketMQEndpoint   string
	RocketMQTopic      string
	RocketMQGroup      string
	RocketMQMaxRetries int

	// Templates
	TemplatesFile string
	CompanyName   string

	// Observation history (row fingerprints across poll cycles)
	ObservationHistoryFile string

	// Timezone
	AppTimezone string

	// Resilience
	SheetReadMaxRetries     int
	TransportSendMaxRetries int
	BreakerFailureThreshold int
	BreakerCooldownSeconds  int

	// Ambient
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Admin surface
	WebServerEnable  bool
	WebServerAddress string
	AdminToken       string
}

// Config хранит конфигурацию среды.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// AppLocation — глобальный часовой пояс приложения, производный от EnvConfig.AppTimezone.
var AppLocation = time.UTC

const (
	defaultCheckIntervalSeconds         = 30
	defaultReminderDelayHours           = 24
	defaultRejectedOfferDelayHours      = 48
	defaultRejectedOfferDiscountPercent = 20
	defaultSheetRange                   = "Sheet1!A2:H"
	defaultTransportSessionFile         = "data/session.bin"
	defaultDedupeBackend                = "bbolt"
	defaultDedupeBoltFile               = "data/sent-messages.bbolt"
	defaultDedupeFile                   = "config/sent-messages.json"
	defaultQueueBackend                 = "local"
	defaultQueueStateFile               = "data/notify_queue.json"
	defaultQueueFailedFile              = "data/notify_failed.json"
	defaultRocketMQMaxRetries           = 3
	defaultTemplatesFile                = "assets/templates.json"
	defaultObservationHistoryFile       = "data/observation_history.json"
	defaultCompanyName                  = "المتجر"
	defaultAppTimezone                  = "Africa/Cairo"
	defaultSheetReadMaxRetries          = 3
	defaultTransportSendMaxRetries      = 2
	defaultBreakerFailureThreshold      = 5
	defaultBreakerCooldownSeconds       = 60
	defaultLogLevel                     = "info"
	defaultLogMaxSizeMB                 = 50
	defaultLogMaxBackups                = 5
	defaultLogMaxAgeDays                = 30
	defaultWebServerAddress             = ":8080"
)

var defaultEnabledStatusTypes = map[string]bool{
	"":             true,
	"جديد":         true,
	"طلب جديد":     true,
	"قيد المراجعة": true,
	"قيد المراجعه": true,
	"غير محدد":     true,
	"لم يتم الرد":  true,
	"لم يرد":       true,
	"لا يرد":       true,
	"عدم الرد":     true,
	"تم التأكيد":   true,
	"تم التاكيد":   true,
	"مؤكد":         true,
	"تم الشحن":     true,
	"قيد الشحن":    true,
	"تم الرفض":     true,
	"مرفوض":        true,
	"رفض الاستلام": true,
	"رفض الأستلام": true,
	"لم يتم الاستلام": true,
}

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	sheetID := strings.TrimSpace(os.Getenv("SHEET_ID"))
	if sheetID == "" {
		return nil, errors.New("env SHEET_ID must be set")
	}
	sheetCreds := strings.TrimSpace(os.Getenv("SHEET_CREDENTIALS_FILE"))
	if sheetCreds == "" {
		return nil, errors.New("env SHEET_CREDENTIALS_FILE must be set")
	}

	var warnings []string

	checkInterval := parseIntDefault("CHECK_INTERVAL_SECONDS", defaultCheckIntervalSeconds, greaterThanZero, &warnings)
	reminderDelay := parseIntDefault("REMINDER_DELAY_HOURS", defaultReminderDelayHours, greaterThanZero, &warnings)
	rejectedDelay := parseIntDefault("REJECTED_OFFER_DELAY_HOURS", defaultRejectedOfferDelayHours, greaterThanZero, &warnings)
	rejectedDiscount := parseIntDefault(
		"REJECTED_OFFER_DISCOUNT_PERCENT", defaultRejectedOfferDiscountPercent, percentRange, &warnings,
	)

	sheetRange := sanitizeFile("SHEET_RANGE", os.Getenv("SHEET_RANGE"), defaultSheetRange, &warnings)
	transportSessionFile := sanitizeFile(
		"TRANSPORT_SESSION_FILE", os.Getenv("TRANSPORT_SESSION_FILE"), defaultTransportSessionFile, &warnings,
	)

	dedupeBackend := sanitizeEnum("DEDUPE_BACKEND", os.Getenv("DEDUPE_BACKEND"), defaultDedupeBackend,
		[]string{"bbolt", "file"}, &warnings)
	dedupeBoltFile := sanitizeFile("DEDUPE_BBOLT_FILE", os.Getenv("DEDUPE_BBOLT_FILE"), defaultDedupeBoltFile, &warnings)
	dedupeFile := sanitizeFile("DEDUPE_FILE", os.Getenv("DEDUPE_FILE"), defaultDedupeFile, &warnings)

	queueBackend := sanitizeEnum("QUEUE_BACKEND", os.Getenv("QUEUE_BACKEND"), defaultQueueBackend,
		[]string{"local", "rocketmq"}, &warnings)
	queueStateFile := sanitizeFile("QUEUE_STATE_FILE", os.Getenv("QUEUE_STATE_FILE"), defaultQueueStateFile, &warnings)
	queueFailedFile := sanitizeFile("QUEUE_FAILED_FILE", os.Getenv("QUEUE_FAILED_FILE"), defaultQueueFailedFile, &warnings)
	rocketMQEndpoint := strings.TrimSpace(os.Getenv("ROCKETMQ_ENDPOINT"))
	rocketMQTopic := sanitizeFile("ROCKETMQ_TOPIC", os.Getenv("ROCKETMQ_TOPIC"), "order-messages", &warnings)
	rocketMQGroup := sanitizeFile("ROCKETMQ_GROUP", os.Getenv("ROCKETMQ_GROUP"), "order-messages-group", &warnings)
	rocketMQMaxRetries := parseIntDefault("ROCKETMQ_MAX_RETRIES", defaultRocketMQMaxRetries, greaterThanZero, &warnings)

	templatesFile := sanitizeFile("TEMPLATES_FILE", os.Getenv("TEMPLATES_FILE"), defaultTemplatesFile, &warnings)
	companyName := sanitizeFile("COMPANY_NAME", os.Getenv("COMPANY_NAME"), defaultCompanyName, &warnings)
	observationHistoryFile := sanitizeFile(
		"OBSERVATION_HISTORY_FILE", os.Getenv("OBSERVATION_HISTORY_FILE"), defaultObservationHistoryFile, &warnings,
	)

	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	sheetReadRetries := parseIntDefault("SHEET_READ_MAX_RETRIES", defaultSheetReadMaxRetries, nonNegative, &warnings)
	transportSendRetries := parseIntDefault(
		"TRANSPORT_SEND_MAX_RETRIES", defaultTransportSendMaxRetries, nonNegative, &warnings,
	)
	breakerThreshold := parseIntDefault(
		"BREAKER_FAILURE_THRESHOLD", defaultBreakerFailureThreshold, greaterThanZero, &warnings,
	)
	breakerCooldown := parseIntDefault("BREAKER_COOLDOWN_SECONDS", defaultBreakerCooldownSeconds, greaterThanZero, &warnings)

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logMaxSize := parseIntDefault("LOG_MAX_SIZE_MB", defaultLogMaxSizeMB, greaterThanZero, &warnings)
	logMaxBackups := parseIntDefault("LOG_MAX_BACKUPS", defaultLogMaxBackups, nonNegative, &warnings)
	logMaxAge := parseIntDefault("LOG_MAX_AGE_DAYS", defaultLogMaxAgeDays, nonNegative, &warnings)

	webEnable := strings.EqualFold(strings.TrimSpace(os.Getenv("WEB_SERVER_ENABLE")), "true")
	webAddress := sanitizeFile("WEB_SERVER_ADDRESS", os.Getenv("WEB_SERVER_ADDRESS"), defaultWebServerAddress, &warnings)
	adminToken := strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))

	enabledTypes := sanitizeEnabledStatusTypes(os.Getenv("ENABLED_STATUS_TYPES"), &warnings)

	env := EnvConfig{
		SheetCredentialsFile:         sheetCreds,
		SheetID:                      sheetID,
		SheetRange:                   sheetRange,
		CheckIntervalSeconds:         checkInterval,
		ReminderDelayHours:           reminderDelay,
		RejectedOfferDelayHours:      rejectedDelay,
		RejectedOfferDiscountPercent: rejectedDiscount,
		EnabledStatusTypes:           enabledTypes,
		TransportSessionFile:         transportSessionFile,
		DedupeBackend:                dedupeBackend,
		DedupeBoltFile:               dedupeBoltFile,
		DedupeFile:                   dedupeFile,
		QueueBackend:                 queueBackend,
		QueueStateFile:               queueStateFile,
		QueueFailedFile:              queueFailedFile,
		RocketMQEndpoint:             rocketMQEndpoint,
		RocketMQTopic:                rocketMQTopic,
		RocketMQGroup:                rocketMQGroup,
		RocketMQMaxRetries:           rocketMQMaxRetries,
		TemplatesFile:                templatesFile,
		CompanyName:                  companyName,
		ObservationHistoryFile:       observationHistoryFile,
		AppTimezone:                  appTimezone,
		SheetReadMaxRetries:          sheetReadRetries,
		TransportSendMaxRetries:      transportSendRetries,
		BreakerFailureThreshold:      breakerThreshold,
		BreakerCooldownSeconds:       breakerCooldown,
		LogLevel:                     logLevel,
		LogFile:                      logFile,
		LogMaxSizeMB:                 logMaxSize,
		LogMaxBackups:                logMaxBackups,
		LogMaxAgeDays:                logMaxAge,
		WebServerEnable:              webEnable,
		WebServerAddress:             webAddress,
		AdminToken:                   adminToken,
	}

	if loc, locErr := timeutil.ParseLocation(appTimezone); locErr == nil {
		AppLocation = loc
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton.
func Env() EnvConfig {
	return cfgInstance.Env
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
func percentRange(v int) bool    { return v >= 0 && v <= 100 }

func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

func sanitizeEnum(name, value, fallback string, allowed []string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, value, fallback)
	return fallback
}

func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// ParseLocation re-exports timeutil.ParseLocation for callers that only import config.
func ParseLocation(value string) (*time.Location, error) {
	return timeutil.ParseLocation(value)
}

func sanitizeTimezoneFlexible(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}

// sanitizeEnabledStatusTypes parses "status=true,status2=false" pairs; unknown statuses
// default to disabled: an unmapped status sends no message.
func sanitizeEnabledStatusTypes(value string, warnings *[]string) map[string]bool {
	raw := strings.TrimSpace(value)
	if raw == "" {
		appendWarningf(warnings, "env ENABLED_STATUS_TYPES is not set; using built-in defaults")
		out := make(map[string]bool, len(defaultEnabledStatusTypes))
		for k, v := range defaultEnabledStatusTypes {
			out[k] = v
		}
		return out
	}

	out := make(map[string]bool)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			appendWarningf(warnings, "env ENABLED_STATUS_TYPES entry %q is malformed; skipping", pair)
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.EqualFold(strings.TrimSpace(kv[1]), "true")
	}
	return out
}
