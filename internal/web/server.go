// Package web — слим admin HTTP API: health, состояние очереди доставки,
// принудительный дренаж и горячая перезагрузка шаблонов сообщений. Вся
// защищённая поверхность отдаёт JSON; авторизация — одноразовый токен,
// обмениваемый на cookie-сессию, как и у исходной консоли.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"order-messaging-automation/internal/domain/automation"
	"order-messaging-automation/internal/domain/notifications"
	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/resilience"
	versioninfo "order-messaging-automation/internal/support/version"

	"go.uber.org/zap"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	cleanExpiredSessionsInterval = 3 * time.Minute
	defaultSessionTTL            = time.Hour
)

// Server — admin HTTP API поверх Automation Engine, очереди доставки и
// Network-Resilience Wrapper'а.
type Server struct {
	srv           *http.Server
	auth          *AuthManager
	engine        *automation.Engine
	queue         *notifications.Queue
	resilience    *resilience.Wrapper
	templatesPath string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer создает слим admin HTTP сервер на заданном адресе.
func NewServer(
	addr string,
	engine *automation.Engine,
	queue *notifications.Queue,
	wrapper *resilience.Wrapper,
	templatesPath string,
) *Server {
	s := &Server{
		auth:          NewAuthManager(defaultSessionTTL),
		engine:        engine,
		queue:         queue,
		resilience:    wrapper,
		templatesPath: templatesPath,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("/api/status", s.handleAPIStatus)
	protected.HandleFunc("/api/health", s.handleAPIResilienceHealth)
	protected.HandleFunc("/api/flush", s.handleAPIFlush)
	protected.HandleFunc("/api/reload-templates", s.handleAPIReloadTemplates)
	protected.HandleFunc("/api/trigger-once", s.handleAPITriggerOnce)
	protected.HandleFunc("/api/force-process-new-orders", s.handleAPIForceProcessNewOrders)
	protected.HandleFunc("/api/reset-tracking", s.handleAPIResetTracking)
	protected.HandleFunc("/api/resilience-reset-stats", s.handleAPIResilienceResetStats)
	protected.HandleFunc("/api/version", s.handleAPIVersion)
	protected.HandleFunc("/api/whoami", s.handleAPIWhoami)

	mux.Handle("/api/", s.authMiddleware(protected))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Start запускает HTTP сервер; блокируется до Shutdown или ошибки.
func (s *Server) Start() error {
	logger.Info("starting admin web server", zap.String("address", s.srv.Addr))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.cleanupLoop(s.ctx)

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin web server: %w", err)
	}
	return nil
}

// Shutdown корректно останавливает HTTP сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down admin web server")
	if s.cancel != nil {
		s.cancel()
	}
	return s.srv.Shutdown(ctx)
}

// cleanupLoop периодически чистит истекшие сессии.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanExpiredSessionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auth.CleanExpiredSessions()
		}
	}
}

// GenerateAuthToken выпускает одноразовый токен для первого входа в admin API.
func (s *Server) GenerateAuthToken() string {
	token := s.auth.GenerateToken()
	logger.Info("generated new admin API auth token")
	return token
}

// handleHealth — публичный liveness-пробник, не требует авторизации.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("OK"))
}

// queueStatusResponse — JSON-представление notifications.QueueStats.
type queueStatusResponse struct {
	Urgent             int       `json:"urgent"`
	Regular            int       `json:"regular"`
	Delayed            int       `json:"delayed"`
	LastRegularDrainAt time.Time `json:"last_regular_drain_at,omitempty"`
	LastFlushAt        time.Time `json:"last_flush_at,omitempty"`
	NextReminderAt     time.Time `json:"next_reminder_at,omitempty"`
}

// handleAPIStatus отдаёт снимок состояния очереди доставки.
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	if s.queue == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "queue is not available")
		return
	}
	st := s.queue.Stats()
	writeJSON(w, http.StatusOK, queueStatusResponse{
		Urgent:             st.Urgent,
		Regular:            st.Regular,
		Delayed:            st.Delayed,
		LastRegularDrainAt: st.LastRegularDrainAt,
		LastFlushAt:        st.LastFlushAt,
		NextReminderAt:     st.NextReminderAt,
	})
}

// familyHealthResponse — JSON-представление resilience.Health для одного семейства.
type familyHealthResponse struct {
	Family            string         `json:"family"`
	BreakerState      string         `json:"breaker_state"`
	TotalRetries      int            `json:"total_retries"`
	SuccessfulRetries int            `json:"successful_retries"`
	BreakerRejects    int            `json:"breaker_rejects"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	LastError         string         `json:"last_error,omitempty"`
}

// handleAPIResilienceHealth отдаёт состояние круглых размыкателей по каждому
// семейству операций Network-Resilience Wrapper'а.
func (s *Server) handleAPIResilienceHealth(w http.ResponseWriter, _ *http.Request) {
	if s.resilience == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "resilience wrapper is not available")
		return
	}
	overview := s.resilience.HealthOverview()
	out := make([]familyHealthResponse, 0, len(overview))
	for family, health := range overview {
		out = append(out, familyHealthResponse{
			Family:            string(family),
			BreakerState:      health.BreakerState.String(),
			TotalRetries:      health.Stats.TotalRetries,
			SuccessfulRetries: health.Stats.SuccessfulRetries,
			BreakerRejects:    health.Stats.BreakerRejects,
			ErrorsByType:      health.Stats.ErrorsByType,
			LastError:         health.Stats.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAPIFlush форсирует немедленный дренаж регулярной очереди.
func (s *Server) handleAPIFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.queue == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "queue is not available")
		return
	}
	s.queue.FlushImmediately("admin API flush")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flush requested"})
}

// handleAPIReloadTemplates перечитывает набор шаблонов сообщений с диска.
func (s *Server) handleAPIReloadTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "automation engine is not available")
		return
	}
	if err := s.engine.ReloadTemplates(s.templatesPath); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "templates reloaded", "path": s.templatesPath})
}

// handleAPITriggerOnce запускает одну итерацию опроса/классификации вне
// обычного тикера.
func (s *Server) handleAPITriggerOnce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "automation engine is not available")
		return
	}
	if err := s.engine.TriggerOnce(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "iteration triggered"})
}

// handleAPIForceProcessNewOrders принудительно переоценивает newOrder-строки без
// проверки смены статуса; cooldown и Duplicate Guard при этом продолжают действовать.
func (s *Server) handleAPIForceProcessNewOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "automation engine is not available")
		return
	}
	n, err := s.engine.ForceProcessNewOrders(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

// handleAPIResetTracking сбрасывает Observation History и resend cooldown bookkeeping.
func (s *Server) handleAPIResetTracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "automation engine is not available")
		return
	}
	s.engine.ResetTracking()
	writeJSON(w, http.StatusOK, map[string]string{"status": "tracking reset"})
}

// handleAPIResilienceResetStats очищает накопленные счётчики ретраев/ошибок
// Network-Resilience Wrapper'а.
func (s *Server) handleAPIResilienceResetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.resilience == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "resilience wrapper is not available")
		return
	}
	s.resilience.ResetStats()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resilience stats reset"})
}

// handleAPIVersion отдаёт имя и версию сервиса.
func (s *Server) handleAPIVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    versioninfo.Name,
		"version": versioninfo.Version,
	})
}

// handleAPIWhoami подтверждает, что текущая сессия валидна.
func (s *Server) handleAPIWhoami(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated"})
}
