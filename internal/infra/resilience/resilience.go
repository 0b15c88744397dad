// Package resilience — общий механизм устойчивости внешних вызовов: ограничение
// скорости, повторные попытки с экспоненциальным бэкофом и круговой размыкатель
// (circuit breaker) на семейство операций. Токен-бакет дополнен breaker'ом,
// т.к. внешние интеграции этого сервиса (чтение таблицы заказов, отправка
// сообщений через чат-транспорт) не должны забивать журнал ретраями во время
// продолжительного сбоя — после порога последовательных неудач семейство
// операций временно отключается.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"order-messaging-automation/internal/infra/logger"
)

// Family identifies an independent operation group with its own rate limit,
// retry policy and circuit breaker: order-sheet reads, chat-transport sends
// and broker publishes each get one, so a slow order book can't starve chat
// delivery and vice versa.
type Family string

const (
	FamilySheetRead     Family = "sheet-read"
	FamilyTransportSend Family = "transport-send"
	FamilyBrokerPublish Family = "broker-publish"
)

// FamilyConfig holds the retry/backoff tuning for one Family.
type FamilyConfig struct {
	RatePerSecond     float64
	Burst             int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BreakerThreshold  int           // consecutive failures before the breaker opens
	BreakerCooldown   time.Duration // how long the breaker stays open before probing
	HalfOpenMaxProbes int
}

// StopRetryer is implemented by errors that must never be retried (permanent failures).
type StopRetryer interface {
	StopRetry() bool
}

// ErrCircuitOpen is returned by Do when the family's breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// Wrapper owns one limiter+breaker+stats set per Family and exposes Do as the
// single call site external integrations must go through.
type Wrapper struct {
	mu       sync.Mutex
	families map[Family]*familyState
}

type familyState struct {
	cfg     FamilyConfig
	limiter *rate.Limiter
	breaker *CircuitBreaker
	stats   *Stats
}

// NewWrapper builds an empty Wrapper; call Register for every Family used.
func NewWrapper() *Wrapper {
	return &Wrapper{families: make(map[Family]*familyState)}
}

// Register installs the config for a Family. Calling it twice replaces the
// previous limiter/breaker (existing stats are preserved).
func (w *Wrapper) Register(family Family, cfg FamilyConfig) {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	existing := w.families[family]
	stats := NewStats()
	if existing != nil {
		stats = existing.stats
	}

	w.families[family] = &familyState{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.HalfOpenMaxProbes),
		stats:   stats,
	}
}

// Do runs fn respecting the family's rate limit, circuit breaker and retry
// policy. Returns ErrCircuitOpen immediately if the breaker is open.
func (w *Wrapper) Do(ctx context.Context, family Family, fn func() error) error {
	state := w.state(family)
	if state == nil {
		return fmt.Errorf("resilience: family %q not registered", family)
	}

	if !state.breaker.Allow() {
		state.stats.recordBreakerReject()
		return ErrCircuitOpen
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = state.cfg.BaseDelay
	bo.MaxInterval = state.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall-clock

	attempt := 0
	for {
		if err := state.limiter.Wait(ctx); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			state.breaker.RecordSuccess()
			state.stats.recordSuccess(attempt)
			return nil
		}

		if errors.Is(callErr, context.Canceled) {
			return callErr
		}

		code, retriable := classify(callErr)
		state.breaker.RecordFailure()
		state.stats.recordFailure(callErr, code)

		if !retriable {
			return callErr
		}

		if state.cfg.MaxRetries > 0 && attempt >= state.cfg.MaxRetries {
			return fmt.Errorf("resilience: %s: max retries reached (%d): %w", family, state.cfg.MaxRetries, callErr)
		}

		sleep := bo.NextBackOff()
		attempt++
		logger.Debugf("resilience: %s retry %d after %s: %v", family, attempt, sleep, callErr)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// HealthOverview returns a snapshot of every registered family's breaker state and stats.
func (w *Wrapper) HealthOverview() map[Family]Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[Family]Health, len(w.families))
	for family, state := range w.families {
		out[family] = Health{
			BreakerState: state.breaker.State(),
			Stats:        state.stats.Snapshot(),
		}
	}
	return out
}

// Health bundles a family's circuit-breaker state with its resilience stats.
type Health struct {
	BreakerState BreakerState
	Stats        StatsSnapshot
}

// ResetStats clears the accumulated retry/error counters for every
// registered family, leaving breaker state and rate limiters untouched.
// Used by the admin console's "resilience-reset-stats" command.
func (w *Wrapper) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, state := range w.families {
		state.stats.reset()
	}
}

func (w *Wrapper) state(family Family) *familyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.families[family]
}
