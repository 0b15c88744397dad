package resilience

import "sync"

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalRetries      int
	SuccessfulRetries int
	ErrorsByType      map[string]int
	LastError         string
	BreakerRejects    int
}

// Stats accumulates counters for one operation family.
type Stats struct {
	mu                sync.Mutex
	totalRetries      int
	successfulRetries int
	errorsByType      map[string]int
	lastError         string
	breakerRejects    int
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{errorsByType: make(map[string]int)}
}

func (s *Stats) recordSuccess(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt > 0 {
		s.successfulRetries++
	}
}

func (s *Stats) recordFailure(err error, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries++
	s.lastError = err.Error()
	s.errorsByType[code]++
}

func (s *Stats) recordBreakerReject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakerRejects++
}

// reset clears every accumulated counter, leaving the Stats ready for reuse.
func (s *Stats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries = 0
	s.successfulRetries = 0
	s.errorsByType = make(map[string]int)
	s.lastError = ""
	s.breakerRejects = 0
}

// Snapshot returns a copy safe to read without holding s.mu.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		errs[k] = v
	}
	return StatsSnapshot{
		TotalRetries:      s.totalRetries,
		SuccessfulRetries: s.successfulRetries,
		ErrorsByType:      errs,
		LastError:         s.lastError,
		BreakerRejects:    s.breakerRejects,
	}
}
