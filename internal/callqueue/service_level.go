package callqueue

import "sync"

// ServiceLevel is a point-in-time view of answer speed
type ServiceLevel struct {
	ThresholdSecs int     `json:"thresholdSecs"` // answered within this many seconds counts
	AnsweredInSL  int     `json:"answeredInSL"`
	TotalAnswered int     `json:"totalAnswered"`
	CurrentSL     float64 `json:"currentSL"` // percentage
}

// SLTracker tracks the share of calls assigned within a wait threshold
type SLTracker struct {
	thresholdSecs int
	answeredInSL  int
	totalAnswered int
	mu            sync.Mutex
}

// NewSLTracker creates a new SL tracker with the given threshold
func NewSLTracker(thresholdSecs int) *SLTracker {
	return &SLTracker{thresholdSecs: thresholdSecs}
}

// RecordAnswer records a call being assigned after waiting waitSecs
func (s *SLTracker) RecordAnswer(waitSecs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalAnswered++
	if waitSecs <= int64(s.thresholdSecs) {
		s.answeredInSL++
	}
}

// CurrentSL returns the current service level percentage
func (s *SLTracker) CurrentSL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *SLTracker) currentLocked() float64 {
	if s.totalAnswered == 0 {
		return 100.0
	}
	return float64(s.answeredInSL) / float64(s.totalAnswered) * 100.0
}

// Snapshot returns a ServiceLevel snapshot
func (s *SLTracker) Snapshot() ServiceLevel {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ServiceLevel{
		ThresholdSecs: s.thresholdSecs,
		AnsweredInSL:  s.answeredInSL,
		TotalAnswered: s.totalAnswered,
		CurrentSL:     s.currentLocked(),
	}
}
