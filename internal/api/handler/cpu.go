package handler

import (
	"sync"
	"time"
)

// cpuSampler turns cumulative process CPU time into a utilisation figure.
type cpuSampler struct {
	mu       sync.Mutex
	lastCPU  time.Duration
	lastWall time.Time
}

// sample returns process CPU use since the previous call, as a percentage of
// one core capped at 100. The first call returns 0.
func (s *cpuSampler) sample() float64 {
	used, ok := processCPUTime()
	if !ok {
		return 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prevCPU, prevWall := s.lastCPU, s.lastWall
	s.lastCPU, s.lastWall = used, now
	if prevWall.IsZero() {
		return 0
	}

	wall := now.Sub(prevWall)
	if wall <= 0 {
		return 0
	}
	pct := float64(used-prevCPU) / float64(wall) * 100
	return min(max(pct, 0), 100)
}
