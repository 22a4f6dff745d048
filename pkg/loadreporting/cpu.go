package loadreporting

import (
	"runtime"
	"sync"
	"time"
)

// CPUSampler measures the CPU share used by this process between two
// samples, normalized by the number of CPUs.
type CPUSampler struct {
	cpuTime func() (time.Duration, error)
	now     func() time.Time

	mutex        sync.Mutex
	lastSample   time.Time
	lastCPUTotal time.Duration
}

func NewCPUSampler() *CPUSampler {
	return &CPUSampler{
		cpuTime: processCPUTime,
		now:     time.Now,
	}
}

// Sample returns the utilization since the previous call in 0..1, or -1 on
// the first call and whenever the CPU time cannot be read.
func (s *CPUSampler) Sample() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	total, err := s.cpuTime()
	if err != nil {
		return -1
	}
	now := s.now()

	if s.lastSample.IsZero() {
		s.lastSample, s.lastCPUTotal = now, total
		return -1
	}

	wall := now.Sub(s.lastSample)
	used := total - s.lastCPUTotal
	s.lastSample, s.lastCPUTotal = now, total
	if wall <= 0 {
		return -1
	}
	return float64(used) / float64(wall) / float64(runtime.NumCPU())
}
