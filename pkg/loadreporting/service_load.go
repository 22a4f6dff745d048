package loadreporting

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// ServiceLoad tracks the load of one service hosted by a worker. It is safe
// for concurrent use by request handlers and the reporting server.
type ServiceLoad struct {
	requestCapacity   atomic.Int32
	currentRequests   atomic.Int32
	knownLoadRate     atomic.Float64
	serverUtilization atomic.Float64
	reportStart       atomic.Int64
}

// NewServiceLoad creates a tracker for a service able to handle
// requestCapacity requests at once. Capacity 0 keeps the worker out of
// load-aware discovery results.
func NewServiceLoad(requestCapacity int) *ServiceLoad {
	l := &ServiceLoad{}
	l.requestCapacity.Store(int32(requestCapacity))
	l.knownLoadRate.Store(-1)
	l.ResetReportStart()
	return l
}

func (l *ServiceLoad) StartRequest() {
	l.currentRequests.Inc()
}

func (l *ServiceLoad) EndRequest() {
	l.currentRequests.Dec()
}

// Track wraps fn in StartRequest/EndRequest
func (l *ServiceLoad) Track(fn func() error) error {
	l.StartRequest()
	defer l.EndRequest()
	return fn()
}

func (l *ServiceLoad) RequestCapacity() int {
	return int(l.requestCapacity.Load())
}

func (l *ServiceLoad) SetRequestCapacity(capacity int) {
	l.requestCapacity.Store(int32(capacity))
}

func (l *ServiceLoad) CurrentRequests() int {
	return int(l.currentRequests.Load())
}

// KnownLoadRate is negative unless the service declared its own rate
func (l *ServiceLoad) KnownLoadRate() float64 {
	return l.knownLoadRate.Load()
}

func (l *ServiceLoad) SetKnownLoadRate(rate float64) {
	l.knownLoadRate.Store(rate)
}

func (l *ServiceLoad) ServerUtilization() float64 {
	return l.serverUtilization.Load()
}

func (l *ServiceLoad) SetServerUtilization(utilization float64) {
	l.serverUtilization.Store(utilization)
}

// ReportStart is the beginning of the current reporting window
func (l *ServiceLoad) ReportStart() time.Time {
	return time.Unix(0, l.reportStart.Load())
}

func (l *ServiceLoad) ResetReportStart() {
	l.reportStart.Store(time.Now().UnixNano())
}

func (l *ServiceLoad) String() string {
	return fmt.Sprintf("%d of %d ongoing requests, server utilization: %.3f",
		l.CurrentRequests(), l.RequestCapacity(), l.ServerUtilization())
}
