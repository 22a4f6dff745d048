package admin

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// CancellableRequest is a long-running request an operator may cancel
type CancellableRequest struct {
	UserName    string
	Environment string
	StartTime   time.Time

	cancel context.CancelFunc
}

func (r *CancellableRequest) matches(userName, environment string) bool {
	return strings.EqualFold(r.UserName, userName) && strings.EqualFold(r.Environment, environment)
}

// RequestAdmin keeps track of the cancellable requests of a worker
type RequestAdmin struct {
	logger logging.Logger

	mutex    sync.Mutex
	requests []*CancellableRequest
}

func NewRequestAdmin(logger logging.Logger) *RequestAdmin {
	return &RequestAdmin{logger: logger}
}

// RegisterRequest derives a cancellable context for a request. The caller
// must pass the returned request to UnregisterRequest once it completes.
func (a *RequestAdmin) RegisterRequest(ctx context.Context, userName, environment string) (context.Context, *CancellableRequest) {
	ctx, cancel := context.WithCancel(ctx)
	request := &CancellableRequest{
		UserName:    userName,
		Environment: environment,
		StartTime:   time.Now(),
		cancel:      cancel,
	}

	a.mutex.Lock()
	a.requests = append(a.requests, request)
	a.mutex.Unlock()

	return ctx, request
}

// UnregisterRequest stops tracking the request and releases its context
func (a *RequestAdmin) UnregisterRequest(request *CancellableRequest) {
	a.mutex.Lock()
	for i, r := range a.requests {
		if r == request {
			a.requests = append(a.requests[:i], a.requests[i+1:]...)
			break
		}
	}
	a.mutex.Unlock()

	request.cancel()
}

// Cancel cancels every request of the user in the environment, ignoring
// case. It reports whether any request matched.
func (a *RequestAdmin) Cancel(userName, environment string) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	cancelled := false
	for _, request := range a.requests {
		if !request.matches(userName, environment) {
			continue
		}
		a.logger.Warnf("Cancelling request for user '%s' in environment '%s', running since %v",
			request.UserName, request.Environment, request.StartTime.Format(time.RFC3339))
		request.cancel()
		cancelled = true
	}
	return cancelled
}

func (a *RequestAdmin) CancelAll() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, request := range a.requests {
		request.cancel()
	}
	if len(a.requests) > 0 {
		a.logger.Warnf("Cancelled all %d request(s)", len(a.requests))
	}
	return len(a.requests) > 0
}

// Requests returns a snapshot of the tracked requests
func (a *RequestAdmin) Requests() []CancellableRequest {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	result := make([]CancellableRequest, 0, len(a.requests))
	for _, request := range a.requests {
		result = append(result, *request)
	}
	return result
}
