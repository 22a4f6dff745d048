package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-quaestor/pkg/workers"
	"github.com/core-tools/hsu-quaestor/pkg/workers/workerstest"
)

type staticSource struct {
	members []workers.ManagedProcess
}

func (s *staticSource) Name() string                      { return "demo" }
func (s *staticSource) Members() []workers.ManagedProcess { return s.members }

func newMember(port int, running bool) *workerstest.MockProcess {
	p := workerstest.NewMockProcess("Worker", "127.0.0.1", port, "Worker")
	p.On("IsKnownRunning").Return(running)
	p.On("IsDueForRecycling").Return(false)
	return p
}

func TestHandler(t *testing.T) {
	healthy := newMember(9001, true)
	healthy.MarkState(workers.ProcessStateHealthy)
	stopped := newMember(9002, false)
	stopped.IncrementStartupFailureCount()

	handler := NewHandler(&staticSource{members: []workers.ManagedProcess{healthy, stopped}})

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "list", path: "/members", wantCode: http.StatusOK},
		{name: "cluster", path: "/cluster", wantCode: http.StatusOK},
		{name: "member", path: "/members/1", wantCode: http.StatusOK},
		{name: "missing member", path: "/members/7", wantCode: http.StatusNotFound},
		{name: "invalid index", path: "/members/abc", wantCode: http.StatusBadRequest},
		{name: "unknown route", path: "/workers", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, recorder.Code)
		})
	}
}

func TestHandler_MemberContent(t *testing.T) {
	healthy := newMember(9001, true)
	healthy.MarkState(workers.ProcessStateHealthy)
	stopped := newMember(9002, false)
	stopped.IncrementStartupFailureCount()

	handler := NewHandler(&staticSource{members: []workers.ManagedProcess{healthy, stopped}})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/members", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var statuses []MemberStatus
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)

	assert.Equal(t, 9001, statuses[0].Port)
	assert.Equal(t, "healthy", statuses[0].State)
	assert.True(t, statuses[0].Running)
	assert.Equal(t, []string{"Worker"}, statuses[0].ServiceNames)

	assert.Equal(t, 1, statuses[1].Index)
	assert.False(t, statuses[1].Running)
	assert.Equal(t, 1, statuses[1].StartupFailures)
	assert.Equal(t, "not_started", statuses[1].State)
}
