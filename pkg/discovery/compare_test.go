package discovery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
)

func candidate(host string, port int, current, capacity int32, utilization float64) *QualifiedService {
	q := NewQualifiedService(registry.ServiceLocation{ServiceName: "Worker", HostName: host, Port: port, Scope: "test"}, true)
	q.ServerStats = &api.ServerStats{
		CurrentRequests:   current,
		RequestCapacity:   capacity,
		ServerUtilization: utilization,
	}
	return q
}

func withKnownLoadRate(q *QualifiedService, rate float64) *QualifiedService {
	q.KnownLoadRate = rate
	return q
}

func withoutStats(q *QualifiedService) *QualifiedService {
	q.ServerStats = nil
	return q
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name            string
		a, b            *QualifiedService
		ignoreServerCPU bool
		want            int
	}{
		{
			name: "known load rate wins over stats",
			a:    withKnownLoadRate(candidate("a", 1, 9, 10, 0.9), 0.1),
			b:    withKnownLoadRate(candidate("b", 1, 0, 10, 0.0), 0.2),
			want: -1,
		},
		{
			name: "known load rate on one side only is ignored",
			a:    withKnownLoadRate(candidate("a", 1, 0, 10, 0.9), 0.1),
			b:    candidate("b", 1, 0, 10, 0.1),
			want: 1,
		},
		{
			name: "missing stats first",
			a:    candidate("a", 1, 0, 10, 0.0),
			b:    withoutStats(candidate("b", 1, 0, 10, 0.0)),
			want: 1,
		},
		{
			name: "host utilization before request ratio",
			a:    candidate("a", 1, 0, 10, 0.8),
			b:    candidate("b", 1, 9, 10, 0.2),
			want: 1,
		},
		{
			name:            "request ratio when server cpu is ignored",
			a:               candidate("a", 1, 0, 10, 0.8),
			b:               candidate("b", 1, 9, 10, 0.2),
			ignoreServerCPU: true,
			want:            -1,
		},
		{
			name: "NaN utilization sorts last",
			a:    candidate("a", 1, 0, 10, math.NaN()),
			b:    candidate("b", 1, 0, 10, 0.99),
			want: 1,
		},
		{
			name: "host name tie-break ignores case",
			a:    candidate("HOST-B", 1, 1, 10, 0.5),
			b:    candidate("host-a", 2, 1, 10, 0.5),
			want: 1,
		},
		{
			name: "port tie-break",
			a:    candidate("host", 9001, 1, 10, 0.5),
			b:    candidate("host", 9002, 2, 20, 0.5),
			want: -1,
		},
		{
			name: "identical",
			a:    candidate("host", 9001, 1, 10, 0.5),
			b:    candidate("host", 9001, 1, 10, 0.5),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sign(Compare(tt.a, tt.b, tt.ignoreServerCPU)))
			assert.Equal(t, -tt.want, sign(Compare(tt.b, tt.a, tt.ignoreServerCPU)))
		})
	}
}

func TestSort_DeterministicTieBreak(t *testing.T) {
	build := func() []*QualifiedService {
		return []*QualifiedService{
			candidate("host-b", 9002, 0, 4, 0),
			candidate("host-a", 9003, 0, 4, 0),
			candidate("host-b", 9001, 0, 4, 0),
			candidate("host-a", 9001, 0, 4, 0),
		}
	}

	for i := 0; i < 5; i++ {
		services := build()
		Sort(services, false)
		assert.Equal(t, []string{"host-a:9001", "host-a:9003", "host-b:9001", "host-b:9002"}, endpoints(services))
	}
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
