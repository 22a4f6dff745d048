package discovery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

func TestAggregateHostUtilization(t *testing.T) {
	loads := aggregateHostUtilization([]*QualifiedService{
		candidate("Host-A", 9001, 1, 4, 0),
		candidate("host-a", 9002, 3, 4, 0),
		candidate("host-b", 9001, 0, 0, 0),
		withoutStats(candidate("host-c", 9001, 0, 0, 0)),
	})

	assert.InDelta(t, 0.5, loads["host-a"], 1e-9)
	assert.True(t, math.IsNaN(loads["host-b"]))
	assert.True(t, math.IsNaN(loads["host-c"]))
}

func TestEvaluator_Prioritize(t *testing.T) {
	evaluator := NewEvaluator(transport.NewChannelCache(), transport.ClientTLS{}, false, logging.NewNopLogger())

	services := evaluator.Prioritize([]*QualifiedService{
		candidate("busy", 9001, 0, 4, 0),
		candidate("busy", 9002, 4, 4, 0),
		candidate("idle", 9001, 1, 4, 0.99),
		candidate("idle", 9002, 0, 4, 0.99),
	})

	// Host utilization replaces what the endpoints reported
	assert.Equal(t, []string{"idle:9002", "idle:9001", "busy:9001", "busy:9002"}, endpoints(services))
	assert.InDelta(t, 0.125, services[0].ServerStats.ServerUtilization, 1e-9)
	assert.InDelta(t, 0.5, services[2].ServerStats.ServerUtilization, 1e-9)
}
