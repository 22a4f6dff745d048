package discovery

import (
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Compare orders qualified services by desirability, best first. The first
// difference wins:
//  1. known load rates, when both sides report one
//  2. services without server stats
//  3. host utilization, unless ignoreServerCPU is set
//  4. current requests per request capacity
//  5. host name (case-insensitive), then port
//
// NaN utilizations sort after every number. The result is a total order,
// so equally loaded candidates always come back in the same sequence.
func Compare(a, b *QualifiedService, ignoreServerCPU bool) int {
	if a.KnownLoadRate >= 0 && b.KnownLoadRate >= 0 {
		if c := compareFloat(a.KnownLoadRate, b.KnownLoadRate); c != 0 {
			return c
		}
	}

	switch {
	case a.ServerStats == nil && b.ServerStats != nil:
		return -1
	case a.ServerStats != nil && b.ServerStats == nil:
		return 1
	case a.ServerStats != nil && b.ServerStats != nil:
		if !ignoreServerCPU {
			if c := compareFloat(a.ServerStats.ServerUtilization, b.ServerStats.ServerUtilization); c != 0 {
				return c
			}
		}
		if c := compareFloat(requestRatio(a), requestRatio(b)); c != 0 {
			return c
		}
	}

	if c := strings.Compare(strings.ToLower(a.Location.HostName), strings.ToLower(b.Location.HostName)); c != 0 {
		return c
	}
	return a.Location.Port - b.Location.Port
}

// Sort orders services in place using Compare
func Sort(services []*QualifiedService, ignoreServerCPU bool) {
	slices.SortStableFunc(services, func(a, b *QualifiedService) int {
		return Compare(a, b, ignoreServerCPU)
	})
}

func requestRatio(q *QualifiedService) float64 {
	if q.ServerStats.RequestCapacity == 0 {
		return math.NaN()
	}
	return float64(q.ServerStats.CurrentRequests) / float64(q.ServerStats.RequestCapacity)
}

func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
