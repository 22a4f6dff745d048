package discovery

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
)

// QualifiedService is a registered location annotated with a point-in-time
// health and load verdict. It lives for one discovery request only, unless
// it is kept in the recently-used queue.
type QualifiedService struct {
	Location    registry.ServiceLocation
	IsHealthy   bool
	ServerStats *api.ServerStats
	// A non-negative rate reported by the endpoint replaces the computed load
	KnownLoadRate float64
	LastUsed      time.Time
}

func NewQualifiedService(location registry.ServiceLocation, isHealthy bool) *QualifiedService {
	return &QualifiedService{
		Location:      location,
		IsHealthy:     isHealthy,
		KnownLoadRate: -1,
	}
}

func (q *QualifiedService) String() string {
	if q.ServerStats == nil {
		return fmt.Sprintf("%s (healthy: %t)", q.Location, q.IsHealthy)
	}
	return fmt.Sprintf("%s (healthy: %t, requests: %d/%d, host utilization: %.3f, known load rate: %.3f)",
		q.Location, q.IsHealthy, q.ServerStats.CurrentRequests, q.ServerStats.RequestCapacity,
		q.ServerStats.ServerUtilization, q.KnownLoadRate)
}

func toMessage(location registry.ServiceLocation) *api.ServiceLocationMsg {
	return &api.ServiceLocationMsg{
		Scope:       location.Scope,
		ServiceName: location.ServiceName,
		HostName:    location.HostName,
		Port:        int32(location.Port),
	}
}
