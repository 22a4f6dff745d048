package domain

import (
	"context"

	"github.com/core-tools/hsu-quaestor/pkg/registry"
)

// Discovery finds endpoints of a named service
type Discovery interface {
	DiscoverServices(ctx context.Context, serviceName string, maxCount int) ([]registry.ServiceLocation, error)
	DiscoverTopServices(ctx context.Context, serviceName string, maxCount int) ([]registry.ServiceLocation, error)
}

// Administration cancels requests running inside a worker
type Administration interface {
	Cancel(ctx context.Context, userName, environment string) (bool, error)
	CancelAll(ctx context.Context) (bool, error)
}
