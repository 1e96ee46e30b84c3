package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"uprpc/loadbalance"
	"uprpc/registry"
)

// DialRouter looks up the routers registered under serviceName, lets the
// balancer pick one, and opens a session to it.
func DialRouter(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, serviceName string, settings Settings) (*RemoteSession, error) {
	instances, err := reg.Discover(serviceName)
	if err != nil {
		return nil, fmt.Errorf("transport: discover %s: %w", serviceName, err)
	}

	instance, err := bal.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("transport: pick router for %s: %w", serviceName, err)
	}

	if settings.Log == nil {
		settings.Log = zap.NewNop()
	}
	settings.Log.Info("connecting to router",
		zap.String("service", serviceName),
		zap.String("addr", instance.Addr),
		zap.String("balancer", bal.Name()),
	)
	return Dial(ctx, instance.Addr, settings)
}
