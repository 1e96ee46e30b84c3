// Package loadbalance picks one router endpoint out of those the registry
// returns.
//
// Three strategies are implemented:
//   - RoundRobin:      spread sessions evenly over equal routers
//   - WeightedRandom:  routers of different capacity
//   - ConsistentHash:  pin an entity (by key) to the same router while the set is stable
package loadbalance

import (
	"errors"

	"uprpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging).
	Name() string
}

// New returns the balancer with the given name. key is only used by the
// consistent hash strategy.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "roundrobin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "hash", "ConsistentHash":
		return NewConsistentHashBalancer(key), nil
	}
	return nil, errors.New("unknown balancer " + name)
}
