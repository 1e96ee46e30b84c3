// Package registry keeps track of router endpoints so sessions can find one.
package registry

import "errors"

// ServiceInstance is one registered endpoint.
type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

var ErrNotRegistered = errors.New("registry: instance not registered")

// Registry stores instances per service name. ttl is in seconds; an instance
// whose owner stops renewing it disappears after ttl.
type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
}
