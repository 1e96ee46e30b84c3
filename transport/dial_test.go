package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uprpc/loadbalance"
	"uprpc/registry"
)

func TestDialRouter(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := l.Accept(); err == nil {
			accepted <- conn
		}
	}()

	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Register("routers", registry.ServiceInstance{Addr: l.Addr().String(), Weight: 1}, 10))

	settings := DefaultSettings()
	settings.HeartbeatInterval = 0
	s, err := DialRouter(context.Background(), reg, &loadbalance.RoundRobinBalancer{}, "routers", settings)
	require.NoError(t, err)
	conn := <-accepted
	defer conn.Close()
	require.NoError(t, s.Close())
}

func TestDialRouterNoInstances(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, err := DialRouter(context.Background(), reg, &loadbalance.RoundRobinBalancer{}, "routers", DefaultSettings())
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestDialRouterUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Register("routers", registry.ServiceInstance{Addr: addr}, 10))
	_, err = DialRouter(context.Background(), reg, &loadbalance.RoundRobinBalancer{}, "routers", DefaultSettings())
	assert.Error(t, err)
}
