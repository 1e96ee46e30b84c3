package router

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uprpc/client"
	"uprpc/loadbalance"
	"uprpc/message"
	"uprpc/middleware"
	"uprpc/registry"
	"uprpc/server"
	"uprpc/transport"
)

// Routers do not forward to each other, so a responder and its callers must
// land on the same router. A consistent hash balancer keyed by the authority
// gives them that without coordination.
func TestMultiRouterWithEtcd(t *testing.T) {
	endpoints := os.Getenv("UPRPC_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("UPRPC_ETCD_ENDPOINTS not set")
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	serviceName := fmt.Sprintf("uprpc-router-test-%d", time.Now().UnixNano())
	for i := 0; i < 2; i++ {
		settings := DefaultSettings()
		settings.Registry = reg
		settings.ServiceName = serviceName
		settings.Metrics = prometheus.NewRegistry()
		r := NewRouter(settings)

		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		go r.Serve(l)
		t.Cleanup(func() { r.Shutdown(2 * time.Second) })
	}
	require.Eventually(t, func() bool {
		instances, err := reg.Discover(serviceName)
		return err == nil && len(instances) == 2
	}, 5*time.Second, 50*time.Millisecond)

	dial := func() *transport.RemoteSession {
		settings := transport.DefaultSettings()
		settings.HeartbeatInterval = time.Second
		s, err := transport.DialRouter(context.Background(), reg, loadbalance.NewConsistentHashBalancer("vehicle"), serviceName, settings)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}

	srv := server.NewServer(dial(), nil)
	srv.Use(middleware.LoggingMiddleware(nil))
	t.Cleanup(func() { srv.Close() })
	require.NoError(t, srv.RegisterHandler(method, func(ctx context.Context, req *message.Message) *message.Message {
		return &message.Message{Payload: req.Payload}
	}))

	c := client.NewClient(dial(), caller)
	var result *message.Payload
	require.Eventually(t, func() bool {
		result, err = c.InvokeMethod(context.Background(), method, client.NewCallOptions(500), message.NewPayload([]byte("hello"), message.FormatText))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []byte("hello"), result.Data)
	assert.Equal(t, message.FormatText, result.Format)

	for i := 0; i < 10; i++ {
		body := []byte(fmt.Sprintf("call-%d", i))
		result, err := c.InvokeMethod(context.Background(), method, client.NewCallOptions(1000), message.NewPayload(body, message.FormatRaw))
		require.NoError(t, err)
		assert.Equal(t, body, result.Data)
	}
}
