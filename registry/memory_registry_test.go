package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register("router", inst1, 10))
	require.NoError(t, reg.Register("router", inst2, 10))

	instances, err := reg.Discover("router")
	require.NoError(t, err)
	assert.Equal(t, []ServiceInstance{inst2, inst1}, instances)

	require.NoError(t, reg.Deregister("router", inst1.Addr))
	instances, err = reg.Discover("router")
	require.NoError(t, err)
	assert.Equal(t, []ServiceInstance{inst2}, instances)

	assert.ErrorIs(t, reg.Deregister("router", inst1.Addr), ErrNotRegistered)

	instances, err = reg.Discover("unknown")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestMemoryRegisterReplacesSameAddr(t *testing.T) {
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Register("router", ServiceInstance{Addr: "a", Weight: 1}, 0))
	require.NoError(t, reg.Register("router", ServiceInstance{Addr: "a", Weight: 7}, 0))

	instances, err := reg.Discover("router")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, 7, instances[0].Weight)
}

func TestMemoryWatchKeepsLatest(t *testing.T) {
	reg := NewMemoryRegistry()
	updates := reg.Watch("router")

	require.NoError(t, reg.Register("router", ServiceInstance{Addr: "a"}, 0))
	require.NoError(t, reg.Register("router", ServiceInstance{Addr: "b"}, 0))

	select {
	case list := <-updates:
		assert.Len(t, list, 2)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	require.NoError(t, reg.Deregister("router", "a"))
	assert.Equal(t, []ServiceInstance{{Addr: "b"}}, <-updates)
}
