package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uprpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// one full cycle visits every instance in order
	for _, want := range testInstances {
		inst, err := b.Pick(testInstances)
		require.NoError(t, err)
		assert.Equal(t, want.Addr, inst.Addr)
	}

	inst, err := b.Pick(testInstances)
	require.NoError(t, err)
	assert.Equal(t, testInstances[0].Addr, inst.Addr, "wraps around")
}

func TestBalancersEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("k")} {
		_, err := b.Pick(nil)
		assert.ErrorIs(t, err, ErrNoInstances, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		inst, err := b.Pick(testInstances)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// weights are 10:5:10, so :8001 should be picked about twice as often as :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	instances := []registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick(instances)
		require.NoError(t, err)
		seen[inst.Addr] = true
	}
	assert.Len(t, seen, 2)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer("")
	for i := range testInstances {
		b.Add(&testInstances[i])
	}

	inst1, err := b.Get("vehicle-123")
	require.NoError(t, err)
	inst2, err := b.Get("vehicle-123")
	require.NoError(t, err)
	assert.Equal(t, inst1.Addr, inst2.Addr)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, err := b.Get(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		seen[inst.Addr] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashPickIsStable(t *testing.T) {
	b := NewConsistentHashBalancer("vehicle-7")
	first, err := b.Pick(testInstances)
	require.NoError(t, err)

	reversed := []registry.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	again, err := b.Pick(reversed)
	require.NoError(t, err)
	assert.Equal(t, first.Addr, again.Addr)

	// dropping an instance other than the chosen one keeps the choice
	var rest []registry.ServiceInstance
	removed := false
	for _, inst := range testInstances {
		if inst.Addr != first.Addr && !removed {
			removed = true
			continue
		}
		rest = append(rest, inst)
	}
	third, err := b.Pick(rest)
	require.NoError(t, err)
	assert.Equal(t, first.Addr, third.Addr)
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":           "RoundRobin",
		"roundrobin": "RoundRobin",
		"weighted":   "WeightedRandom",
		"hash":       "ConsistentHash",
	} {
		b, err := New(name, "k")
		require.NoError(t, err)
		assert.Equal(t, want, b.Name())
	}
	_, err := New("random", "")
	assert.Error(t, err)
}
