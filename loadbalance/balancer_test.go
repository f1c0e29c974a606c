package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"wiretest/registry"
)

var testEndpoints = []registry.Endpoint{
	{Protocol: "udp", Addr: "10.0.0.1:9000", Weight: 10},
	{Protocol: "udp", Addr: "10.0.0.2:9000", Weight: 5},
	{Protocol: "udp", Addr: "10.0.0.3:9000", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all endpoints in order
	for i := 0; i < 3; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		if ep.Addr != testEndpoints[i].Addr {
			t.Fatalf("pick %d = %s, want %s", i, ep.Addr, testEndpoints[i].Addr)
		}
	}

	// Pick again, should wrap around to first
	ep, _ := b.Pick(testEndpoints)
	if ep.Addr != testEndpoints[0].Addr {
		t.Fatalf("expect wrap around to %s, got %s", testEndpoints[0].Addr, ep.Addr)
	}
}

func TestEmpty(t *testing.T) {
	for _, name := range Names {
		b, err := New(name, "host")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.Pick(nil); !errors.Is(err, ErrNoEndpoints) {
			t.Fatalf("%s: expect ErrNoEndpoints, got %v", name, err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		counts[ep.Addr]++
	}

	// Weight ratio is 10:5:10, so .1 and .3 should be ~2x of .2
	ratio := float64(counts["10.0.0.1:9000"]) / float64(counts["10.0.0.2:9000"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio .1/.2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	eps := []registry.Endpoint{{Addr: "a:1"}, {Addr: "b:1"}}
	if _, err := b.Pick(eps); err != nil {
		t.Fatal(err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testEndpoints {
		b.Add(&testEndpoints[i])
	}

	// Same key should always map to the same endpoint
	ep1, _ := b.Pick("sender-host")
	ep2, _ := b.Pick("sender-host")
	if ep1.Addr != ep2.Addr {
		t.Fatalf("same key mapped to different endpoints: %s vs %s", ep1.Addr, ep2.Addr)
	}

	// Different keys should (likely) map to different endpoints
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, _ := b.Pick(fmt.Sprintf("key-%d", i))
		seen[ep.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different endpoints, got %d", len(seen))
	}
}

func TestKeyedBalancerIsStable(t *testing.T) {
	b := NewKeyedBalancer("sender-host")
	first, err := b.Pick(testEndpoints)
	if err != nil {
		t.Fatal(err)
	}

	// Order of discovery must not matter
	reversed := []registry.Endpoint{testEndpoints[2], testEndpoints[1], testEndpoints[0]}
	again, _ := b.Pick(reversed)
	if again.Addr != first.Addr {
		t.Fatalf("reordered endpoints changed the pick: %s vs %s", first.Addr, again.Addr)
	}
}

func TestNew(t *testing.T) {
	if b, _ := New("", ""); b.Name() != "round_robin" {
		t.Fatalf("default = %s", b.Name())
	}
	if _, err := New("least_conn", ""); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}
