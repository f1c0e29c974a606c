package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Needs a live etcd: WIRETEST_ETCD_ENDPOINTS=localhost:2379 go test ./registry
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("WIRETEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("WIRETEST_ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Register two receivers
	ep1 := Endpoint{Protocol: "udp", Addr: "127.0.0.1:9001", Weight: 10, Version: "test"}
	ep2 := Endpoint{Protocol: "udp", Addr: "127.0.0.1:9002", Weight: 5, Version: "test"}

	if err := reg.Register(ctx, ep1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, ep2, 10); err != nil {
		t.Fatal(err)
	}

	eps, err := reg.Discover(ctx, "udp")
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expect 2 endpoints, got %d", len(eps))
	}

	// Deregister one
	if err := reg.Deregister(ctx, ep1.Protocol, ep1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	eps, err = reg.Discover(ctx, "udp")
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 1 || eps[0].Addr != ep2.Addr {
		t.Fatalf("expect only %s after deregister, got %v", ep2.Addr, eps)
	}

	// Cleanup
	reg.Deregister(ctx, ep2.Protocol, ep2.Addr)
}
