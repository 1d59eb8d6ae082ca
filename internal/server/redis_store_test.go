package server

import (
	"context"
	"testing"
	"time"

	"vodforge/internal/testsupport/redisstub"
)

func TestRedisCounterStoreAllow(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	store := newRedisCounterStore(stub.Addr(), "", 2*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := store.Allow(ctx, "vodforge:upload:10.0.0.1", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("upload %d blocked inside the limit", i)
		}
	}

	allowed, retryAfter, err := store.Allow(ctx, "vodforge:upload:10.0.0.1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("third upload allowed past the limit")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter = %s", retryAfter)
	}

	// A different key keeps its own window.
	allowed, _, err = store.Allow(ctx, "vodforge:upload:10.0.0.2", 2, time.Minute)
	if err != nil || !allowed {
		t.Fatalf("other key: allowed=%v err=%v", allowed, err)
	}
}

func TestRedisCounterStoreSharedAcrossClients(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	first := newRedisCounterStore(stub.Addr(), "", 2*time.Second)
	second := newRedisCounterStore(stub.Addr(), "", 2*time.Second)
	ctx := context.Background()

	if allowed, _, err := first.Allow(ctx, "vodforge:upload:shared", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("first replica: allowed=%v err=%v", allowed, err)
	}
	allowed, _, err := second.Allow(ctx, "vodforge:upload:shared", 1, time.Minute)
	if err != nil {
		t.Fatalf("second replica: %v", err)
	}
	if allowed {
		t.Fatal("limit not shared across replicas")
	}
}
